// Package chainindex is the HTTP client for the Kupo-style chain-index
// service (spec §4.2, §6). It issues matches/datum/metadata requests
// against a per-network base URL and honors conditional-request headers.
// Grounded on the teacher's direct net/http client idiom (a request is
// built by hand, decoded with encoding/json into a typed struct, and
// wrapped into the pipeline's own error taxonomy rather than surfaced
// raw) rather than pulling in a generated client.
package chainindex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/orcfax/explorer-index/ferrors"
	"github.com/orcfax/explorer-index/txmetadata"
)

const defaultTimeout = 30 * time.Second

// Order is the sort order accepted by GET matches.
type Order string

const (
	OldestFirst     Order = "oldest_first"
	MostRecentFirst Order = "most_recent_first"
)

// Point is a (slot, block hash) chain position, as returned inside a
// KupoMatch's created_at/spent_at fields.
type Point struct {
	SlotNo     uint64 `json:"slot_no"`
	HeaderHash string `json:"header_hash"`
}

// Value is the coin/asset bundle carried by a UTxO.
type Value struct {
	Coins  uint64           `json:"coins"`
	Assets map[string]int64 `json:"assets"`
}

// KupoMatch is one element of a GET matches response body (spec §6).
type KupoMatch struct {
	TransactionIndex int     `json:"transaction_index"`
	TransactionID    string  `json:"transaction_id"`
	OutputIndex      int     `json:"output_index"`
	Address          string  `json:"address"`
	Value            Value   `json:"value"`
	DatumHash        *string `json:"datum_hash"`
	DatumType        string  `json:"datum_type"`
	ScriptHash       *string `json:"script_hash"`
	CreatedAt        Point   `json:"created_at"`
	SpentAt          *Point  `json:"spent_at"`
}

// MatchesOptions parametrizes a GET matches request. AssetName restricts
// the match pattern to a single hex asset name under policyID; left
// empty, every asset under policyID matches (the "{policy_id}.*"
// wildcard pattern).
type MatchesOptions struct {
	Order         Order
	AssetName     string
	CreatedAfter  *uint64
	CreatedBefore *uint64
	Unspent       bool
	IfNoneMatch   string
}

// MatchesResult is the outcome of a GET matches call.
type MatchesResult struct {
	NotModified bool
	Matches     []KupoMatch
	Checkpoint  uint64
	ETag        string
}

// Client issues chain-index HTTP requests. It carries no per-network
// state; the base URL is supplied on every call so one Client instance
// serves every configured network.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a Client. httpClient may be nil, in which case a
// client with defaultTimeout is used.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{httpClient: httpClient}
}

// Matches issues GET /matches/{pattern} for policyID against baseURL.
// The asset component of the pattern is opts.AssetName, or "*" when it
// is empty.
func (c *Client) Matches(
	ctx context.Context, baseURL, policyID string, opts MatchesOptions,
) (MatchesResult, error) {
	assetPattern := opts.AssetName
	if assetPattern == "" {
		assetPattern = "*"
	}

	endpoint := fmt.Sprintf(
		"%s/matches/%s.%s", strings.TrimRight(baseURL, "/"), url.PathEscape(policyID), url.PathEscape(assetPattern),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return MatchesResult{}, ferrors.Transient("chainindex.Matches", err)
	}

	q := req.URL.Query()
	if opts.Order != "" {
		q.Set("order", string(opts.Order))
	}

	if opts.CreatedAfter != nil {
		q.Set("created_after", strconv.FormatUint(*opts.CreatedAfter, 10))
	}

	if opts.CreatedBefore != nil {
		q.Set("created_before", strconv.FormatUint(*opts.CreatedBefore, 10))
	}

	if opts.Unspent {
		q.Set("unspent", "")
	}

	req.URL.RawQuery = q.Encode()

	if opts.IfNoneMatch != "" {
		req.Header.Set("If-None-Match", opts.IfNoneMatch)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return MatchesResult{}, ferrors.Transient("chainindex.Matches", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return MatchesResult{NotModified: true}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return MatchesResult{}, ferrors.Transient(
			"chainindex.Matches", fmt.Errorf("unexpected status %d", resp.StatusCode),
		)
	}

	var matches []KupoMatch
	if err := json.NewDecoder(resp.Body).Decode(&matches); err != nil {
		return MatchesResult{}, ferrors.Transient("chainindex.Matches", fmt.Errorf("decode body: %w", err))
	}

	checkpointHeader := resp.Header.Get("x-most-recent-checkpoint")
	etag := resp.Header.Get("etag")

	if checkpointHeader == "" || etag == "" {
		return MatchesResult{}, ferrors.Protocol(
			"chainindex.Matches", fmt.Errorf("missing x-most-recent-checkpoint or etag header"),
		)
	}

	checkpoint, err := strconv.ParseUint(checkpointHeader, 10, 64)
	if err != nil {
		return MatchesResult{}, ferrors.Protocol(
			"chainindex.Matches", fmt.Errorf("x-most-recent-checkpoint is not an integer: %w", err),
		)
	}

	return MatchesResult{Matches: matches, Checkpoint: checkpoint, ETag: etag}, nil
}

// datumResponse is the body of GET /datums/{datum_hash}.
type datumResponse struct {
	Datum *string `json:"datum"`
}

// Datum issues GET /datums/{datum_hash}. It returns ("", false, nil) when
// the chain index reports no datum for the given hash.
func (c *Client) Datum(ctx context.Context, baseURL, datumHash string) (string, bool, error) {
	endpoint := fmt.Sprintf("%s/datums/%s", strings.TrimRight(baseURL, "/"), url.PathEscape(datumHash))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", false, ferrors.Transient("chainindex.Datum", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, ferrors.Transient("chainindex.Datum", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false, ferrors.Transient("chainindex.Datum", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var body datumResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", false, ferrors.Transient("chainindex.Datum", fmt.Errorf("decode body: %w", err))
	}

	if body.Datum == nil {
		return "", false, nil
	}

	return *body.Datum, true, nil
}

// Metadata issues GET /metadata/{slot}?transaction_id=... and decodes the
// response into the shape txmetadata.Decode consumes.
func (c *Client) Metadata(
	ctx context.Context, baseURL string, slot uint64, transactionID string,
) ([]txmetadata.Entry, error) {
	endpoint := fmt.Sprintf("%s/metadata/%d", strings.TrimRight(baseURL, "/"), slot)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, ferrors.Transient("chainindex.Metadata", err)
	}

	q := req.URL.Query()
	q.Set("transaction_id", transactionID)
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ferrors.Transient("chainindex.Metadata", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ferrors.Transient("chainindex.Metadata", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var entries []txmetadata.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, ferrors.Transient("chainindex.Metadata", fmt.Errorf("decode body: %w", err))
	}

	return entries, nil
}
