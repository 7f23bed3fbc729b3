package riskrating

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/orcfax/explorer-index/ferrors"
)

const defaultTimeout = 15 * time.Second

// XerberusClient is the concrete RiskRatingSource this module ships: it
// asks the Xerberus risk-rating API for a ticker's current rating.
type XerberusClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewXerberusClient builds a XerberusClient against baseURL (e.g.
// "https://api.xerberus.io/v1"). httpClient may be nil, in which case a
// client with defaultTimeout is used.
func NewXerberusClient(baseURL string, httpClient *http.Client) *XerberusClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &XerberusClient{httpClient: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

type ratingResponse struct {
	Ticker string `json:"ticker"`
	Rating string `json:"rating"`
}

// IsRated implements RiskRatingSource: a ticker is considered rated when
// the API returns a 200 with a non-empty rating field. A 404 means "not
// rated" and is not an error.
func (c *XerberusClient) IsRated(ctx context.Context, ticker string) (bool, error) {
	endpoint := fmt.Sprintf("%s/ratings/%s", c.baseURL, url.PathEscape(ticker))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, ferrors.Transient("riskrating.IsRated", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, ferrors.Transient("riskrating.IsRated", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}

	if resp.StatusCode != http.StatusOK {
		return false, ferrors.Transient("riskrating.IsRated", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var body ratingResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, ferrors.Transient("riskrating.IsRated", fmt.Errorf("decode body: %w", err))
	}

	return body.Rating != "", nil
}
