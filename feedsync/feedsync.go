// Package feedsync reconciles the remote feed manifest with the stored
// feed catalog (spec §4.5). Grounded on the teacher's direct net/http
// fetch-and-decode idiom; the structural-equality short-circuit and the
// six-field diff are implemented with plain Go rather than a generic
// diffing library, matching how the teacher compares small structs.
package feedsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/orcfax/explorer-index/ferrors"
	"github.com/orcfax/explorer-index/model"
	"github.com/orcfax/explorer-index/store"
)

// feedVersion is fixed per spec §4.5's feed_id construction rule.
const feedVersion = "3"

// Manifest is the JSON document at a network's active_feeds_url.
type Manifest struct {
	Meta struct {
		Description string `json:"description"`
		Version     string `json:"version"`
	} `json:"meta"`
	Feeds []ManifestFeed `json:"feeds"`
}

// ManifestFeed is one entry of a Manifest.
type ManifestFeed struct {
	Pair        string  `json:"pair"`
	Label       string  `json:"label"`
	Interval    int     `json:"interval"`
	Deviation   float64 `json:"deviation"`
	Source      string  `json:"source"`
	Calculation string  `json:"calculation"`
	Status      string  `json:"status"`
	Type        string  `json:"type"`
}

// Syncer reconciles a network's feed catalog against its manifest.
type Syncer struct {
	httpClient *http.Client
	store      store.Store
}

// NewSyncer builds a Syncer. httpClient may be nil, in which case
// http.DefaultClient is used.
func NewSyncer(httpClient *http.Client, st store.Store) *Syncer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Syncer{httpClient: httpClient, store: st}
}

// Sync fetches manifestURL and reconciles it against networkID's stored
// feeds. cached is the previous call's returned Manifest (nil on first
// call); when the freshly fetched manifest is structurally equal to
// cached, Sync returns immediately without touching the store. The
// returned Manifest becomes the caller's next-iteration cache.
func (s *Syncer) Sync(ctx context.Context, networkID int64, manifestURL string, cached *Manifest) (*Manifest, error) {
	manifest, err := s.fetchManifest(ctx, manifestURL)
	if err != nil {
		return cached, err
	}

	if cached != nil && reflect.DeepEqual(*cached, *manifest) {
		return cached, nil
	}

	assets, err := s.store.ListAssets(ctx)
	if err != nil {
		return cached, ferrors.Transient("feedsync.Sync", err)
	}

	assetByTicker := make(map[string]model.Asset, len(assets))
	for _, a := range assets {
		assetByTicker[strings.ToUpper(a.Ticker)] = a
	}

	storedFeeds, err := s.store.ListFeeds(ctx, networkID)
	if err != nil {
		return cached, ferrors.Transient("feedsync.Sync", err)
	}

	storedByFeedID := make(map[string]model.Feed, len(storedFeeds))
	for _, f := range storedFeeds {
		storedByFeedID[f.FeedID] = f
	}

	seen := make(map[string]bool, len(manifest.Feeds))

	for _, entry := range manifest.Feeds {
		base, quote, err := splitPair(entry.Label)
		if err != nil {
			continue
		}

		feedID := entry.Type + "/" + entry.Label + "/" + feedVersion
		seen[feedID] = true

		baseAsset, err := s.ensureAsset(ctx, assetByTicker, base)
		if err != nil {
			return cached, err
		}

		quoteAsset, err := s.ensureAsset(ctx, assetByTicker, quote)
		if err != nil {
			return cached, err
		}

		desired := model.Feed{
			NetworkID:         networkID,
			FeedID:            feedID,
			Type:              entry.Type,
			Name:              entry.Label,
			Version:           feedVersion,
			Status:            model.FeedStatusActive,
			SourceType:        mapSourceType(entry.Source),
			FundingType:       mapFundingType(entry.Status),
			CalculationMethod: entry.Calculation,
			HeartbeatInterval: entry.Interval,
			Deviation:         entry.Deviation,
			BaseAssetID:       baseAsset.ID,
			QuoteAssetID:      quoteAsset.ID,
		}

		existing, ok := storedByFeedID[feedID]
		if !ok {
			if err := s.store.CreateFeed(ctx, &desired); err != nil {
				return cached, ferrors.Transient("feedsync.Sync", err)
			}

			continue
		}

		if feedChanged(existing, desired) {
			existing.Name = desired.Name
			existing.SourceType = desired.SourceType
			existing.FundingType = desired.FundingType
			existing.CalculationMethod = desired.CalculationMethod
			existing.HeartbeatInterval = desired.HeartbeatInterval
			existing.Deviation = desired.Deviation

			if err := s.store.UpdateFeed(ctx, &existing); err != nil {
				return cached, ferrors.Transient("feedsync.Sync", err)
			}
		}
	}

	for _, f := range storedFeeds {
		if !seen[f.FeedID] && f.Status == model.FeedStatusActive {
			f.Status = model.FeedStatusInactive

			if err := s.store.UpdateFeed(ctx, &f); err != nil {
				return cached, ferrors.Transient("feedsync.Sync", err)
			}
		}
	}

	return manifest, nil
}

func (s *Syncer) fetchManifest(ctx context.Context, manifestURL string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, ferrors.Transient("feedsync.fetchManifest", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, ferrors.Transient("feedsync.fetchManifest", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ferrors.Transient("feedsync.fetchManifest", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var manifest Manifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, ferrors.Transient("feedsync.fetchManifest", fmt.Errorf("decode body: %w", err))
	}

	return &manifest, nil
}

func (s *Syncer) ensureAsset(ctx context.Context, cache map[string]model.Asset, ticker string) (model.Asset, error) {
	key := strings.ToUpper(ticker)

	if a, ok := cache[key]; ok {
		return a, nil
	}

	asset := model.Asset{Ticker: ticker}
	if err := s.store.CreateAsset(ctx, &asset); err != nil {
		return model.Asset{}, ferrors.Transient("feedsync.ensureAsset", err)
	}

	cache[key] = asset

	return asset, nil
}

// splitPair parses a manifest feed's label (e.g. "ADA-USD" or "ADA/USD")
// into its base and quote tickers.
func splitPair(label string) (base, quote string, err error) {
	sep := "-"
	if strings.Contains(label, "/") {
		sep = "/"
	}

	parts := strings.SplitN(label, sep, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("label %q does not split into exactly two parts", label)
	}

	return parts[0], parts[1], nil
}

func mapSourceType(source string) model.FeedSourceType {
	switch strings.ToLower(source) {
	case "cex":
		return model.FeedSourceCEX
	case "dex":
		return model.FeedSourceDEX
	default:
		return model.FeedSourceNone
	}
}

func mapFundingType(status string) model.FeedFundingType {
	switch strings.ToLower(status) {
	case "showcase":
		return model.FeedFundingShowcase
	case "paid":
		return model.FeedFundingPaid
	case "subsidized":
		return model.FeedFundingSubsidized
	default:
		return model.FeedFundingNone
	}
}

func feedChanged(existing, desired model.Feed) bool {
	return existing.Name != desired.Name ||
		existing.SourceType != desired.SourceType ||
		existing.FundingType != desired.FundingType ||
		existing.CalculationMethod != desired.CalculationMethod ||
		existing.HeartbeatInterval != desired.HeartbeatInterval ||
		existing.Deviation != desired.Deviation
}
