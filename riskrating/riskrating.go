// Package riskrating is the Risk-Rating Enrichment side task (spec
// SPEC_FULL.md §4.10): on its own timer, independent of the main
// scheduler tick, it asks a third-party rating source whether each
// unrated asset's ticker carries a Xerberus risk rating and persists the
// boolean onto the Asset record. Grounded on feedsync's direct
// net/http-fetch-and-decode idiom; RiskRatingSource is specified only as
// an interface, per spec §1 ("helper conversions" / third-party
// enrichment are external collaborators).
package riskrating

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/orcfax/explorer-index/ferrors"
	"github.com/orcfax/explorer-index/store"
)

// RiskRatingSource reports whether ticker carries a Xerberus risk
// rating. This module ships one concrete HTTP-polling implementation
// (Client, below); the interface is the contract the Enricher consumes.
type RiskRatingSource interface {
	IsRated(ctx context.Context, ticker string) (bool, error)
}

// Enricher runs the periodic enrichment pass. It never blocks, and is
// never blocked by, the main scheduler tick (spec SPEC_FULL.md §4.10):
// failures are logged and left for the next timer fire, never retried
// within the same Run call.
type Enricher struct {
	source RiskRatingSource
	store  store.Store
	logger hclog.Logger
}

// NewEnricher builds an Enricher.
func NewEnricher(source RiskRatingSource, st store.Store, logger hclog.Logger) *Enricher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Enricher{source: source, store: st, logger: logger}
}

// Result summarizes one Run call.
type Result struct {
	Checked int
	Rated   int
	Failed  int
}

// Run lists every asset with HasXerberusRiskRating == false, queries the
// source for each, and persists true for the ones the source reports as
// rated. A per-asset failure is logged and skipped; Run always returns a
// nil error unless listing the assets themselves fails.
func (e *Enricher) Run(ctx context.Context) (Result, error) {
	var result Result

	assets, err := e.store.ListAssets(ctx)
	if err != nil {
		return result, ferrors.Transient("riskrating.Run", err)
	}

	for _, asset := range assets {
		if asset.HasXerberusRiskRating {
			continue
		}

		result.Checked++

		rated, err := e.source.IsRated(ctx, asset.Ticker)
		if err != nil {
			e.logger.Warn("risk rating lookup failed", "ticker", asset.Ticker, "err", err)
			result.Failed++

			continue
		}

		if !rated {
			continue
		}

		asset.HasXerberusRiskRating = true

		if err := e.store.UpdateAsset(ctx, &asset); err != nil {
			e.logger.Warn("risk rating persist failed", "ticker", asset.Ticker, "err", err)
			result.Failed++

			continue
		}

		result.Rated++
	}

	return result, nil
}
