// Package scheduler is the periodic trigger (spec §4.10/§5, §6 "Scheduler
// surface"): on a cron-style tick it runs the Incremental Syncer (which
// itself reconciles feeds and policy lineage first, per spec §4.8 step 1)
// and the Archive Indexer for every enabled network, sequentially. A
// second, independent timer drives the Risk-Rating Enrichment side task
// (SPEC_FULL.md §4.10), which never blocks and is never blocked by the
// main tick. Grounded on canopy-network-canopyx's app/controller/app.go
// cron wiring (robfig/cron/v3 with a Recover chain-link, a bounded-
// duration context per tick), adapted from its single-reconcile-func
// shape to our multi-stage per-network pipeline.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"

	"github.com/orcfax/explorer-index/archive"
	"github.com/orcfax/explorer-index/model"
	"github.com/orcfax/explorer-index/riskrating"
	"github.com/orcfax/explorer-index/store"
	"github.com/orcfax/explorer-index/sync"
)

// DefaultCronSpec fires every 10 minutes, UTC (spec §5, §6).
const DefaultCronSpec = "*/10 * * * *"

// DefaultRiskRatingInterval is the Risk-Rating Enrichment side task's own
// timer period (SPEC_FULL.md §4.10: "default hourly").
const DefaultRiskRatingInterval = time.Hour

// defaultTickTimeout bounds one full tick (every enabled network,
// sequentially) so a wedged upstream cannot stall the scheduler forever.
const defaultTickTimeout = 8 * time.Minute

// Scheduler runs the pipeline's per-tick stages across every enabled
// network, once per cron fire. Ticks never overlap: a tick that fires
// while the previous one is still running is skipped and logged, not
// queued (spec SPEC_FULL.md §9, "skip if running").
type Scheduler struct {
	store          store.Store
	syncer         *sync.Syncer
	archiveIndexer *archive.Indexer
	riskRating     *riskrating.Enricher
	logger         hclog.Logger

	cronSpec           string
	riskRatingInterval time.Duration

	cron     *cron.Cron
	running  atomic.Bool
	stopRisk chan struct{}
	riskDone chan struct{}
}

// New builds a Scheduler. cronSpec defaults to DefaultCronSpec when
// empty. riskRating may be nil, in which case the enrichment timer is
// never started.
func New(
	st store.Store, syncer *sync.Syncer, archiveIndexer *archive.Indexer,
	riskRating *riskrating.Enricher, logger hclog.Logger, cronSpec string,
) *Scheduler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	if cronSpec == "" {
		cronSpec = DefaultCronSpec
	}

	return &Scheduler{
		store:              st,
		syncer:             syncer,
		archiveIndexer:     archiveIndexer,
		riskRating:         riskRating,
		logger:             logger,
		cronSpec:           cronSpec,
		riskRatingInterval: DefaultRiskRatingInterval,
	}
}

// Start registers the cron job, begins firing it, and (if a risk-rating
// Enricher was supplied) starts its independent timer goroutine.
func (s *Scheduler) Start() error {
	s.cron = cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.Recover(cronLogAdapter{s.logger})))

	if _, err := s.cron.AddFunc(s.cronSpec, s.fire); err != nil {
		return err
	}

	s.cron.Start()

	if s.riskRating != nil {
		s.stopRisk = make(chan struct{})
		s.riskDone = make(chan struct{})

		go s.runRiskRatingLoop()
	}

	return nil
}

// Stop halts the cron trigger and the risk-rating timer, waiting for any
// in-flight work to drain.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	if s.stopRisk != nil {
		close(s.stopRisk)
		<-s.riskDone
	}
}

// runRiskRatingLoop drives the Risk-Rating Enrichment side task on its
// own timer, independent of the main scheduler tick (SPEC_FULL.md §4.10).
func (s *Scheduler) runRiskRatingLoop() {
	defer close(s.riskDone)

	ticker := time.NewTicker(s.riskRatingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopRisk:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), defaultTickTimeout)
			result, err := s.riskRating.Run(ctx)
			cancel()

			if err != nil {
				s.logger.Error("risk rating enrichment failed", "err", err)

				continue
			}

			if result.Checked > 0 {
				s.logger.Info("risk rating enrichment complete", "checked", result.Checked, "rated", result.Rated, "failed", result.Failed)
			}
		}
	}
}

// fire is the cron callback: skip-if-running, then RunOnce with a bounded
// timeout.
func (s *Scheduler) fire() {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("tick already in progress, skipping this fire")

		return
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), defaultTickTimeout)
	defer cancel()

	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("tick failed", "err", err)
	}
}

// RunOnce processes every enabled network sequentially (spec §5:
// "processes networks sequentially"). A failure on one network is logged
// and does not block the rest.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	networks, err := s.store.ListNetworks(ctx)
	if err != nil {
		return err
	}

	for i := range networks {
		net := networks[i]
		if !net.IsEnabled {
			continue
		}

		s.processNetwork(ctx, &net)
	}

	return nil
}

func (s *Scheduler) processNetwork(ctx context.Context, net *model.Network) {
	logger := s.logger.With("network", net.Name)

	counters, err := s.syncer.Tick(ctx, net)
	if err != nil {
		logger.Error("incremental sync failed", "err", err)

		return
	}

	logger.Info("incremental sync complete", "inserted", counters.Inserted, "skipped", counters.Skipped)

	result, err := s.archiveIndexer.Run(ctx, net)
	if err != nil {
		logger.Error("archive indexing failed", "err", err)

		return
	}

	if result.Processed > 0 || result.Failed > 0 {
		logger.Info("archive indexing complete", "processed", result.Processed, "failed", result.Failed)
	}
}

// cronLogAdapter satisfies cron.Logger with an hclog.Logger.
type cronLogAdapter struct {
	logger hclog.Logger
}

func (a cronLogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, keysAndValues...)
}

func (a cronLogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, append([]interface{}{"err", err}, keysAndValues...)...)
}
