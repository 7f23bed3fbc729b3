// Command explorer-index is the composition root (SPEC_FULL.md §4.11): it
// loads configuration, builds the logger, opens the store, wires every
// pipeline component, backfills any network whose index is still empty,
// and runs the scheduler until an OS signal arrives. Grounded on the
// teacher's own main.go (hardcoded per-network constants, logger.NewLogger,
// signal.Notify on os.Interrupt/syscall.SIGTERM).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/orcfax/explorer-index/archive"
	"github.com/orcfax/explorer-index/backfill"
	"github.com/orcfax/explorer-index/chainindex"
	"github.com/orcfax/explorer-index/common"
	"github.com/orcfax/explorer-index/config"
	"github.com/orcfax/explorer-index/feedsync"
	"github.com/orcfax/explorer-index/ferrors"
	"github.com/orcfax/explorer-index/logger"
	"github.com/orcfax/explorer-index/model"
	"github.com/orcfax/explorer-index/policy"
	"github.com/orcfax/explorer-index/riskrating"
	"github.com/orcfax/explorer-index/scheduler"
	bboltstore "github.com/orcfax/explorer-index/store/bbolt"
	"github.com/orcfax/explorer-index/sync"
)

// networkSeed describes one of the static, well-known Cardano networks
// this module indexes (spec §4.11 step 4). fact_statement_pointer,
// script_token and active_feeds_url are Orcfax-operated constants, not
// environment-configurable — only the chain-index base URL varies by
// deployment.
type networkSeed struct {
	name                 string
	factStatementPointer string
	scriptToken          string
	activeFeedsURL       string
	zeroTime             int64
	zeroSlot             uint64
	slotLength           int64
	tracksArchive        bool
}

func networkSeeds(cfg config.Config) []networkSeed {
	return []networkSeed{
		{
			name:                 "Mainnet",
			factStatementPointer: "d9dc0ca6ba66b974c4bbc46a1373509a80939c4b6925549d90a22843",
			scriptToken:          "4f7261636c6546656564",
			activeFeedsURL:       "https://raw.githubusercontent.com/orcfax/cer-feeds/main/specs/feeds/feeds.json",
			zeroTime:             1596059091000,
			zeroSlot:             4492800,
			slotLength:           1000,
			tracksArchive:        true,
		},
		{
			name:                 "Preview",
			factStatementPointer: "a6ba66b974c4bbc46a1373509a80939c4b6925549d90a22843d9dc0c",
			scriptToken:          "4f7261636c6546656564",
			activeFeedsURL:       "https://raw.githubusercontent.com/orcfax/cer-feeds/main/specs/feeds/feeds.json",
			zeroTime:             1666656000000,
			zeroSlot:             0,
			slotLength:           1000,
			tracksArchive:        false,
		},
	}
}

func (s networkSeed) chainIndexBaseURL(cfg config.Config) string {
	switch s.name {
	case "Mainnet":
		return cfg.MainnetChainIndexBaseURL
	case "Preview":
		return cfg.PreviewChainIndexBaseURL
	default:
		return ""
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}

	log.Info("starting", "node_env", cfg.NodeEnv)

	logContainer := buildLoggerContainer(cfg)

	st, err := openStoreWithRetry(context.Background(), cfg, log)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := seedNetworks(ctx, st, cfg); err != nil {
		return fmt.Errorf("seeding networks: %w", err)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	syncLogger, err := logContainer.GetLogger("sync")
	if err != nil {
		return fmt.Errorf("building sync logger: %w", err)
	}

	archiveLogger, err := logContainer.GetLogger("archive")
	if err != nil {
		return fmt.Errorf("building archive logger: %w", err)
	}

	riskRatingLogger, err := logContainer.GetLogger("riskrating")
	if err != nil {
		return fmt.Errorf("building riskrating logger: %w", err)
	}

	schedulerLogger, err := logContainer.GetLogger("scheduler")
	if err != nil {
		return fmt.Errorf("building scheduler logger: %w", err)
	}

	chainIndexClient := chainindex.NewClient(httpClient)
	feedSync := feedsync.NewSyncer(httpClient, st)
	policyTracker := policy.NewTracker(chainIndexClient, st)
	syncer := sync.NewSyncer(chainIndexClient, st, feedSync, policyTracker, syncLogger)
	backfillPopulator := backfill.NewPopulator(st, syncer)
	archiveIndexer := archive.NewIndexer(
		httpClient, st, archiveLogger,
		[]string{cfg.PrimaryArweaveEndpoint, cfg.SecondaryArweaveEndpoint},
	)
	riskRatingEnricher := riskrating.NewEnricher(
		riskrating.NewXerberusClient("https://api.xerberus.io/v1", httpClient), st, riskRatingLogger,
	)

	if err := backfillEmptyNetworks(ctx, st, policyTracker, backfillPopulator, log); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}

	sched := scheduler.New(st, syncer, archiveIndexer, riskRatingEnricher, schedulerLogger, "")

	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	<-ctx.Done()

	log.Info("shutdown signal received, draining in-flight tick")
	sched.Stop()

	return nil
}

func buildLogger(cfg config.Config) (hclog.Logger, error) {
	base := baseLoggerConfig(cfg)

	if !cfg.AlertsEnabled() {
		return logger.NewLogger(base)
	}

	return logger.NewLoggerWithSinks(base, discordSink(cfg))
}

// buildLoggerContainer is the source of every per-component sub-logger
// (sync, archive, riskrating, scheduler): one LoggerContainerImpl, shared
// so a component name always resolves to the same configured logger,
// with the Discord alerting sink (spec §7 EXPANSION) registered against
// each of them when enabled.
func buildLoggerContainer(cfg config.Config) *logger.LoggerContainerImpl {
	base := baseLoggerConfig(cfg)

	if !cfg.AlertsEnabled() {
		return logger.NewLoggerContainer(base)
	}

	return logger.NewLoggerContainer(base, discordSink(cfg))
}

func baseLoggerConfig(cfg config.Config) logger.LoggerConfig {
	return logger.LoggerConfig{
		LogLevel:      hclog.Info,
		JSONLogFormat: cfg.NodeEnv == config.NodeEnvProduction,
		Name:          "explorer-index",
	}
}

func discordSink(cfg config.Config) hclog.SinkAdapter {
	return logger.NewDiscordSink(cfg.DiscordWebhookURL, string(cfg.NodeEnv))
}

// openStoreWithRetry bounds store-connection readiness at startup — the
// one exception to "never retry inside a handler" (SPEC_FULL.md §7
// EXPANSION): a container-orchestrated datastore may not be reachable
// the instant this process starts.
func openStoreWithRetry(ctx context.Context, cfg config.Config, log hclog.Logger) (*bboltstore.Store, error) {
	return common.ExecuteWithRetry(ctx, func(context.Context) (*bboltstore.Store, error) {
		st, err := bboltstore.Open(cfg.DBHost)
		if err != nil {
			return nil, ferrors.Transient("main.openStore", err)
		}

		return st, nil
	},
		common.WithRetryCount(5),
		common.WithRetryWaitTime(2*time.Second),
		common.WithLogger(log.Named("store")),
		common.WithIsRetryableError(func(err error) bool { return !common.IsContextDoneErr(err) }),
	)
}

func seedNetworks(ctx context.Context, st *bboltstore.Store, cfg config.Config) error {
	existing, err := st.ListNetworks(ctx)
	if err != nil {
		return err
	}

	byName := make(map[string]bool, len(existing))
	for _, n := range existing {
		byName[n.Name] = true
	}

	for _, seed := range networkSeeds(cfg) {
		if byName[seed.name] {
			continue
		}

		net := model.Network{
			Name:                 seed.name,
			FactStatementPointer: seed.factStatementPointer,
			ScriptToken:          seed.scriptToken,
			ChainIndexBaseURL:    seed.chainIndexBaseURL(cfg),
			ActiveFeedsURL:       seed.activeFeedsURL,
			ZeroTime:             seed.zeroTime,
			ZeroSlot:             seed.zeroSlot,
			SlotLength:           seed.slotLength,
			IsEnabled:            true,
			IgnorePolicies:       map[string]bool{},
			TracksArchive:        seed.tracksArchive,
		}

		if err := st.CreateNetwork(ctx, &net); err != nil {
			return err
		}
	}

	return nil
}

// backfillEmptyNetworks populates policy lineage and walks the full slot
// history for every enabled network that has never been indexed (spec
// §4.11 step 6: "Run the Backfill Populator once per network whose store
// is empty").
func backfillEmptyNetworks(
	ctx context.Context, st *bboltstore.Store, policyTracker *policy.Tracker,
	populator *backfill.Populator, log hclog.Logger,
) error {
	networks, err := st.ListNetworks(ctx)
	if err != nil {
		return err
	}

	for i := range networks {
		net := networks[i]
		if !net.IsEnabled {
			continue
		}

		policies, err := st.ListPolicies(ctx, net.ID)
		if err != nil {
			return err
		}

		if len(policies) > 0 {
			continue
		}

		log.Info("backfilling empty network", "network", net.Name)

		if err := policyTracker.Populate(ctx, &net); err != nil {
			return fmt.Errorf("populating policy lineage for %s: %w", net.Name, err)
		}

		if err := populator.Run(ctx, &net); err != nil {
			return fmt.Errorf("backfilling %s: %w", net.Name, err)
		}
	}

	return nil
}
