package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orcfax/explorer-index/archive"
	"github.com/orcfax/explorer-index/chainindex"
	"github.com/orcfax/explorer-index/feedsync"
	"github.com/orcfax/explorer-index/model"
	"github.com/orcfax/explorer-index/policy"
	"github.com/orcfax/explorer-index/riskrating"
	bboltstore "github.com/orcfax/explorer-index/store/bbolt"
	"github.com/orcfax/explorer-index/sync"
)

func openTestStore(t *testing.T) *bboltstore.Store {
	t.Helper()

	s, err := bboltstore.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func newTestScheduler(t *testing.T, srv *httptest.Server) (*Scheduler, *bboltstore.Store) {
	t.Helper()

	st := openTestStore(t)
	client := chainindex.NewClient(srv.Client())
	feedSync := feedsync.NewSyncer(srv.Client(), st)
	policyTracker := policy.NewTracker(client, st)
	syncer := sync.NewSyncer(client, st, feedSync, policyTracker, nil)
	archiveIndexer := archive.NewIndexer(srv.Client(), st, nil, []string{srv.URL})

	sched := New(st, syncer, archiveIndexer, nil, nil, "")

	return sched, st
}

func TestRunOnceSkipsDisabledNetworks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	sched, st := newTestScheduler(t, srv)
	ctx := context.Background()

	net := model.Network{Name: "disabled", IsEnabled: false, ChainIndexBaseURL: srv.URL}
	require.NoError(t, st.CreateNetwork(ctx, &net))

	require.NoError(t, sched.RunOnce(ctx))
}

func TestFireSkipsWhenAlreadyRunning(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	sched, _ := newTestScheduler(t, srv)

	sched.running.Store(true)
	defer sched.running.Store(false)

	sched.fire()

	require.True(t, sched.running.Load())
}

func TestStartStopRunsRiskRatingLoop(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	st := openTestStore(t)
	ctx := context.Background()

	ada := model.Asset{Ticker: "ADA"}
	require.NoError(t, st.CreateAsset(ctx, &ada))

	source := &countingSource{}
	enricher := riskrating.NewEnricher(source, st, nil)

	client := chainindex.NewClient(srv.Client())
	feedSync := feedsync.NewSyncer(srv.Client(), st)
	policyTracker := policy.NewTracker(client, st)
	syncer := sync.NewSyncer(client, st, feedSync, policyTracker, nil)
	archiveIndexer := archive.NewIndexer(srv.Client(), st, nil, []string{srv.URL})

	sched := New(st, syncer, archiveIndexer, enricher, nil, "")
	sched.riskRatingInterval = 10 * time.Millisecond

	require.NoError(t, sched.Start())

	require.Eventually(t, func() bool { return source.calls.Load() > 0 }, time.Second, 5*time.Millisecond)

	sched.Stop()
}

type countingSource struct {
	calls atomic.Int32
}

func (c *countingSource) IsRated(_ context.Context, _ string) (bool, error) {
	c.calls.Add(1)

	return false, nil
}
