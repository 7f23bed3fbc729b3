package backfill

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/orcfax/explorer-index/model"
	bboltstore "github.com/orcfax/explorer-index/store/bbolt"
	"github.com/stretchr/testify/require"
)

type recordingIndexer struct {
	windows []windowCall
}

type windowCall struct {
	policyID string
	from, to uint64
}

func (r *recordingIndexer) IndexWindow(
	_ context.Context, _ *model.Network, policy model.Policy, from, to uint64,
) (string, uint64, error) {
	r.windows = append(r.windows, windowCall{policyID: policy.PolicyID, from: from, to: to})

	return "blockhash", to, nil
}

func TestRunWalksDaySizedWindows(t *testing.T) {
	t.Parallel()

	st, err := bboltstore.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.CreateNetwork(context.Background(), &model.Network{}))

	now := time.Now().UTC()
	net := &model.Network{
		ID:         1,
		ZeroTime:   now.Add(-10 * 24 * time.Hour).UnixMilli(),
		ZeroSlot:   0,
		SlotLength: 1000,
		Policies:   []model.Policy{{PolicyID: "p1", StartingSlot: 0}},
	}

	indexer := &recordingIndexer{}
	pop := NewPopulator(st, indexer)

	require.NoError(t, pop.Run(context.Background(), net))

	require.GreaterOrEqual(t, len(indexer.windows), 9)
	require.Equal(t, "p1", indexer.windows[0].policyID)

	for i := 1; i < len(indexer.windows); i++ {
		require.Equal(t, indexer.windows[i-1].to, indexer.windows[i].from)
	}
}

func TestRunAttributesWindowsToRotatedPolicy(t *testing.T) {
	t.Parallel()

	st, err := bboltstore.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	now := time.Now().UTC()
	net := &model.Network{
		ID:         1,
		ZeroTime:   now.Add(-3 * 24 * time.Hour).UnixMilli(),
		ZeroSlot:   0,
		SlotLength: 1000,
		Policies: []model.Policy{
			{PolicyID: "p1", StartingSlot: 0},
			{PolicyID: "p2", StartingSlot: 86400 + 1},
		},
	}

	indexer := &recordingIndexer{}
	pop := NewPopulator(st, indexer)

	require.NoError(t, pop.Run(context.Background(), net))

	sawP2 := false

	for _, w := range indexer.windows {
		if w.policyID == "p2" {
			sawP2 = true
		}
	}

	require.True(t, sawP2)
}

func TestRunNoopWithoutPolicies(t *testing.T) {
	t.Parallel()

	st, err := bboltstore.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	indexer := &recordingIndexer{}
	pop := NewPopulator(st, indexer)

	require.NoError(t, pop.Run(context.Background(), &model.Network{ID: 1}))
	require.Empty(t, indexer.windows)
}
