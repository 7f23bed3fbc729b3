package sync

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/orcfax/explorer-index/chainindex"
	"github.com/orcfax/explorer-index/feedsync"
	"github.com/orcfax/explorer-index/model"
	"github.com/orcfax/explorer-index/policy"
	bboltstore "github.com/orcfax/explorer-index/store/bbolt"
)

func strPtr(s string) *string { return &s }

// buildDatumHex mirrors the datum package's own test helper: a Plutus
// constructor wrapping [[feed_id, validation_ts, [num, den]], sig_group].
func buildDatumHex(t *testing.T) string {
	t.Helper()

	details := []interface{}{
		[]byte("CER/ADA-USD/3"),
		uint64(1700000000000),
		[]interface{}{uint64(5), uint64(20000000)},
	}
	outer := []interface{}{details, []interface{}{make([]byte, 32)}}

	raw, err := cbor.Marshal(cbor.Tag{Number: 121, Content: outer})
	require.NoError(t, err)

	return hex.EncodeToString(raw)
}

func fakeServer(t *testing.T, datumHex string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/active_feeds.json":
			w.Write([]byte(`{"meta":{},"feeds":[]}`))
		case len(r.URL.Path) >= 8 && r.URL.Path[:8] == "/matches":
			w.Header().Set("etag", "newhash")
			w.Header().Set("x-most-recent-checkpoint", "500")
			w.Write([]byte(`[{
				"transaction_id": "tx1",
				"output_index": 0,
				"address": "addr1",
				"value": {"coins": 2000000},
				"datum_hash": "dh1",
				"created_at": {"slot_no": 400, "header_hash": "bh400"}
			}]`))
		case r.URL.Path == "/datums/dh1":
			w.Write([]byte(`{"datum":"` + datumHex + `"}`))
		case len(r.URL.Path) >= 9 && r.URL.Path[:9] == "/metadata":
			w.Write([]byte(`[{"hash":"h","raw":"r","schema":{"1226":{"list":[
				{"map":[{"k":{"int":0},"v":{"string":"urn:fact:1"}},{"k":{"int":1},"v":{"string":"urn:storage:1"}}]}
			]}}}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func buildSyncer(t *testing.T, datumHex string) (*Syncer, *bboltstore.Store, *httptest.Server) {
	t.Helper()

	srv := fakeServer(t, datumHex)
	t.Cleanup(srv.Close)

	st, err := bboltstore.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	client := chainindex.NewClient(nil)
	fs := feedsync.NewSyncer(nil, st)
	pt := policy.NewTracker(client, st)

	return NewSyncer(client, st, fs, pt, nil), st, srv
}

func TestTickSteadyStateInsertsFact(t *testing.T) {
	t.Parallel()

	syncer, st, srv := buildSyncer(t, buildDatumHex(t))

	net := &model.Network{
		ID:                   1,
		ChainIndexBaseURL:    srv.URL,
		ActiveFeedsURL:       srv.URL + "/active_feeds.json",
		FactStatementPointer: "ptr",
		SlotLength:           1000,
		Policies:             []model.Policy{{ID: 1, PolicyID: "p1", StartingSlot: 0}},
	}

	counters, err := syncer.Tick(context.Background(), net)
	require.NoError(t, err)
	require.Equal(t, 1, counters.Inserted)
	require.Equal(t, "newhash", net.LastBlockHash)
	require.Equal(t, uint64(500), net.LastCheckpointSlot)

	facts, err := st.ListUnarchivedFacts(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	require.Equal(t, "urn:fact:1", facts[0].FactURN)
	require.Equal(t, "urn:storage:1", facts[0].StorageURN)
	require.InDelta(t, 2.5e-7, facts[0].Value, 1e-12)
}

func TestTickSteadyStateIsIdempotent(t *testing.T) {
	t.Parallel()

	syncer, st, srv := buildSyncer(t, buildDatumHex(t))

	net := &model.Network{
		ID:                   1,
		ChainIndexBaseURL:    srv.URL,
		ActiveFeedsURL:       srv.URL + "/active_feeds.json",
		FactStatementPointer: "ptr",
		SlotLength:           1000,
		Policies:             []model.Policy{{ID: 1, PolicyID: "p1", StartingSlot: 0}},
	}

	_, err := syncer.Tick(context.Background(), net)
	require.NoError(t, err)

	net.LastBlockHash = "" // force a second full fetch against the same fixture data

	counters, err := syncer.Tick(context.Background(), net)
	require.NoError(t, err)
	require.Equal(t, 0, counters.Inserted)
	require.Equal(t, 1, counters.Skipped)

	facts, err := st.ListUnarchivedFacts(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, facts, 1)
}

func TestIndexWindowQueriesPolicyIDNotFactStatementPointer(t *testing.T) {
	t.Parallel()

	var gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Path) >= 8 && r.URL.Path[:8] == "/matches" {
			gotPath = r.URL.Path
			w.Header().Set("etag", "h")
			w.Header().Set("x-most-recent-checkpoint", "10")
			w.Write([]byte(`[]`))

			return
		}

		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	st, err := bboltstore.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	client := chainindex.NewClient(nil)
	fs := feedsync.NewSyncer(nil, st)
	pt := policy.NewTracker(client, st)
	syncer := NewSyncer(client, st, fs, pt, nil)

	net := &model.Network{ID: 1, ChainIndexBaseURL: srv.URL, FactStatementPointer: "ptr", SlotLength: 1000}
	pol := model.Policy{ID: 1, PolicyID: "rotating-policy"}

	_, _, err = syncer.IndexWindow(context.Background(), net, pol, 0, 100)
	require.NoError(t, err)
	require.Equal(t, "/matches/rotating-policy.*", gotPath)
}

func TestIndexMatchesRejectsHeterogeneousSlots(t *testing.T) {
	t.Parallel()

	syncer, _, srv := buildSyncer(t, buildDatumHex(t))

	net := &model.Network{ID: 1, ChainIndexBaseURL: srv.URL, SlotLength: 1000}
	pol := model.Policy{ID: 1, PolicyID: "p1"}

	matches := []chainindex.KupoMatch{
		{TransactionID: "tx1", OutputIndex: 0, DatumHash: strPtr("dh1"), CreatedAt: chainindex.Point{SlotNo: 100}},
		{TransactionID: "tx1", OutputIndex: 1, DatumHash: strPtr("dh1"), CreatedAt: chainindex.Point{SlotNo: 101}},
	}

	_, err := syncer.IndexMatches(context.Background(), net, pol, matches)
	require.Error(t, err)
}
