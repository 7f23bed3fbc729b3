package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orcfax/explorer-index/model"
	bboltstore "github.com/orcfax/explorer-index/store/bbolt"
)

func openTestStore(t *testing.T) *bboltstore.Store {
	t.Helper()

	s, err := bboltstore.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

const validationJSON = `{
  "isBasedOn": {"identifier": "urn:node:abc"},
  "contributor": {"name": "Orcfax Node 1", "locality": "Global"},
  "additionalType": [{
    "recordedIn": {
      "description": {"sha256": "deadbeef"},
      "hasPart": [{"text": "2026-01-15T00:00:00Z"}]
    }
  }]
}`

const messageJSON = `{
  "isBasedOn": {"additionalType": "Central Exchange Data"},
  "sender": "https://api.kraken.com/v0/some/path",
  "recipient": "did:key:abc123"
}`

func buildBundle(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	files := map[string]string{
		"bundle/validation-feed.json":                     validationJSON,
		"bundle/message-kraken-2026-01-15T00_00_00Z.json": messageJSON,
	}

	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(content)), Mode: 0600}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	return buf.Bytes()
}

func newBundleServer(t *testing.T) *httptest.Server {
	t.Helper()

	bundle := buildBundle(t)

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-tar+gzip")
		_, _ = w.Write(bundle)
	}))
}

func TestRunArchivesUnindexedFact(t *testing.T) {
	t.Parallel()

	srv := newBundleServer(t)
	defer srv.Close()

	st := openTestStore(t)
	ctx := context.Background()

	net := model.Network{Name: "Mainnet", TracksArchive: true}
	require.NoError(t, st.CreateNetwork(ctx, &net))

	fact := model.FactStatement{
		NetworkID:  net.ID,
		FactURN:    "urn:fact:1",
		StorageURN: "123456789012/feed/statement", // 12-char skip leaves "feed/statement"
	}
	require.NoError(t, st.InsertFact(ctx, &fact))

	idx := NewIndexer(srv.Client(), st, nil, []string{srv.URL})

	result, err := idx.Run(ctx, &net)
	require.NoError(t, err)
	require.Equal(t, 1, result.Processed)
	require.Equal(t, 0, result.Failed)

	unarchived, err := st.ListUnarchivedFacts(ctx, net.ID)
	require.NoError(t, err)
	require.Empty(t, unarchived)

	nodes, err := st.ListNodes(ctx, net.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Equal(t, "urn:node:abc", nodes[0].NodeURN)

	sources, err := st.ListSources(ctx, net.ID)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.Equal(t, model.SourceTypeCEXAPI, sources[0].Type)
	require.Equal(t, "https://api.kraken.com", sources[0].Sender)
}

func TestRunNoOpForNetworksNotTrackingArchive(t *testing.T) {
	t.Parallel()

	srv := newBundleServer(t)
	defer srv.Close()

	st := openTestStore(t)
	ctx := context.Background()

	net := model.Network{Name: "Preview", TracksArchive: false}
	require.NoError(t, st.CreateNetwork(ctx, &net))

	fact := model.FactStatement{NetworkID: net.ID, FactURN: "urn:fact:1", StorageURN: "123456789012/x"}
	require.NoError(t, st.InsertFact(ctx, &fact))

	idx := NewIndexer(srv.Client(), st, nil, []string{srv.URL})

	result, err := idx.Run(ctx, &net)
	require.NoError(t, err)
	require.Equal(t, Result{}, result)

	unarchived, err := st.ListUnarchivedFacts(ctx, net.ID)
	require.NoError(t, err)
	require.Len(t, unarchived, 1)
}

func TestResolveSourceRotatesOnRecipientChange(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	net := model.Network{Name: "Mainnet"}
	require.NoError(t, st.CreateNetwork(ctx, &net))

	idx := NewIndexer(http.DefaultClient, st, nil, nil)
	cache := &entityCache{}

	first, err := idx.resolveSource(ctx, &net, cache, "kraken", model.SourceTypeCEXAPI, "https://api.kraken.com", "did:key:old")
	require.NoError(t, err)
	require.Equal(t, "active", first.Status)

	second, err := idx.resolveSource(ctx, &net, cache, "kraken", model.SourceTypeCEXAPI, "https://api.kraken.com", "did:key:new")
	require.NoError(t, err)
	require.Equal(t, "active", second.Status)
	require.NotEqual(t, first.ID, second.ID)

	sources, err := st.ListSources(ctx, net.ID)
	require.NoError(t, err)
	require.Len(t, sources, 2)

	for _, s := range sources {
		if s.Recipient == "did:key:old" {
			require.Equal(t, "inactive", s.Status)
		}
	}
}

func TestExtractSourceNameFromFilename(t *testing.T) {
	t.Parallel()

	require.Equal(t, "kraken", extractSourceName("message-kraken-2026-01-15T00_00_00Z.json"))
}

func TestNormalizeSenderStripsQueryAndPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://api.kraken.com", normalizeSender("https://api.kraken.com/v0/some/path?x=1"))
	require.Equal(t, "not-a-url", normalizeSender("not-a-url"))
}
