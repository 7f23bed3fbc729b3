package chainindex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/orcfax/explorer-index/ferrors"
	"github.com/stretchr/testify/require"
)

func TestMatchesParsesHeadersAndBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "oldest_first", r.URL.Query().Get("order"))
		w.Header().Set("etag", "abcd")
		w.Header().Set("x-most-recent-checkpoint", "100")
		w.Write([]byte(`[{"transaction_id":"tx1","output_index":0,"address":"addr1"}]`))
	}))
	defer srv.Close()

	client := NewClient(nil)

	result, err := client.Matches(context.Background(), srv.URL, "policy1", MatchesOptions{Order: OldestFirst})
	require.NoError(t, err)
	require.False(t, result.NotModified)
	require.Equal(t, uint64(100), result.Checkpoint)
	require.Equal(t, "abcd", result.ETag)
	require.Len(t, result.Matches, 1)
	require.Equal(t, "tx1", result.Matches[0].TransactionID)
}

func TestMatchesDefaultsAssetPatternToWildcard(t *testing.T) {
	t.Parallel()

	var gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("etag", "abcd")
		w.Header().Set("x-most-recent-checkpoint", "100")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := NewClient(nil)

	_, err := client.Matches(context.Background(), srv.URL, "policy1", MatchesOptions{})
	require.NoError(t, err)
	require.Equal(t, "/matches/policy1.*", gotPath)
}

func TestMatchesHonorsAssetName(t *testing.T) {
	t.Parallel()

	var gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("etag", "abcd")
		w.Header().Set("x-most-recent-checkpoint", "100")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := NewClient(nil)

	_, err := client.Matches(context.Background(), srv.URL, "policy1", MatchesOptions{AssetName: "deadbeef"})
	require.NoError(t, err)
	require.Equal(t, "/matches/policy1.deadbeef", gotPath)
}

func TestMatchesNotModified(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "abcd", r.Header.Get("If-None-Match"))
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	client := NewClient(nil)

	result, err := client.Matches(context.Background(), srv.URL, "policy1", MatchesOptions{IfNoneMatch: "abcd"})
	require.NoError(t, err)
	require.True(t, result.NotModified)
}

func TestMatchesMissingHeadersIsProtocolViolation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := NewClient(nil)

	_, err := client.Matches(context.Background(), srv.URL, "policy1", MatchesOptions{})
	require.Error(t, err)
	require.True(t, ferrors.Is(err, ferrors.ProtocolViolation))
}

func TestDatumFoundAndMissing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/datums/present" {
			w.Write([]byte(`{"datum":"deadbeef"}`))

			return
		}

		w.Write([]byte(`{"datum":null}`))
	}))
	defer srv.Close()

	client := NewClient(nil)

	hexDatum, found, err := client.Datum(context.Background(), srv.URL, "present")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "deadbeef", hexDatum)

	_, found, err = client.Datum(context.Background(), srv.URL, "absent")
	require.NoError(t, err)
	require.False(t, found)
}

func TestMetadataRoundTrip(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "tx1", r.URL.Query().Get("transaction_id"))
		w.Write([]byte(`[{"hash":"h","raw":"r","schema":{"1226":{"list":[]}}}]`))
	}))
	defer srv.Close()

	client := NewClient(nil)

	entries, err := client.Metadata(context.Background(), srv.URL, 100, "tx1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "h", entries[0].Hash)
}

func TestMatchesTransientOnServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(nil)

	_, err := client.Matches(context.Background(), srv.URL, "policy1", MatchesOptions{})
	require.Error(t, err)
	require.True(t, ferrors.Is(err, ferrors.TransientFetch))
}
