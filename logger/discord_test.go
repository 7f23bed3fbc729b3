package logger

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func TestDiscordSinkAcceptFiltersBelowWarn(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewDiscordSink(server.URL, "test")

	sink.Accept("indexer", hclog.Debug, "noisy", nil)
	sink.Accept("indexer", hclog.Info, "noisy", nil)

	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 0, calls.Load())
}

func TestDiscordSinkAcceptPostsWarnAndError(t *testing.T) {
	var (
		calls   atomic.Int32
		payload discordPayload
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewDiscordSink(server.URL, "production")
	sink.Accept("archive", hclog.Error, "bundle fetch failed", "fact_urn", "urn:fact:1")

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Contains(t, payload.Content, "production: ")
	require.Contains(t, payload.Content, "bundle fetch failed")
}
