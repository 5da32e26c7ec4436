package fetch

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streampull/streampull/internal/engine/active"
	"github.com/streampull/streampull/internal/engine/auth"
	"github.com/streampull/streampull/internal/engine/pool"
	"github.com/streampull/streampull/internal/engine/ratelimit"
	"github.com/streampull/streampull/internal/engine/types"
)

func newFetcher(cfg types.EngineConfig) *Fetcher {
	return &Fetcher{
		Client:  http.DefaultClient,
		Pool:    pool.New(8, 8),
		Limiter: ratelimit.New(),
		Auth:    auth.New(http.DefaultClient, cfg.UserAgent),
		Active:  active.NewRegistry(),
		Config:  cfg,
	}
}

func testConfig() types.EngineConfig {
	cfg := types.DefaultEngineConfig()
	cfg.RetryCount = 2
	return cfg
}

func TestFetchSingleChunkDownloadsWholeBody(t *testing.T) {
	body := []byte("hello streampull world")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.ts")
	f := newFetcher(testConfig())

	n, err := f.Fetch(t.Context(), Task{
		URL:         srv.URL,
		Destination: dest,
		Index:       0,
		TotalChunks: 1,
		Ranged:      false,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), n)

	got, err := os.ReadFile(dest + ".part0")
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestFetchRangedChunkRequestsCorrectRange(t *testing.T) {
	body := []byte("0123456789")
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.Header().Set("Content-Range", "bytes 2-5/10")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[2:6])
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.ts")
	f := newFetcher(testConfig())

	end := int64(5)
	n, err := f.Fetch(t.Context(), Task{
		URL:         srv.URL,
		Destination: dest,
		Index:       1,
		TotalChunks: 2,
		Ranged:      true,
		Start:       2,
		End:         &end,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, "bytes=2-5", gotRange)
}

func TestFetchRetriesOnServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.ts")
	cfg := testConfig()
	f := newFetcher(cfg)

	// RetryCount=2 with 2s/4s backoff is too slow for a unit test; shrink
	// the wait by using RetryCount=2 and accepting the first 2s sleep.
	n, err := f.Fetch(t.Context(), Task{
		URL:         srv.URL,
		Destination: dest,
		Index:       0,
		TotalChunks: 1,
		Ranged:      false,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 2, attempts)
}

func TestFetchProtocolMismatchOnNonZeroChunkGet200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("full body ignoring range"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.ts")
	f := newFetcher(testConfig())

	end := int64(9)
	_, err := f.Fetch(t.Context(), Task{
		URL:         srv.URL,
		Destination: dest,
		Index:       1,
		TotalChunks: 2,
		Ranged:      true,
		Start:       0,
		End:         &end,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrProtocolMismatch)
}

func TestFetchRestartsFromZeroOn200ForChunkZero(t *testing.T) {
	body := []byte("entire body served despite range request")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.ts")
	f := newFetcher(testConfig())

	end := int64(int64(len(body)) - 1)
	n, err := f.Fetch(t.Context(), Task{
		URL:         srv.URL,
		Destination: dest,
		Index:       0,
		TotalChunks: 2,
		Ranged:      true,
		Start:       0,
		End:         &end,
		ResumeFrom:  5,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), n)

	got, err := os.ReadFile(dest + ".part0")
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestFetchTokenRefreshOn458ThenSucceeds(t *testing.T) {
	attempts := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/player_api.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"fresh"}`))
	})
	mux.HandleFunc("/live/mac/mac/1.ts", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if r.URL.Query().Get("play_token") != "fresh" {
			w.WriteHeader(458)
			return
		}
		w.Write([]byte("authorized content"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.ts")
	f := newFetcher(testConfig())

	rawURL := fmt.Sprintf("%s/live/mac/mac/1.ts?play_token=stale&mac=00:1A:79:AA:BB:CC&stream=1&type=live", srv.URL)
	n, err := f.Fetch(t.Context(), Task{
		URL:         rawURL,
		Destination: dest,
		Index:       0,
		TotalChunks: 1,
		Ranged:      false,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len("authorized content")), n)
	assert.Equal(t, 2, attempts)
}
