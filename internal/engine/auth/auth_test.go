package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPlayToken(t *testing.T) {
	assert.True(t, HasPlayToken("http://host/live/mac/mac/123.ts?play_token=abc"))
	assert.False(t, HasPlayToken("http://host/live/mac/mac/123.ts"))
	assert.False(t, HasPlayToken("://not a url"))
}

func TestRefreshRotatesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/player_api.php", r.URL.Path)
		assert.Equal(t, "get_link", r.URL.Query().Get("action"))
		assert.Equal(t, "00:1A:79:AA:BB:CC", r.URL.Query().Get("username"))
		assert.Equal(t, "00:1A:79:AA:BB:CC", r.URL.Query().Get("password"))
		assert.Equal(t, "12345", r.URL.Query().Get("stream_id"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token":"freshtoken"}`))
	}))
	defer srv.Close()

	r := New(srv.Client(), "streampull-test")
	rawURL := srv.URL + "/live/mac/mac/12345.ts?play_token=stale&mac=00:1A:79:AA:BB:CC&stream=12345&type=live"
	got := r.Refresh(context.Background(), rawURL)

	assert.Contains(t, got, "play_token=freshtoken")
}

func TestRefreshFallsBackOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New(srv.Client(), "streampull-test")
	rawURL := srv.URL + "/live/mac/mac/12345.ts?play_token=stale&mac=00:1A:79:AA:BB:CC&stream=12345&type=live"
	got := r.Refresh(context.Background(), rawURL)

	assert.Equal(t, rawURL, got)
}

func TestRefreshFallsBackOnMissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	r := New(srv.Client(), "streampull-test")
	rawURL := srv.URL + "/live/mac/mac/12345.ts?play_token=stale&mac=00:1A:79:AA:BB:CC&stream=12345&type=live"
	got := r.Refresh(context.Background(), rawURL)

	assert.Equal(t, rawURL, got)
}

func TestRefreshFallsBackOnMalformedURL(t *testing.T) {
	r := New(http.DefaultClient, "streampull-test")
	rawURL := "://broken"
	got := r.Refresh(context.Background(), rawURL)
	assert.Equal(t, rawURL, got)
}

func TestRefreshFallsBackWhenQueryMissingRequiredParams(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	r := New(srv.Client(), "streampull-test")
	rawURL := srv.URL + "/live/mac/mac/12345.ts?play_token=stale&type=live"
	got := r.Refresh(context.Background(), rawURL)

	assert.Equal(t, rawURL, got)
	assert.False(t, called, "refresh must not call player_api.php when mac/stream are absent")
}
