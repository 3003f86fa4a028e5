package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"modelproxy/internal/aggregator"
	"modelproxy/internal/capcache"
	"modelproxy/internal/config"
	"modelproxy/internal/forwarder"
	"modelproxy/internal/streamlog"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func buildTestEngine(t *testing.T, upstreamURL string) (*gin.Engine, *config.Provider) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  - model: m1
    base_url: `+upstreamURL+`
`), 0o644))

	provider, err := config.NewProvider(path, time.Hour)
	require.NoError(t, err)
	t.Cleanup(provider.Close)

	client := &http.Client{}
	caps := capcache.NewCache(time.Minute, client)
	fwd := forwarder.New(client, caps, nil, nil)

	deps := Dependencies{
		Provider:            provider,
		Forwarder:           fwd,
		Aggregator:          aggregator.New(provider, client),
		MaxBodyBytes:        1 << 20,
		PublicModels:        true,
		PublicHealthDetails: true,
	}
	return Build(deps), provider
}

func TestForwardedRouteReachesUpstream(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/openapi.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	engine, _ := buildTestEngine(t, upstream.URL)

	body := `{"model":"m1","messages":[]}`
	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	require.Equal(t, "/v1/chat/completions", gotPath)
	require.Equal(t, `{"ok":true}`, w.Body.String())
}

func TestForwardedRouteUnknownModel(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	engine, _ := buildTestEngine(t, upstream.URL)

	body := `{"model":"nope","messages":[]}`
	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, 400, w.Code)
	require.Contains(t, w.Body.String(), "unknown_model")
}

func TestCatchAllForwardsUnmappedPath(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	engine, _ := buildTestEngine(t, upstream.URL)

	req := httptest.NewRequest("POST", "/v1/custom/endpoint?model=m1", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	require.Equal(t, "/v1/custom/endpoint", gotPath)
}

func TestHealthAndModelsEndpoints(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	engine, _ := buildTestEngine(t, upstream.URL)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, 200, w.Code)
	require.Contains(t, w.Body.String(), `"status":"ok"`)

	w2 := httptest.NewRecorder()
	engine.ServeHTTP(w2, httptest.NewRequest("GET", "/v1/models", nil))
	require.Equal(t, 200, w2.Code)
	require.Contains(t, w2.Body.String(), `"id":"m1"`)
}

func TestStreamReplayUnavailableWithoutBackend(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	engine, _ := buildTestEngine(t, upstream.URL)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/internal/streams/some-key", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), "api_error")
}

func TestStreamReplayEmitsSSEUntilDone(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	for _, raw := range []string{`{"chunk":"hello "}`, `{"chunk":"world"}`, `{"done":true}`} {
		require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: "replay-key", Values: map[string]any{"json": raw},
		}).Err())
	}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  - model: m1
    base_url: `+upstream.URL+`
`), 0o644))
	provider, err := config.NewProvider(path, time.Hour)
	require.NoError(t, err)
	t.Cleanup(provider.Close)

	client := &http.Client{}
	caps := capcache.NewCache(time.Minute, client)
	engine := Build(Dependencies{
		Provider:     provider,
		Forwarder:    forwarder.New(client, caps, nil, nil),
		Aggregator:   aggregator.New(provider, client),
		StreamLog:    streamlog.NewClient(rdb),
		MaxBodyBytes: 1 << 20,
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/internal/streams/replay-key?block_ms=100", nil))

	require.Equal(t, 200, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	require.Contains(t, body, `data: {"chunk":"hello "}`)
	require.Contains(t, body, `data: {"done":true}`)
}

func TestOpenAPIServedUnauthenticated(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  - model: m1
    base_url: `+upstream.URL+`
`), 0o644))
	provider, err := config.NewProvider(path, time.Hour)
	require.NoError(t, err)
	t.Cleanup(provider.Close)

	client := &http.Client{}
	caps := capcache.NewCache(time.Minute, client)
	deps := Dependencies{
		Provider:     provider,
		Forwarder:    forwarder.New(client, caps, nil, nil),
		Aggregator:   aggregator.New(provider, client),
		MaxBodyBytes: 1 << 20,
		AuthRequired: true,
		BearerToken:  "secret",
	}
	engine := Build(deps)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/openapi.json", nil))
	require.Equal(t, 200, w.Code)

	w2 := httptest.NewRecorder()
	engine.ServeHTTP(w2, httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader("{}")))
	require.Equal(t, 401, w2.Code)
}
