package aggregator

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"modelproxy/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func writeTestConfig(t *testing.T, body string) *config.Provider {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	p, err := config.NewProvider(path, time.Hour)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestModelsSortedAndPublicGating(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	provider := writeTestConfig(t, `
models:
  - model: zeta
    base_url: `+upstream.URL+`
  - model: alpha
    base_url: `+upstream.URL+`
`)

	agg := New(provider, upstream.Client())

	r := gin.New()
	r.GET("/v1/models", agg.Models(true, true))
	r.GET("/v1/models-disabled", agg.Models(true, false))
	r.GET("/internal/models", agg.Models(false, false))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/models", nil))
	require.Equal(t, 200, w.Code)
	require.Contains(t, w.Body.String(), `"id":"alpha"`)
	require.Less(t, strings.Index(w.Body.String(), `"id":"alpha"`), strings.Index(w.Body.String(), `"id":"zeta"`))

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest("GET", "/v1/models-disabled", nil))
	require.Equal(t, 404, w2.Code)

	w3 := httptest.NewRecorder()
	r.ServeHTTP(w3, httptest.NewRequest("GET", "/internal/models", nil))
	require.Equal(t, 200, w3.Code)
}

func TestHealthAggregatesAcrossUpstreams(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer unhealthy.Close()

	provider := writeTestConfig(t, `
models:
  - model: good
    base_url: `+healthy.URL+`
  - model: bad
    base_url: `+unhealthy.URL+`
`)

	agg := New(provider, http.DefaultClient)

	r := gin.New()
	r.GET("/health", agg.Health(false))
	r.GET("/internal/health", agg.Health(true))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, 200, w.Code)
	require.Contains(t, w.Body.String(), `"status":"degraded"`)
	require.NotContains(t, w.Body.String(), "upstreams")

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest("GET", "/internal/health", nil))
	require.Equal(t, 200, w2.Code)
	require.Contains(t, w2.Body.String(), "upstreams")
}
