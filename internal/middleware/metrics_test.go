package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"modelproxy/internal/ratelimit"
)

func TestStatusClass(t *testing.T) {
	require.Equal(t, "2xx", statusClass(200))
	require.Equal(t, "4xx", statusClass(404))
	require.Equal(t, "5xx", statusClass(502))
	require.Equal(t, "error", statusClass(0))
	require.Equal(t, "error", statusClass(-1))
}

func TestMetricsEndpointExposesRequestCounters(t *testing.T) {
	r := newRouter()
	r.Use(Metrics())
	r.GET("/probe", func(c *gin.Context) { c.Status(200) })
	r.GET("/metrics", MetricsHandler)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/probe", nil))
	require.Equal(t, 200, w.Code)

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, w2.Code)
	require.Contains(t, w2.Body.String(), "modelproxy_http_requests_total")
	require.Contains(t, w2.Body.String(), "modelproxy_http_request_duration_seconds")
	require.Contains(t, w2.Body.String(), "modelproxy_http_inflight")
}

func TestRateLimitUpdatesKeyGauge(t *testing.T) {
	r := newRouter()
	limiter := ratelimit.New(10, 10, 0)
	r.Use(RateLimit(limiter))
	r.GET("/probe", func(c *gin.Context) { c.Status(200) })
	r.GET("/metrics", MetricsHandler)

	req := httptest.NewRequest("GET", "/probe", nil)
	req.RemoteAddr = "9.8.7.6:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, 200, w.Code)

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, w2.Code)
	require.Contains(t, w2.Body.String(), "modelproxy_ratelimit_keys")
}
