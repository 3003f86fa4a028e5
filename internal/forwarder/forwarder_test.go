package forwarder

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"modelproxy/internal/capcache"
	"modelproxy/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newGinContext(t *testing.T, method, target string, body io.Reader) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(method, target, body)
	return c, rec
}

func TestForwardHappyPath(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/openapi.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		require.Equal(t, "m1", r.Header.Get("X-Proxy-Model"))
		require.Empty(t, r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, `{"model":"m1"}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstreamSrv.Close()

	u := config.Upstream{Model: "m1", BaseURL: upstreamSrv.URL}
	caps := capcache.NewCache(time.Minute, upstreamSrv.Client())
	fw := New(upstreamSrv.Client(), caps, nil, nil)

	c, rec := newGinContext(t, http.MethodPost, "/v1/chat/completions", io.NopCloser(
		strings.NewReader(`{"model":"m1"}`)))
	c.Request.Header.Set("Authorization", "Bearer proxy-secret")

	fw.Forward(c, u)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, upstreamSrv.URL, rec.Header().Get("X-Proxy-Upstream"))
	require.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestForwardUpstream404(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstreamSrv.Close()

	u := config.Upstream{Model: "m1", BaseURL: upstreamSrv.URL}
	caps := capcache.NewCache(time.Minute, upstreamSrv.Client())
	fw := New(upstreamSrv.Client(), caps, nil, nil)

	c, rec := newGinContext(t, http.MethodGet, "/v1/models", nil)
	fw.Forward(c, u)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "upstream_404")
}

func TestForwardRouteNotSupported(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"paths":{"/v1/models":{}}}`))
	}))
	defer upstreamSrv.Close()

	u := config.Upstream{Model: "m1", BaseURL: upstreamSrv.URL}
	caps := capcache.NewCache(time.Minute, upstreamSrv.Client())
	fw := New(upstreamSrv.Client(), caps, nil, nil)

	c, rec := newGinContext(t, http.MethodPost, "/v1/embeddings", nil)
	fw.Forward(c, u)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "route_not_found")
}

type recordingMirror struct {
	wrapped string
}

func (m *recordingMirror) Wrap(streamKey string, upstream io.Reader) io.Reader {
	m.wrapped = streamKey
	return upstream
}

func TestForwardMirrorsOnlyStreamingResponsesWithKey(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: chunk\n\n"))
	}))
	defer upstreamSrv.Close()

	u := config.Upstream{Model: "m1", BaseURL: upstreamSrv.URL}
	caps := capcache.NewCache(time.Minute, upstreamSrv.Client())

	mirror := &recordingMirror{}
	fw := New(upstreamSrv.Client(), caps, nil, mirror)

	// Wrong path: even with the header, the mirror must not be invoked.
	c, _ := newGinContext(t, http.MethodPost, "/v1/chat/completions?stream=true", nil)
	c.Request.Header.Set("X-Stream-Key", "key-123")
	fw.Forward(c, u)
	require.Empty(t, mirror.wrapped)

	// Right path but not a streaming request: not mirrored.
	c2, _ := newGinContext(t, http.MethodPost, "/v1/responses", nil)
	c2.Request.Header.Set("X-Stream-Key", "key-123")
	fw.Forward(c2, u)
	require.Empty(t, mirror.wrapped)

	// Streaming /v1/responses without the header: not mirrored.
	c3, _ := newGinContext(t, http.MethodPost, "/v1/responses?stream=true", nil)
	fw.Forward(c3, u)
	require.Empty(t, mirror.wrapped)

	// All three conditions hold: the mirror wraps the response body.
	c4, _ := newGinContext(t, http.MethodPost, "/v1/responses?stream=true", nil)
	c4.Request.Header.Set("X-Stream-Key", "key-123")
	fw.Forward(c4, u)
	require.Equal(t, "key-123", mirror.wrapped)
}

func TestForwardHopByHopHeadersStripped(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Custom", "kept")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstreamSrv.Close()

	u := config.Upstream{Model: "m1", BaseURL: upstreamSrv.URL}
	caps := capcache.NewCache(time.Minute, upstreamSrv.Client())
	fw := New(upstreamSrv.Client(), caps, nil, nil)

	c, rec := newGinContext(t, http.MethodGet, "/v1/models", nil)
	fw.Forward(c, u)

	require.Empty(t, rec.Header().Get("Connection"))
	require.Equal(t, "kept", rec.Header().Get("X-Custom"))
}
