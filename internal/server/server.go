// Package server assembles the gin engine: middleware chain, aggregated
// health/model endpoints, the forwarded OpenAI-compatible surface, the
// stream replay endpoint, the WebSocket upgrade route, and a catch-all that
// forwards anything else through the same sniff→route→forward path.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"modelproxy/internal/aggregator"
	"modelproxy/internal/apierr"
	"modelproxy/internal/config"
	"modelproxy/internal/forwarder"
	"modelproxy/internal/middleware"
	"modelproxy/internal/ratelimit"
	"modelproxy/internal/streamlog"
	"modelproxy/internal/wsforward"
)

// Dependencies bundles every shared, process-scoped collaborator the engine
// wires into its handlers. StreamLog and RateLimiter may be nil to disable
// the corresponding feature; Aggregator and WS back routes that are always
// registered and are dereferenced when those routes are requested.
type Dependencies struct {
	Provider    *config.Provider
	Forwarder   *forwarder.Forwarder
	WS          *wsforward.Forwarder
	Aggregator  *aggregator.Aggregator
	StreamLog   *streamlog.Client // nil disables /internal/streams
	RateLimiter *ratelimit.Limiter

	AuthRequired        bool
	BearerToken         string
	MaxBodyBytes        int64
	PublicModels        bool
	PublicHealthDetails bool
}

// Build assembles the single gin.Engine this proxy serves on: recovery
// first, then request id, metrics, access log, CORS, body limit, auth, rate
// limit, and finally the routes themselves.
func Build(deps Dependencies) *gin.Engine {
	engine := gin.New()

	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Metrics())
	engine.Use(middleware.AccessLog())
	engine.Use(middleware.CORS())
	engine.Use(middleware.BodyLimit(deps.MaxBodyBytes))
	engine.Use(middleware.Auth(deps.AuthRequired, deps.BearerToken))
	if deps.RateLimiter != nil {
		engine.Use(middleware.RateLimit(deps.RateLimiter))
	}

	registerRoutes(engine, deps)
	return engine
}

func registerRoutes(engine *gin.Engine, deps Dependencies) {
	engine.GET("/health", deps.Aggregator.Health(deps.PublicHealthDetails))
	engine.GET("/internal/health", deps.Aggregator.Health(true))
	engine.GET("/v1/models", deps.Aggregator.Models(true, deps.PublicModels))
	engine.GET("/internal/models", deps.Aggregator.Models(false, true))

	engine.GET("/openapi.json", serveOpenAPI)
	engine.GET("/docs", redirectDocs)
	engine.GET("/metrics", middleware.MetricsHandler)

	if deps.StreamLog != nil {
		engine.GET("/internal/streams/:stream_key", streamReplayHandler(deps.StreamLog))
	} else {
		engine.GET("/internal/streams/:stream_key", func(c *gin.Context) {
			apierr.Write(c, apierr.RuntimeUnavailable("stream log backend is not configured"))
		})
	}

	engine.GET("/v1/realtime", wsHandler(deps))

	fwd := forwardHandler(deps)
	for _, route := range forwardedRoutes {
		engine.POST(route, fwd)
	}

	// Any method/path not claimed above is forwarded on the same sniff path,
	// so new upstream routes (vLLM/Ollama additions) never need a code change.
	engine.NoRoute(fwd)
}

// forwardedRoutes is the explicit OpenAI-compatible POST surface this proxy
// recognizes by name; anything else falls through to the NoRoute catch-all.
var forwardedRoutes = []string{
	"/v1/chat/completions",
	"/v1/completions",
	"/v1/embeddings",
	"/v1/responses",
	"/v1/audio/transcriptions",
	"/v1/audio/translations",
	"/v1/images/generations",
	"/tokenize",
	"/detokenize",
	"/pooling",
	"/classify",
	"/score",
	"/rerank",
	"/v1/rerank",
	"/v2/rerank",
}

func redirectDocs(c *gin.Context) {
	c.String(http.StatusOK, "See /openapi.json for this proxy's own meta endpoints; "+
		"each upstream publishes its own docs at its base_url.")
}
