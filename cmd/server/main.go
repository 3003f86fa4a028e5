// Command server boots the model-aware inference proxy: it loads the
// routing config, wires up the shared process-scoped collaborators (HTTP
// client, capability cache, rate limiter, optional Redis stream log), builds
// the gin engine, and serves until a termination signal arrives.
package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"modelproxy/internal/aggregator"
	"modelproxy/internal/capcache"
	"modelproxy/internal/config"
	"modelproxy/internal/eventlog"
	"modelproxy/internal/forwarder"
	"modelproxy/internal/logging"
	"modelproxy/internal/ratelimit"
	"modelproxy/internal/server"
	"modelproxy/internal/settings"
	"modelproxy/internal/streamlog"
	"modelproxy/internal/tracing"
	"modelproxy/internal/wsforward"
)

func main() {
	configPath := flag.String("config", settings.ConfigPath(), "Path to the models routing config file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logging.Setup(logging.Options{Debug: *debug, Level: settings.LogLevel()})

	if settings.AuthRequired() && settings.BearerToken() == "" {
		log.Fatal("AUTH_REQUIRED is set but BEARER_TOKEN is empty")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	traceShutdown, err := tracing.Init(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	}
	defer func() {
		if traceShutdown != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := traceShutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("failed to shut down tracing")
			}
		}
	}()

	provider, err := config.NewProvider(*configPath, settings.ConfigCacheTTL())
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	defer provider.Close()

	httpClient := forwarder.NewHTTPClient()
	caps := capcache.NewCache(settings.CapsCacheTTL(), httpClient)
	sink := eventlog.New(0)
	defer sink.Close()

	var mirror forwarder.StreamMirror
	var streamClient *streamlog.Client
	if redisURL := settings.RedisURL(); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.WithError(err).Fatal("invalid REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis ping failed; SSE mirroring and stream replay will error until it recovers")
		}
		streamClient = streamlog.NewClient(rdb)
		mirror = streamClient
		defer func() { _ = rdb.Close() }()
	} else {
		log.Info("REDIS_URL not set; SSE mirroring and /internal/streams are disabled")
	}

	fwd := forwarder.New(httpClient, caps, sink, mirror)
	wsFwd := wsforward.New(settings.AuthRequired(), settings.BearerToken())
	agg := aggregator.New(provider, httpClient)

	var limiter *ratelimit.Limiter
	if settings.RateLimitRPS() > 0 {
		limiter = ratelimit.New(settings.RateLimitRPS(), settings.RateLimitBurst(), settings.RateLimitIdleTTL())
	}

	engine := server.Build(server.Dependencies{
		Provider:            provider,
		Forwarder:           fwd,
		WS:                  wsFwd,
		Aggregator:          agg,
		StreamLog:           streamClient,
		RateLimiter:         limiter,
		AuthRequired:        settings.AuthRequired(),
		BearerToken:         settings.BearerToken(),
		MaxBodyBytes:        settings.MaxBodyBytes(),
		PublicModels:        settings.PublicModels(),
		PublicHealthDetails: settings.PublicHealthDetails(),
	})

	httpServer := &http.Server{
		Addr:    ":" + settings.Port(),
		Handler: engine,
	}

	go func() {
		log.Infof("model proxy listening on :%s", settings.Port())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout())
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown did not complete in time")
	}
}
