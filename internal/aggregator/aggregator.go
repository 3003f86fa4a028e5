// Package aggregator serves fleet-wide views across all configured
// upstreams: aggregated health across distinct upstream base URLs and the
// sorted model listing, each with a "public" variant that can be narrowed or
// hidden and an "internal" variant that always shows full detail.
package aggregator

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"modelproxy/internal/apierr"
	"modelproxy/internal/capcache"
	"modelproxy/internal/config"
)

// Aggregator fans health and model-listing requests out across the
// distinct base_urls in the current config snapshot.
type Aggregator struct {
	provider *config.Provider
	client   *http.Client
}

// New builds an Aggregator against the shared config provider and HTTP client.
func New(provider *config.Provider, client *http.Client) *Aggregator {
	return &Aggregator{provider: provider, client: client}
}

// UpstreamHealth is one base_url's health check result.
type UpstreamHealth struct {
	OK        bool     `json:"ok"`
	LatencyMS int64    `json:"latency_ms"`
	Models    []string `json:"models"`
	Error     string   `json:"error,omitempty"`
}

// HealthPayload is the /health and /internal/health response body.
type HealthPayload struct {
	Status    string                    `json:"status"`
	Upstreams map[string]UpstreamHealth `json:"upstreams,omitempty"`
}

// probeTimeout bounds a single upstream health probe so one hung backend
// cannot stall the aggregated view behind the full UPSTREAM_TIMEOUT.
const probeTimeout = 5 * time.Second

func (a *Aggregator) buildHealth(ctx context.Context, includeDetails bool) (HealthPayload, error) {
	snap, err := a.provider.Get()
	if err != nil {
		return HealthPayload{}, err
	}

	byUpstream := snap.BaseURLs()
	results := make(map[string]UpstreamHealth, len(byUpstream))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for baseURL, models := range byUpstream {
		sort.Strings(models)
		wg.Add(1)
		go func(baseURL string, models []string) {
			defer wg.Done()
			h := a.checkOne(ctx, baseURL, models)
			mu.Lock()
			results[baseURL] = h
			mu.Unlock()
		}(baseURL, models)
	}
	wg.Wait()

	overallOK := true
	for _, h := range results {
		if !h.OK {
			overallOK = false
		}
	}

	status := "ok"
	if !overallOK {
		status = "degraded"
	}
	payload := HealthPayload{Status: status}
	if includeDetails {
		payload.Upstreams = results
	}
	return payload, nil
}

func (a *Aggregator) checkOne(ctx context.Context, baseURL string, models []string) UpstreamHealth {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	start := time.Now()

	ok, err := a.probe(ctx, baseURL, "/health")
	if !ok && err == "" {
		err = "/health returned non-200"
	}
	if !ok {
		var modelsErr string
		ok, modelsErr = a.probe(ctx, baseURL, "/v1/models")
		if !ok {
			if modelsErr == "" {
				modelsErr = "/v1/models returned non-200"
			}
			if err != "" {
				err = err + "; " + modelsErr
			} else {
				err = modelsErr
			}
		} else {
			err = ""
		}
	}

	return UpstreamHealth{
		OK:        ok,
		LatencyMS: time.Since(start).Milliseconds(),
		Models:    models,
		Error:     err,
	}
}

// probe returns (true, "") on HTTP 200; otherwise (false, message).
func (a *Aggregator) probe(ctx context.Context, baseURL, path string) (bool, string) {
	url := capcache.Join(baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false, path + " error: " + err.Error()
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, path + " -> " + http.StatusText(resp.StatusCode)
	}
	return true, ""
}

// Health handles GET /health and GET /internal/health.
func (a *Aggregator) Health(includeDetails bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := a.buildHealth(c.Request.Context(), includeDetails)
		if err != nil {
			apierr.Write(c, apierr.ConfigError("Configuration error: "+err.Error()))
			return
		}
		c.JSON(http.StatusOK, payload)
	}
}

// ModelEntry is one row of the OpenAI-compatible model list.
type ModelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// ModelsPayload is the /v1/models and /internal/models response body.
type ModelsPayload struct {
	Object string       `json:"object"`
	Data   []ModelEntry `json:"data"`
}

// Models handles GET /v1/models and GET /internal/models. public, when true,
// returns 404 if PUBLIC_MODELS is disabled; internal callers always see the
// full list regardless of that flag.
func (a *Aggregator) Models(public bool, publicModelsEnabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if public && !publicModelsEnabled {
			apierr.Write(c, apierr.New(http.StatusNotFound, "invalid_request_error", "route_not_found", "model listing is disabled"))
			return
		}
		snap, err := a.provider.Get()
		if err != nil {
			apierr.Write(c, apierr.ConfigError("Configuration error: "+err.Error()))
			return
		}
		ids := snap.Models()
		sort.Strings(ids)
		data := make([]ModelEntry, 0, len(ids))
		for _, id := range ids {
			data = append(data, ModelEntry{ID: id, Object: "model", OwnedBy: "proxy"})
		}
		c.JSON(http.StatusOK, ModelsPayload{Object: "list", Data: data})
	}
}
