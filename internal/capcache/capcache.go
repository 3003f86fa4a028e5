// Package capcache normalizes upstream URLs and caches each upstream's
// advertised capability set (the paths in its openapi.json) so the
// forwarder can reject unsupported routes before making a round trip.
package capcache

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"modelproxy/internal/config"
)

// Join concatenates base and incomingPath under the /v1 de-duplication rule:
// a base ending in /v1 or /v1/openai absorbs a leading /v1 segment from the
// incoming path instead of doubling it.
func Join(baseURL, incomingPath string) string {
	base := strings.TrimRight(baseURL, "/")
	path := incomingPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if (strings.HasSuffix(base, "/v1") || strings.HasSuffix(base, "/v1/openai")) && strings.HasPrefix(path, "/v1/") {
		path = path[len("/v1"):]
	}
	return base + path
}

// Caps is what a single upstream advertises. Paths is nil when the most
// recent discovery failed (UNKNOWN).
type Caps struct {
	Paths map[string]struct{}
}

func (c Caps) known() bool { return c.Paths != nil }

func (c Caps) supports(path string) bool {
	_, ok := c.Paths[path]
	return ok
}

type entry struct {
	caps      Caps
	expiresAt time.Time
}

// sharedAllowlist is the fallback route set for a recognized provider whose
// capabilities are UNKNOWN; DeepInfra and Ollama currently share it verbatim,
// but the naming keeps room for a provider with a narrower surface.
var sharedAllowlist = map[string]struct{}{
	"/v1/chat/completions":   {},
	"/v1/completions":        {},
	"/v1/embeddings":         {},
	"/v1/models":             {},
	"/v1/responses":          {},
	"/v1/images/generations": {},
}

// Cache is the process-wide, TTL-gated capability cache keyed by base_url.
type Cache struct {
	ttl    time.Duration
	client *http.Client

	mu      sync.Mutex
	entries map[string]entry
}

// NewCache builds a Cache with the given TTL (default: 60s) and HTTP client
// used for openapi.json discovery.
func NewCache(ttl time.Duration, client *http.Client) *Cache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Cache{ttl: ttl, client: client, entries: make(map[string]entry)}
}

// Get returns the current capability set for the upstream, discovering (or
// re-discovering on TTL expiry) as needed. Duplicate concurrent discoveries
// for the same key are tolerated — last write wins.
func (c *Cache) Get(ctx context.Context, u config.Upstream) Caps {
	now := time.Now()

	c.mu.Lock()
	if e, ok := c.entries[u.BaseURL]; ok && now.Before(e.expiresAt) {
		c.mu.Unlock()
		return e.caps
	}
	c.mu.Unlock()

	caps := c.discover(ctx, u)

	c.mu.Lock()
	c.entries[u.BaseURL] = entry{caps: caps, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	return caps
}

func (c *Cache) discover(ctx context.Context, u config.Upstream) Caps {
	url := Join(u.BaseURL, "/openapi.json")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Caps{}
	}
	if u.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+u.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.WithFields(log.Fields{"module": "capcache", "upstream": u.BaseURL, "error": err.Error()}).
			Warn("capability discovery failed")
		return Caps{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Caps{}
	}

	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 32*1024)
	for {
		n, rErr := resp.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rErr != nil {
			break
		}
		if len(buf) > 8<<20 { // 8 MiB guard against runaway documents.
			return Caps{}
		}
	}
	if !gjson.ValidBytes(buf) {
		return Caps{}
	}

	paths := make(map[string]struct{})
	gjson.GetBytes(buf, "paths").ForEach(func(key, _ gjson.Result) bool {
		paths[key.String()] = struct{}{}
		return true
	})
	return Caps{Paths: paths}
}

// EnsureRouteSupported checks incomingPath against the upstream's advertised
// capabilities and allow-list fallback. A nil return means the route may
// proceed; a non-nil error carries the 404 detail to report to the client.
func (c *Cache) EnsureRouteSupported(ctx context.Context, u config.Upstream, incomingPath string) error {
	caps := c.Get(ctx, u)
	if caps.known() {
		if !caps.supports(incomingPath) {
			return fmt.Errorf("route not supported by upstream: %s", incomingPath)
		}
		return nil
	}

	allowlist := allowlistFor(u.BaseURL)
	if allowlist == nil {
		return nil // unknown provider: defer to the upstream's own 404.
	}
	if _, ok := allowlist[incomingPath]; !ok {
		return fmt.Errorf("route not supported by upstream: %s", incomingPath)
	}
	return nil
}

// allowlistFor returns the provider-specific allow-list for an upstream
// whose capabilities are UNKNOWN, or nil if the provider isn't recognized
// (in which case the caller should defer to the upstream's own 404).
func allowlistFor(baseURL string) map[string]struct{} {
	host := strings.ToLower(baseURL)
	switch {
	case strings.Contains(host, "deepinfra"):
		return sharedAllowlist
	case strings.Contains(host, ":11434"), strings.Contains(host, "ollama"):
		return sharedAllowlist
	default:
		return nil
	}
}
