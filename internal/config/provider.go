package config

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Provider serves the current routing Snapshot, re-reading the backing file
// when its mtime changes. A TTL gates how often the mtime is even checked, so
// hot paths never stat the file on every request. Snapshots are published via
// an atomic pointer so in-flight requests always observe a consistent map
// (Design Note "Hot config reload").
type Provider struct {
	path string
	ttl  time.Duration

	current atomic.Pointer[Snapshot]

	mu          sync.Mutex // serializes reload attempts
	lastChecked time.Time
	lastMtime   time.Time

	watcher *fileWatcher
}

// NewProvider loads path once and returns a ready Provider. ttl <= 0 defaults
// to 1 second, matching the CONFIG_CACHE_TTL default.
func NewProvider(path string, ttl time.Duration) (*Provider, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	p := &Provider{path: path, ttl: ttl}
	if err := p.reload(); err != nil {
		return nil, err
	}
	p.watcher = startWatcher(p)
	return p, nil
}

// Get returns the current snapshot, reloading from disk first if the TTL has
// elapsed and the file's mtime has moved on.
func (p *Provider) Get() (*Snapshot, error) {
	now := time.Now()
	p.mu.Lock()
	stale := now.Sub(p.lastChecked) >= p.ttl
	p.mu.Unlock()
	if stale {
		if err := p.maybeReload(); err != nil {
			// Serve the last good snapshot; surface the error only if we
			// never managed to load anything.
			if snap := p.current.Load(); snap != nil {
				log.WithError(err).Warn("config reload failed, serving stale snapshot")
				return snap, nil
			}
			return nil, err
		}
	}
	snap := p.current.Load()
	if snap == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	return snap, nil
}

// maybeReload checks mtime and reloads only if it advanced.
func (p *Provider) maybeReload() error {
	info, err := os.Stat(p.path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	p.mu.Lock()
	p.lastChecked = time.Now()
	unchanged := !info.ModTime().After(p.lastMtime)
	p.mu.Unlock()
	if unchanged {
		return nil
	}
	return p.reload()
}

// reload unconditionally re-parses the file and atomically publishes a new
// Snapshot.
func (p *Provider) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	info, err := os.Stat(p.path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	upstreams, err := parse(&fc)
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	snap := &Snapshot{
		Upstreams: upstreams,
		FileMtime: info.ModTime(),
		LoadedAt:  time.Now(),
	}

	p.mu.Lock()
	p.lastMtime = info.ModTime()
	p.lastChecked = time.Now()
	p.mu.Unlock()

	p.current.Store(snap)
	log.WithFields(log.Fields{
		"path":   p.path,
		"models": len(upstreams),
	}).Info("configuration loaded")
	return nil
}

// Close releases the push-reload watcher, if one started.
func (p *Provider) Close() {
	if p.watcher != nil {
		p.watcher.stop()
	}
}
