// Package ratelimit implements a per-client-IP token bucket with idle-entry
// eviction so long-running processes don't accumulate one bucket per IP
// forever.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a TTL-swept map of per-key token buckets. A Limiter built with
// rps<=0 allows every request through unconditionally.
type Limiter struct {
	rps   float64
	burst int
	ttl   time.Duration

	mu        sync.Mutex
	items     map[string]*entry
	lastSweep time.Time
	onSweep   func()
}

// New builds a Limiter refilling at rps tokens/second up to burst capacity.
// burst <= 0 falls back to rps (rounded up), so a limiter configured with
// only a rate still admits that many back-to-back requests. idleTTL bounds
// how long an idle client's bucket is retained before the opportunistic
// sweep reclaims it.
func New(rps float64, burst int, idleTTL time.Duration) *Limiter {
	if burst <= 0 {
		burst = int(math.Ceil(rps))
		if burst < 1 {
			burst = 1
		}
	}
	if idleTTL <= 0 {
		idleTTL = 15 * time.Minute
	}
	return &Limiter{rps: rps, burst: burst, ttl: idleTTL, items: make(map[string]*entry)}
}

// Allow consumes one token for key, returning false if none is available.
func (l *Limiter) Allow(key string) bool {
	if l.rps <= 0 {
		return true
	}

	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.items[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.items[key] = e
	}
	e.lastSeen = now

	if l.lastSweep.IsZero() || now.Sub(l.lastSweep) > 2*time.Minute {
		l.sweepLocked(now)
		l.lastSweep = now
		if l.onSweep != nil {
			l.onSweep()
		}
	}

	return e.limiter.Allow()
}

// SetSweepHook registers fn to run after each TTL sweep. fn is invoked with
// the limiter's lock held and must not call back into the Limiter.
func (l *Limiter) SetSweepHook(fn func()) {
	l.mu.Lock()
	l.onSweep = fn
	l.mu.Unlock()
}

func (l *Limiter) sweepLocked(now time.Time) {
	for k, e := range l.items {
		if now.Sub(e.lastSeen) > l.ttl {
			delete(l.items, k)
		}
	}
}

// Len reports how many per-key buckets are currently tracked, for tests and
// diagnostics.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
