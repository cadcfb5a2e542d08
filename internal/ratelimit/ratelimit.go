package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// entry tracks the limiter for a single key.
type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter implements a token-bucket rate limiter keyed by arbitrary string
// identifiers (e.g. user ID). Each key may make limit requests per window.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   int
	window  time.Duration
	now     func() time.Time // injectable clock for testing
}

// New creates a Limiter that allows limit requests per window for each key.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		entries: make(map[string]*entry),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// get returns the limiter for key, creating one with a full bucket if it
// doesn't exist. Must be called with l.mu held.
func (l *Limiter) get(key string, now time.Time) *rate.Limiter {
	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(float64(l.limit)/l.window.Seconds()), l.limit)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// Allow checks whether a request identified by key is permitted, consuming
// one token when it is.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	return l.get(key, now).AllowN(now, 1)
}

// Status returns the current rate-limit state for key. limit is the maximum
// number of tokens, remaining is the number of tokens left (floored to int),
// and resetAt is the time at which the bucket will be fully replenished.
func (l *Limiter) Status(key string) (limit int, remaining int, resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	lim := l.get(key, now)
	// Absorb float drift from refill arithmetic.
	tokens := math.Min(lim.TokensAt(now)+1e-9, float64(l.limit))

	limit = l.limit
	remaining = int(math.Floor(tokens))
	if remaining < 0 {
		remaining = 0
	}

	deficit := float64(l.limit) - tokens
	if deficit <= 0 {
		resetAt = now
	} else {
		resetAt = now.Add(time.Duration(deficit / float64(lim.Limit()) * float64(time.Second)))
	}
	return
}

// Prune drops keys not seen for longer than idle and returns how many were
// removed.
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for key, e := range l.entries {
		if now.Sub(e.lastSeen) > idle {
			delete(l.entries, key)
			n++
		}
	}
	return n
}
