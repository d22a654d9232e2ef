// Package ratelimit implements keyed token buckets used to throttle clients of the archive relay.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// DefaultMaxKeys bounds how many client buckets are tracked before the table is reset.
const DefaultMaxKeys = 10000

// Limiter manages one token bucket per key, typically a client address.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	maxKeys  int
}

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the sustained rate per key. Zero or less disables limiting.
	RPS   float64
	Burst int
	// MaxKeys defaults to DefaultMaxKeys.
	MaxKeys int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
		maxKeys:  maxKeys,
	}
}

// Allow reports whether key may proceed now, consuming a token when it can.
func (l *Limiter) Allow(key string) bool {
	if l.rate == rate.Inf {
		return true
	}
	return l.bucket(key).Allow()
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[key]
	if !ok {
		// Full table: start over.
		if len(l.limiters) >= l.maxKeys {
			clear(l.limiters)
		}
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	return limiter
}
