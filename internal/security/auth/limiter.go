// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultLoginRate refills one login attempt every 20 seconds.
	DefaultLoginRate = rate.Limit(1.0 / 20)

	// DefaultLoginBurst is the number of attempts allowed back to back.
	DefaultLoginBurst = 5

	// limiterIdle is how long an unused bucket is kept.
	limiterIdle = time.Hour
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter throttles login attempts per key with a token bucket.
type Limiter struct {
	rate  rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewLimiter creates a Limiter that refills at r with the given burst.
func NewLimiter(r rate.Limit, burst int) *Limiter {
	return &Limiter{
		rate:    r,
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow consumes one attempt for key and reports whether it was available.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.sweep(now)
	return b.limiter.AllowN(now, 1)
}

// Reset forgets the attempts of key after a successful login.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

// sweep drops idle buckets. Caller holds l.mu.
func (l *Limiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > limiterIdle {
			delete(l.buckets, k)
		}
	}
}
