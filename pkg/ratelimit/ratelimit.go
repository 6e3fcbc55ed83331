// Package ratelimit provides per-tenant request throttling. Limiting is
// per instance; fleet-wide write fairness comes from the distributed write
// lock, not from here.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucketLimiter implements token bucket rate limiting keyed by tenant
type TokenBucketLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	maxTokens  int
	refillRate time.Duration

	stop chan struct{}
	once sync.Once
}

type bucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// NewTokenBucketLimiter creates a limiter allowing maxTokens burst with one
// token refilled every refillRate
func NewTokenBucketLimiter(maxTokens int, refillRate time.Duration) *TokenBucketLimiter {
	limiter := &TokenBucketLimiter{
		buckets:    make(map[string]*bucket),
		maxTokens:  maxTokens,
		refillRate: refillRate,
		stop:       make(chan struct{}),
	}
	go limiter.cleanup()
	return limiter
}

// Allow reports whether a request for key may proceed now
func (l *TokenBucketLimiter) Allow(key string) bool {
	l.mu.Lock()
	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{
			tokens:     l.maxTokens,
			lastRefill: time.Now(),
		}
		l.buckets[key] = b
	}
	l.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	refilled := int(now.Sub(b.lastRefill) / l.refillRate)
	if refilled > 0 {
		b.tokens += refilled
		if b.tokens > l.maxTokens {
			b.tokens = l.maxTokens
		}
		b.lastRefill = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Close stops the background cleanup
func (l *TokenBucketLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

// cleanup drops buckets idle long enough to be full again
func (l *TokenBucketLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			idle := time.Duration(l.maxTokens) * l.refillRate
			cutoff := time.Now().Add(-idle)
			l.mu.Lock()
			for key, b := range l.buckets {
				b.mu.Lock()
				stale := b.lastRefill.Before(cutoff)
				b.mu.Unlock()
				if stale {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
