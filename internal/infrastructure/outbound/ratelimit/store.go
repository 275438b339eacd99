package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sophialabs/meetpoint/internal/infrastructure/ports"
)

var _ ports.RateLimiter = (*TokenBucketStore)(nil)

type limiterEntry struct {
	limiter  *rate.Limiter
	rate     float64
	burst    int
	lastUsed time.Time
}

// TokenBucketStore holds one token bucket per outbound key, typically one per
// upstream service.
type TokenBucketStore struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	ttl      time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewTokenBucketStore creates a new store with the given TTL for inactive limiters.
// It starts a background goroutine that evicts stale entries every TTL interval.
// Call Stop to terminate the eviction goroutine.
func NewTokenBucketStore(ttl time.Duration) *TokenBucketStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	s := &TokenBucketStore{
		limiters: make(map[string]*limiterEntry),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	go s.evictLoop()
	return s
}

// Stop terminates the background eviction goroutine. Safe to call more than once.
func (s *TokenBucketStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *TokenBucketStore) evictLoop() {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Evict()
		case <-s.stop:
			return
		}
	}
}

// Wait blocks until the bucket for key has a token or ctx is done.
// A non-positive rate disables throttling for the key.
func (s *TokenBucketStore) Wait(ctx context.Context, key string, r float64, burst int) error {
	if r <= 0 {
		return ctx.Err()
	}
	return s.limiter(key, r, burst).Wait(ctx)
}

// Allow reports whether a call for key may proceed right now without waiting.
func (s *TokenBucketStore) Allow(key string, r float64, burst int) bool {
	if r <= 0 {
		return true
	}
	return s.limiter(key, r, burst).Allow()
}

func (s *TokenBucketStore) limiter(key string, r float64, burst int) *rate.Limiter {
	if burst < 1 {
		burst = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.limiters[key]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(r), burst),
			rate:    r,
			burst:   burst,
		}
		s.limiters[key] = entry
	} else if entry.rate != r || entry.burst != burst {
		// Config changed for a live key; retune instead of resetting the bucket.
		entry.limiter.SetLimit(rate.Limit(r))
		entry.limiter.SetBurst(burst)
		entry.rate = r
		entry.burst = burst
	}

	entry.lastUsed = time.Now()
	return entry.limiter
}

// Evict removes inactive entries older than the TTL.
func (s *TokenBucketStore) Evict() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.ttl)
	for key, entry := range s.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(s.limiters, key)
		}
	}
}

// Len returns the number of active limiters.
func (s *TokenBucketStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}
