// Package ratelimit implements per-account token buckets for lifecycle
// requests.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Limiter manages per-account rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[uuid.UUID]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration. A non-positive DefaultRPS
// disables limiting.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[uuid.UUID]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Allow reports whether a request for accountID may proceed now, consuming
// a token when it does.
func (l *Limiter) Allow(accountID uuid.UUID) bool {
	return l.limiter(accountID).Allow()
}

// Wait blocks until a token is available for accountID, respecting the context.
func (l *Limiter) Wait(ctx context.Context, accountID uuid.UUID) error {
	if err := l.limiter(accountID).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

func (l *Limiter) limiter(accountID uuid.UUID) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[accountID]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[accountID] = limiter
	}
	return limiter
}
