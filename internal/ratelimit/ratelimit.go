// Package ratelimit throttles requests to third-party providers (geocoding,
// routing). The local token bucket is the default; RedisWindow shares one
// budget between agents of a depot.
package ratelimit

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

type Limiter interface {
	// Wait blocks until a request may be sent or ctx is done.
	Wait(ctx context.Context) error
}

type TokenBucket struct {
	l *rate.Limiter
}

// NewTokenBucket allows perSecond requests on average with the given burst.
// perSecond <= 0 disables limiting.
func NewTokenBucket(perSecond float64, burst int) *TokenBucket {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{l: rate.NewLimiter(limit, burst)}
}

func (b *TokenBucket) Wait(ctx context.Context) error {
	if err := b.l.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limit wait")
	}
	return nil
}

// Allow reports whether a request may be sent right now without waiting.
func (b *TokenBucket) Allow() bool {
	return b.l.Allow()
}

type noop struct{}

func (noop) Wait(ctx context.Context) error { return ctx.Err() }

// None is a Limiter that never throttles.
func None() Limiter { return noop{} }
