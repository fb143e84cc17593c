// Package ratelimit implements the Rate Limiter: a token-bucket
// primary implementation with an adaptive wrapper and a sliding-window
// alternative, all sharing one public contract.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter is the shared contract for every rate limiter variant.
type Limiter interface {
	// Acquire blocks until a token is available or ctx is cancelled.
	Acquire(ctx context.Context) error
	// TryAcquire is the non-blocking form of Acquire.
	TryAcquire() bool
	// Release is a no-op on token-bucket style limiters (tokens are
	// consumed at acquire time) but part of the contract for symmetry
	// with windowed limiters.
	Release()
	// Available reports the current count of immediately usable tokens.
	Available() int
}

// TokenBucket is the primary Limiter implementation, wrapping
// golang.org/x/time/rate.Limiter.
type TokenBucket struct {
	limiter *rate.Limiter
}

var (
	_ Limiter = (*TokenBucket)(nil)
	_ Limiter = (*Adaptive)(nil)
	_ Limiter = (*SlidingWindow)(nil)
)

// NewTokenBucket creates a token bucket refilling tokensPerInterval tokens
// every interval, capped at maxBurst.
func NewTokenBucket(tokensPerInterval int, interval float64, maxBurst int) *TokenBucket {
	limit := rate.Limit(float64(tokensPerInterval) / interval)
	return &TokenBucket{limiter: rate.NewLimiter(limit, maxBurst)}
}

func (b *TokenBucket) Acquire(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

func (b *TokenBucket) TryAcquire() bool {
	return b.limiter.Allow()
}

func (b *TokenBucket) Release() {}

func (b *TokenBucket) Available() int {
	return int(b.limiter.Tokens())
}

// SetRate adjusts the refill rate in place, used by the adaptive wrapper.
func (b *TokenBucket) SetRate(r rate.Limit) {
	b.limiter.SetLimit(r)
}

// Rate returns the current refill rate.
func (b *TokenBucket) Rate() rate.Limit {
	return b.limiter.Limit()
}
