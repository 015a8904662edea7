// Package ratelimit provides the token-bucket rate limiter that gates the
// execution engine's outgoing request rate. It is adapted from the
// teacher's loadctrl token-bucket limiter: same interface shape, same
// reliance on golang.org/x/time/rate, reduced to the single algorithm the
// spec calls for (no leaky-bucket/sliding-window variants; §4.2 specifies
// token bucket only).
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter gates one permit per outgoing request. Implementations must be
// safe for concurrent use by multiple goroutines.
type Limiter interface {
	// Acquire blocks until a token is available or ctx is done.
	Acquire(ctx context.Context) error
}

// TokenBucket implements Limiter using golang.org/x/time/rate: tokens =
// min(burst, tokens + elapsed*rate) on each acquire, consuming one token
// per call and sleeping for the shortfall otherwise. The wait computation
// and token update are serialized by rate.Limiter itself, satisfying the
// "per-bucket mutex" requirement of spec §5.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket creates a token-bucket limiter. If burst <= 0 it defaults
// to floor(ratePerSecond), raised to 1 when the rate is below one per
// second so the bucket can always hold a token. The bucket starts full.
func NewTokenBucket(ratePerSecond float64, burst int) *TokenBucket {
	if burst <= 0 {
		burst = max(1, int(ratePerSecond))
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Acquire blocks until a token is available or ctx is cancelled.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// NoOp is the unbounded-rate variant: Acquire admits immediately, returning
// ctx.Err() only when ctx is already done. Used when a TestSpec sets no
// requests_per_second cap.
type NoOp struct{}

// Acquire never blocks.
func (NoOp) Acquire(ctx context.Context) error {
	return ctx.Err()
}

var _ Limiter = (*TokenBucket)(nil)
var _ Limiter = NoOp{}

// New builds the appropriate Limiter for an optional requests-per-second
// cap: a NoOp when rps is zero/unset, a TokenBucket otherwise.
func New(rps float64) Limiter {
	if rps <= 0 {
		return NoOp{}
	}
	return NewTokenBucket(rps, 0)
}
