// Package ratelimiter throttles connection attempts to remote servers.
//
// A single Limiter is usually shared by every remote filesystem built from
// one configuration, so a burst of filesystems opened at once (for example a
// batch of views over the same bucket) cannot flood a server with dials.
package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket over dial attempts. A nil *Limiter never blocks.
type Limiter struct {
	limiter *rate.Limiter
}

// New returns a limiter allowing perSecond dials on average with bursts of
// up to burst. A non-positive perSecond disables limiting and returns nil.
// A burst below one is raised to one so the limiter can make progress.
func New(perSecond float64, burst int) *Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a dial may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("dial throttled: %w", err)
	}
	return nil
}

// Allow reports whether a dial may proceed now without waiting.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}

// Tokens returns the number of dials currently available.
func (l *Limiter) Tokens() float64 {
	if l == nil {
		return float64(rate.Inf)
	}
	return l.limiter.TokensAt(time.Now())
}

// Wrap returns dial gated by l.
func Wrap[T any](l *Limiter, dial func(context.Context) (T, error)) func(context.Context) (T, error) {
	if l == nil {
		return dial
	}
	return func(ctx context.Context) (T, error) {
		if err := l.Wait(ctx); err != nil {
			var zero T
			return zero, err
		}
		return dial(ctx)
	}
}
