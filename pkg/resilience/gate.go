// Package resilience provides the shared admission gate and circuit breaker
// used around external API calls.
package resilience

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Gate admits at most one call per interval across every caller that shares it.
type Gate struct {
	lim      *rate.Limiter
	interval time.Duration
}

// NewGate creates a gate with the given minimum spacing between admissions.
// A non-positive interval admits everything.
func NewGate(interval time.Duration) *Gate {
	if interval <= 0 {
		return &Gate{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Gate{lim: rate.NewLimiter(rate.Every(interval), 1), interval: interval}
}

// Interval returns the configured minimum spacing.
func (g *Gate) Interval() time.Duration { return g.interval }

// Wait blocks until the caller is admitted or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	return g.lim.Wait(ctx)
}

// Do waits for admission then runs f.
func (g *Gate) Do(ctx context.Context, f func(context.Context) error) error {
	if err := g.Wait(ctx); err != nil {
		return err
	}
	return f(ctx)
}
