package resilience

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
)

// State is the breaker state as reported by failsafe-go.
type State = circuitbreaker.State

const (
	StateClosed   = circuitbreaker.ClosedState
	StateOpen     = circuitbreaker.OpenState
	StateHalfOpen = circuitbreaker.HalfOpenState
)

// ErrCircuitOpen is returned without calling the guarded function while the
// breaker is open.
var ErrCircuitOpen = circuitbreaker.ErrOpen

// BreakerOpts configures a Breaker.
type BreakerOpts struct {
	// FailThreshold is how many consecutive counted failures open the breaker.
	FailThreshold int
	// Cooldown is how long the breaker stays open before letting one call through.
	Cooldown time.Duration
	// Counts reports whether err is the dependency's fault. Nil counts every
	// error. Rejected input or unusable output should not open the breaker.
	Counts func(err error) bool
	// OnStateChange is called after every transition.
	OnStateChange func(from, to State)
}

// Breaker stops calling an unavailable dependency for a cooldown period.
type Breaker struct {
	cb circuitbreaker.CircuitBreaker[any]
}

// NewBreaker builds a Breaker on a failsafe-go circuit breaker.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = 5
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 30 * time.Second
	}
	counts := opts.Counts
	if counts == nil {
		counts = func(error) bool { return true }
	}

	builder := circuitbreaker.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return err != nil && counts(err) }).
		WithFailureThreshold(uint(opts.FailThreshold)).
		WithDelay(opts.Cooldown)
	if opts.OnStateChange != nil {
		builder = builder.OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			opts.OnStateChange(e.OldState, e.NewState)
		})
	}
	return &Breaker{cb: builder.Build()}
}

// Call runs f unless the breaker is open. f's error is returned unchanged.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	return failsafe.With[any](b.cb).WithContext(ctx).Run(func() error {
		return f(ctx)
	})
}

// State returns the current state. An open breaker moves to half-open on the
// first call after its cooldown.
func (b *Breaker) State() State {
	return b.cb.State()
}
