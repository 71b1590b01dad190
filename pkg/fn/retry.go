package fn

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Verdict classifies a single attempt.
type Verdict int

const (
	Success Verdict = iota
	Retryable
	Fatal
)

func (v Verdict) String() string {
	switch v {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the typed result of one attempt. Wait is how long to pause
// before the next attempt and is only consulted for Retryable outcomes.
type Outcome[T any] struct {
	Value   T
	Err     error
	Verdict Verdict
	Wait    time.Duration
}

// Succeed returns a successful outcome.
func Succeed[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v, Verdict: Success}
}

// Again returns a retryable outcome that waits d before the next attempt.
func Again[T any](err error, d time.Duration) Outcome[T] {
	return Outcome[T]{Err: err, Verdict: Retryable, Wait: d}
}

// Stop returns a fatal outcome; no further attempts are made.
func Stop[T any](err error) Outcome[T] {
	return Outcome[T]{Err: err, Verdict: Fatal}
}

// RetryOpts configures the attempt loop.
type RetryOpts struct {
	MaxAttempts int
}

// Attempt calls f until it succeeds, returns a fatal outcome, or MaxAttempts
// is reached. attempt is zero-based. It returns the number of attempts made.
func Attempt[T any](ctx context.Context, opts RetryOpts, f func(ctx context.Context, attempt int) Outcome[T]) (T, int, error) {
	var zero T
	limit := opts.MaxAttempts
	if limit < 1 {
		limit = 1
	}

	var last Outcome[T]
	for attempt := 0; attempt < limit; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt, err
		}
		last = f(ctx, attempt)
		switch last.Verdict {
		case Success:
			return last.Value, attempt + 1, nil
		case Fatal:
			return zero, attempt + 1, last.Err
		}
		if attempt == limit-1 {
			break
		}
		if last.Wait > 0 {
			t := time.NewTimer(last.Wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return zero, attempt + 1, ctx.Err()
			case <-t.C:
			}
		}
	}
	return zero, limit, fmt.Errorf("gave up after %d attempts: %w", limit, last.Err)
}

// Backoff computes exponential delays: Base * 2^attempt plus up to Jitter
// (a fraction, 0.3 = 30%) of that, capped at Max when Max > 0.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
	// Rand returns a value in [0, 1). Defaults to math/rand.
	Rand func() float64
}

// Delay returns the wait after the given zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := b.Base << attempt
	if b.Jitter > 0 {
		r := b.Rand
		if r == nil {
			r = rand.Float64
		}
		d += time.Duration(float64(d) * b.Jitter * r())
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}
