package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGateSpacesAdmissions(t *testing.T) {
	const interval = 40 * time.Millisecond
	g := NewGate(interval)
	ctx := context.Background()

	var mu sync.Mutex
	var starts []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(ctx, func(context.Context) error {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if len(starts) != 5 {
		t.Fatalf("expected 5 admissions, got %d", len(starts))
	}
	first, last := starts[0], starts[0]
	for _, s := range starts {
		if s.Before(first) {
			first = s
		}
		if s.After(last) {
			last = s
		}
	}
	// 5 admissions need at least 4 intervals between the first and last.
	if span := last.Sub(first); span < 4*interval-10*time.Millisecond {
		t.Fatalf("admissions too close: span %v", span)
	}
}

func TestGateWaitCancelled(t *testing.T) {
	g := NewGate(time.Hour)
	_ = g.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := g.Wait(ctx); err == nil {
		t.Fatal("expected error waiting past deadline")
	}
}

func TestGateZeroIntervalUnlimited(t *testing.T) {
	g := NewGate(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := g.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("zero interval should not throttle")
	}
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 3, Cooldown: time.Second})
	ctx := context.Background()
	fail := errors.New("fail")

	for i := 0; i < 3; i++ {
		_ = b.Call(ctx, func(context.Context) error { return fail })
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}
	if err := b.Call(ctx, func(context.Context) error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerIgnoresUncountedErrors(t *testing.T) {
	bad := errors.New("bad output")
	b := NewBreaker(BreakerOpts{
		FailThreshold: 1,
		Counts:        func(err error) bool { return !errors.Is(err, bad) },
	})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := b.Call(ctx, func(context.Context) error { return bad }); !errors.Is(err, bad) {
			t.Fatalf("expected passthrough error, got %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %v", b.State())
	}
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	b := NewBreaker(BreakerOpts{
		FailThreshold: 1,
		Cooldown:      20 * time.Millisecond,
		OnStateChange: func(from, to State) {
			mu.Lock()
			transitions = append(transitions, to.String())
			mu.Unlock()
		},
	})
	ctx := context.Background()

	_ = b.Call(ctx, func(context.Context) error { return errors.New("x") })
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}
	time.Sleep(40 * time.Millisecond)
	if err := b.Call(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %v", b.State())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) == 0 || strings.Join(transitions, ",") != "open,half-open,closed" {
		t.Fatalf("transitions = %v", transitions)
	}
}

func TestBreakerPassesContextThrough(t *testing.T) {
	b := NewBreaker(BreakerOpts{})
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	err := b.Call(ctx, func(got context.Context) error {
		if got.Value(key{}) != "v" {
			return errors.New("context not passed through")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
