package fn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// --- Result ---

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}

	e := Err[int](errors.New("fail"))
	if e.IsOk() || !e.IsErr() {
		t.Fatal("Err should be err")
	}
}

func TestFromPairAndCount(t *testing.T) {
	rs := []Result[int]{
		FromPair(1, nil),
		FromPair(0, errors.New("x")),
		Ok(3),
	}
	ok, failed := Count(rs)
	if ok != 2 || failed != 1 {
		t.Fatalf("count = %d/%d", ok, failed)
	}
}

// --- Slices ---

func TestGroupByKeepsOrder(t *testing.T) {
	g := GroupBy([]string{"a1", "b1", "a2", "b2", "a3"}, func(s string) byte { return s[0] })
	if len(g['a']) != 3 || g['a'][2] != "a3" {
		t.Fatalf("a group = %v", g['a'])
	}
	if len(g['b']) != 2 || g['b'][0] != "b1" {
		t.Fatalf("b group = %v", g['b'])
	}
}

func TestUniqueByFirstWins(t *testing.T) {
	type kv struct{ k, v string }
	out := UniqueBy([]kv{{"x", "1"}, {"y", "2"}, {"x", "3"}}, func(p kv) string { return p.k })
	if len(out) != 2 || out[0].v != "1" {
		t.Fatalf("got %v", out)
	}
}

func TestMapFilter(t *testing.T) {
	sq := Map([]int{1, 2, 3}, func(i int) int { return i * i })
	even := Filter(sq, func(i int) bool { return i%2 == 0 })
	if len(even) != 1 || even[0] != 4 {
		t.Fatalf("got %v", even)
	}
}

// --- Parallel ---

func TestParMapPreservesOrderAndBoundsWorkers(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}
	var inflight, peak int64
	out := ParMap(context.Background(), items, 4, func(_ context.Context, i int) int {
		n := atomic.AddInt64(&inflight, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt64(&inflight, -1)
		return i * 10
	}, func(int, error) int { return -1 })

	for i, v := range out {
		if v != i*10 {
			t.Fatalf("out[%d] = %d", i, v)
		}
	}
	if peak > 4 {
		t.Fatalf("peak concurrency %d > 4", peak)
	}
}

func TestParMapResultCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := ParMapResult(ctx, []int{1, 2, 3}, 2, func(_ context.Context, i int) Result[int] {
		return Ok(i)
	})
	if len(out) != 3 {
		t.Fatalf("len = %d", len(out))
	}
	for _, r := range out {
		if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected canceled, got %v", err)
		}
	}
}

func TestParMapEmpty(t *testing.T) {
	out := ParMap(context.Background(), nil, 3, func(_ context.Context, i int) int { return i }, nil)
	if len(out) != 0 {
		t.Fatal("expected empty")
	}
}

// --- Retry ---

func TestAttemptSucceedsAfterRetryable(t *testing.T) {
	calls := 0
	v, n, err := Attempt(context.Background(), RetryOpts{MaxAttempts: 3}, func(_ context.Context, attempt int) Outcome[string] {
		calls++
		if attempt < 2 {
			return Again[string](errors.New("503"), 0)
		}
		return Succeed("ok")
	})
	if err != nil || v != "ok" || n != 3 || calls != 3 {
		t.Fatalf("v=%q n=%d calls=%d err=%v", v, n, calls, err)
	}
}

func TestAttemptStopsOnFatal(t *testing.T) {
	fatal := errors.New("404")
	calls := 0
	_, n, err := Attempt(context.Background(), RetryOpts{MaxAttempts: 5}, func(context.Context, int) Outcome[int] {
		calls++
		return Stop[int](fatal)
	})
	if !errors.Is(err, fatal) || n != 1 || calls != 1 {
		t.Fatalf("n=%d calls=%d err=%v", n, calls, err)
	}
}

func TestAttemptExhausted(t *testing.T) {
	cause := errors.New("timeout")
	_, n, err := Attempt(context.Background(), RetryOpts{MaxAttempts: 2}, func(context.Context, int) Outcome[int] {
		return Again[int](cause, time.Millisecond)
	})
	if n != 2 || !errors.Is(err, cause) {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestAttemptHonorsWait(t *testing.T) {
	start := time.Now()
	_, _, _ = Attempt(context.Background(), RetryOpts{MaxAttempts: 2}, func(_ context.Context, attempt int) Outcome[int] {
		if attempt == 0 {
			return Again[int](errors.New("429"), 30*time.Millisecond)
		}
		return Succeed(1)
	})
	if time.Since(start) < 30*time.Millisecond {
		t.Fatal("wait not honored")
	}
}

func TestAttemptContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := Attempt(ctx, RetryOpts{MaxAttempts: 3}, func(context.Context, int) Outcome[int] {
		return Again[int](errors.New("slow"), time.Second)
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Jitter: 0.3, Rand: func() float64 { return 0 }}
	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		if got := b.Delay(i); got != want {
			t.Fatalf("Delay(%d) = %v, want %v", i, got, want)
		}
	}

	b.Rand = func() float64 { return 0.999 }
	got := b.Delay(1)
	if got < 2*time.Second || got >= 2600*time.Millisecond {
		t.Fatalf("jittered delay %v out of [2s, 2.6s)", got)
	}

	capped := Backoff{Base: time.Second, Max: 3 * time.Second}
	if d := capped.Delay(5); d != 3*time.Second {
		t.Fatalf("capped = %v", d)
	}
}

func TestVerdictString(t *testing.T) {
	if Success.String() != "success" || Retryable.String() != "retryable" || Fatal.String() != "fatal" {
		t.Fatal("bad verdict names")
	}
}

// --- Pipeline ---

func TestThenShortCircuits(t *testing.T) {
	called := false
	fail := Stage[int, int](func(context.Context, int) Result[int] { return Err[int](errors.New("boom")) })
	next := Stage[int, string](func(context.Context, int) Result[string] { called = true; return Ok("x") })
	r := TracedStage("test", Then(fail, next))(context.Background(), 1)
	if r.IsOk() || called {
		t.Fatal("second stage should not run")
	}
}
