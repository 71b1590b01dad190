package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/WessleyAI/leadsignal/engine/contentapi"
	"github.com/WessleyAI/leadsignal/engine/domain"
	"github.com/WessleyAI/leadsignal/pkg/fn"
	"github.com/WessleyAI/leadsignal/pkg/resilience"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type staticToken struct {
	mu          sync.Mutex
	invalidated int
}

func (s *staticToken) Token(context.Context) (string, error) { return "tok", nil }
func (s *staticToken) Invalidate() {
	s.mu.Lock()
	s.invalidated++
	s.mu.Unlock()
}

// scriptedLister replays per-source responses and records call start times.
type scriptedLister struct {
	mu      sync.Mutex
	script  map[string][]func(ctx context.Context) ([]domain.DiscoveredItem, error)
	calls   map[string]int
	started []time.Time
}

func newLister() *scriptedLister {
	return &scriptedLister{
		script: map[string][]func(context.Context) ([]domain.DiscoveredItem, error){},
		calls:  map[string]int{},
	}
}

func (l *scriptedLister) on(source string, steps ...func(context.Context) ([]domain.DiscoveredItem, error)) {
	l.script[source] = steps
}

func (l *scriptedLister) ListNewest(ctx context.Context, _ string, source string, _ int) ([]domain.DiscoveredItem, error) {
	l.mu.Lock()
	n := l.calls[source]
	l.calls[source]++
	l.started = append(l.started, time.Now())
	steps := l.script[source]
	l.mu.Unlock()

	if len(steps) == 0 {
		return nil, nil
	}
	if n >= len(steps) {
		n = len(steps) - 1
	}
	return steps[n](ctx)
}

func ok(ids ...string) func(context.Context) ([]domain.DiscoveredItem, error) {
	return func(context.Context) ([]domain.DiscoveredItem, error) {
		var items []domain.DiscoveredItem
		for _, id := range ids {
			items = append(items, domain.DiscoveredItem{ID: id})
		}
		return items, nil
	}
}

func status(code int, after time.Duration) func(context.Context) ([]domain.DiscoveredItem, error) {
	return func(context.Context) ([]domain.DiscoveredItem, error) {
		return nil, &contentapi.StatusError{Code: code, URL: "/r/x/new", RetryAfter: after}
	}
}

func hang(ctx context.Context) ([]domain.DiscoveredItem, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func testConfig() Config {
	return Config{
		Limit:       25,
		MaxAttempts: 3,
		Timeout:     time.Second,
		Backoff:     fn.Backoff{Base: 5 * time.Millisecond, Jitter: 0.3},
		Workers:     8,
	}
}

func sources(ids ...string) []domain.Source {
	out := make([]domain.Source, len(ids))
	for i, id := range ids {
		out[i] = domain.Source{ID: id, Name: id, Active: true}
	}
	return out
}

func TestFetchAll_GlobalRateNeverExceeded(t *testing.T) {
	const interval = 30 * time.Millisecond
	l := newLister()
	srcs := sources("a", "b", "c", "d", "e", "f")
	for _, s := range srcs {
		l.on(s.ID, ok(s.ID+"-1"))
	}

	f := New(testConfig(), resilience.NewGate(interval), &staticToken{}, l, quiet)
	rep := f.FetchAll(context.Background(), srcs)
	if rep.Total != len(srcs) || len(rep.Errors) != 0 {
		t.Fatalf("total=%d errors=%v", rep.Total, rep.Errors)
	}

	starts := append([]time.Time(nil), l.started...)
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	span := starts[len(starts)-1].Sub(starts[0])
	if want := time.Duration(len(starts)-1) * interval; span < want-10*time.Millisecond {
		t.Fatalf("%d calls spanned %v, expected at least %v", len(starts), span, want)
	}
}

func TestFetchAll_PartialFailure(t *testing.T) {
	l := newLister()
	l.on("good", ok("g1", "g2"))
	l.on("gone", status(http.StatusNotFound, 0))
	l.on("down", status(http.StatusServiceUnavailable, 0))

	f := New(testConfig(), resilience.NewGate(0), &staticToken{}, l, quiet)
	rep := f.FetchAll(context.Background(), sources("good", "gone", "down"))

	if rep.Total != 2 {
		t.Fatalf("total = %d", rep.Total)
	}
	if len(rep.Errors) != 2 {
		t.Fatalf("errors = %v", rep.Errors)
	}
	if l.calls["gone"] != 1 {
		t.Fatalf("404 should not be retried, got %d calls", l.calls["gone"])
	}
	if l.calls["down"] != 3 {
		t.Fatalf("503 should be retried to the attempt cap, got %d calls", l.calls["down"])
	}
	if got := rep.Items(); len(got) != 2 || got[0].ID != "g1" {
		t.Fatalf("items = %v", got)
	}
}

func TestFetchOne_RetriesServerErrorThenSucceeds(t *testing.T) {
	l := newLister()
	l.on("s", status(500, 0), status(503, 0), ok("x"))
	f := New(testConfig(), resilience.NewGate(0), &staticToken{}, l, quiet)

	res := f.FetchOne(context.Background(), domain.Source{ID: "s"})
	if res.Err != nil || len(res.Items) != 1 || res.Attempts != 3 {
		t.Fatalf("res = %+v", res)
	}
}

func TestFetchOne_429HonorsRetryAfter(t *testing.T) {
	l := newLister()
	l.on("s", status(http.StatusTooManyRequests, 40*time.Millisecond), ok("x"))
	f := New(testConfig(), resilience.NewGate(0), &staticToken{}, l, quiet)

	start := time.Now()
	res := f.FetchOne(context.Background(), domain.Source{ID: "s"})
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("retry-after not honored: %v", elapsed)
	}
}

func TestFetchOne_429Exhausted(t *testing.T) {
	l := newLister()
	l.on("s", status(http.StatusTooManyRequests, 0))
	f := New(testConfig(), resilience.NewGate(0), &staticToken{}, l, quiet)

	res := f.FetchOne(context.Background(), domain.Source{ID: "s"})
	if !errors.Is(res.Err, domain.ErrRateLimited) || l.calls["s"] != 3 {
		t.Fatalf("err=%v calls=%d", res.Err, l.calls["s"])
	}
}

func TestFetchOne_TimeoutIsRetryable(t *testing.T) {
	l := newLister()
	l.on("s", hang, ok("x"))
	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	f := New(cfg, resilience.NewGate(0), &staticToken{}, l, quiet)

	res := f.FetchOne(context.Background(), domain.Source{ID: "s"})
	if res.Err != nil || res.Attempts != 2 {
		t.Fatalf("res = %+v", res)
	}
}

func TestFetchOne_UnauthorizedInvalidatesToken(t *testing.T) {
	l := newLister()
	l.on("s", status(http.StatusUnauthorized, 0), ok("x"))
	tok := &staticToken{}
	f := New(testConfig(), resilience.NewGate(0), tok, l, quiet)

	res := f.FetchOne(context.Background(), domain.Source{ID: "s"})
	if res.Err != nil || tok.invalidated != 1 {
		t.Fatalf("err=%v invalidated=%d", res.Err, tok.invalidated)
	}
}

func TestFetchAll_JobCancelled(t *testing.T) {
	l := newLister()
	l.on("a", hang)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	cfg := testConfig()
	cfg.Timeout = time.Minute
	f := New(cfg, resilience.NewGate(0), &staticToken{}, l, quiet)
	rep := f.FetchAll(ctx, sources("a"))
	if len(rep.Errors) != 1 || !errors.Is(rep.Errors[0].Err, context.DeadlineExceeded) {
		t.Fatalf("errors = %v", rep.Errors)
	}
}

// End to end through the real client: source returns A (1h ago) and B (2h ago).
func TestFetchAll_NewestFirstThroughClient(t *testing.T) {
	now := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "25" {
			t.Errorf("limit = %q", r.URL.Query().Get("limit"))
		}
		fmt.Fprintf(w, `{"data":{"children":[
			{"kind":"t3","data":{"id":"b","name":"t3_b","title":"B","author":"bob","created_utc":%d}},
			{"kind":"t3","data":{"id":"a","name":"t3_a","title":"A","author":"alice","created_utc":%d}}
		]}}`, now.Add(-2*time.Hour).Unix(), now.Add(-time.Hour).Unix())
	}))
	defer srv.Close()

	api := contentapi.New(contentapi.WithBaseURL(srv.URL))
	f := New(testConfig(), resilience.NewGate(0), &staticToken{}, api, quiet)
	rep := f.FetchAll(context.Background(), sources("golang"))

	items := rep.Items()
	if len(items) != 2 || items[0].ID != "t3_a" || items[1].ID != "t3_b" {
		b, _ := json.Marshal(items)
		t.Fatalf("unexpected items %s", b)
	}
}
