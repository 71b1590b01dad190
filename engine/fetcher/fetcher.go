// Package fetcher pulls the newest items from every source through one shared
// admission gate, retrying each call according to its typed outcome.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/WessleyAI/leadsignal/engine/contentapi"
	"github.com/WessleyAI/leadsignal/engine/domain"
	"github.com/WessleyAI/leadsignal/pkg/fn"
	"github.com/WessleyAI/leadsignal/pkg/metrics"
	"github.com/WessleyAI/leadsignal/pkg/resilience"
)

// TokenSource supplies the application bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Lister lists a source's newest items.
type Lister interface {
	ListNewest(ctx context.Context, token, source string, limit int) ([]domain.DiscoveredItem, error)
}

type invalidator interface{ Invalidate() }

// Config controls fetch behavior.
type Config struct {
	Limit       int
	MaxAttempts int
	// Timeout bounds each individual call.
	Timeout time.Duration
	// Backoff applies to 429 responses without a Retry-After hint.
	Backoff fn.Backoff
	Workers int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Limit:       25,
		MaxAttempts: 3,
		Timeout:     30 * time.Second,
		Backoff:     fn.Backoff{Base: time.Second, Max: time.Minute, Jitter: 0.3},
		Workers:     8,
	}
}

// SourceResult is the outcome for one source.
type SourceResult struct {
	Source   domain.Source
	Items    []domain.DiscoveredItem
	Err      error
	Attempts int
}

// SourceError names the source that failed.
type SourceError struct {
	SourceID string
	Err      error
}

func (e SourceError) Error() string { return fmt.Sprintf("source %s: %v", e.SourceID, e.Err) }

// Report aggregates a FetchAll run.
type Report struct {
	Results []SourceResult
	Total   int
	Errors  []SourceError
}

// Items returns every fetched item in source order.
func (r Report) Items() []domain.DiscoveredItem {
	out := make([]domain.DiscoveredItem, 0, r.Total)
	for _, res := range r.Results {
		out = append(out, res.Items...)
	}
	return out
}

// Fetcher fetches sources concurrently; every attempt passes the shared gate.
type Fetcher struct {
	cfg    Config
	gate   *resilience.Gate
	tokens TokenSource
	api    Lister
	logger *slog.Logger
}

// New creates a Fetcher. The gate should be shared by everything that calls
// the content API with the application token.
func New(cfg Config, gate *resilience.Gate, tokens TokenSource, api Lister, logger *slog.Logger) *Fetcher {
	def := DefaultConfig()
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	return &Fetcher{cfg: cfg, gate: gate, tokens: tokens, api: api, logger: logger}
}

// FetchAll dispatches every source concurrently. A failing source yields an
// error entry and never aborts the others.
func (f *Fetcher) FetchAll(ctx context.Context, sources []domain.Source) Report {
	results := fn.ParMap(ctx, sources, f.cfg.Workers, f.FetchOne, func(src domain.Source, err error) SourceResult {
		return SourceResult{Source: src, Err: err}
	})

	var rep Report
	rep.Results = results
	for _, r := range results {
		if r.Err != nil {
			rep.Errors = append(rep.Errors, SourceError{SourceID: r.Source.ID, Err: r.Err})
			metrics.StageUnits.WithLabelValues("fetched", domain.Kind(r.Err)).Inc()
			f.logger.Warn("fetch failed", "source", r.Source.ID, "attempts", r.Attempts, "err", r.Err)
			continue
		}
		rep.Total += len(r.Items)
		metrics.StageUnits.WithLabelValues("fetched", "ok").Add(float64(len(r.Items)))
	}
	f.logger.Info("fetch complete", "sources", len(sources), "items", rep.Total, "errors", len(rep.Errors))
	return rep
}

// FetchOne fetches a single source with retries.
func (f *Fetcher) FetchOne(ctx context.Context, src domain.Source) SourceResult {
	items, attempts, err := fn.Attempt(ctx, fn.RetryOpts{MaxAttempts: f.cfg.MaxAttempts},
		func(ctx context.Context, attempt int) fn.Outcome[[]domain.DiscoveredItem] {
			out := f.attempt(ctx, src.ID, attempt)
			metrics.FetchAttempts.WithLabelValues(out.Verdict.String()).Inc()
			return out
		})
	return SourceResult{Source: src, Items: items, Err: err, Attempts: attempts}
}

func (f *Fetcher) attempt(ctx context.Context, source string, attempt int) fn.Outcome[[]domain.DiscoveredItem] {
	if err := f.gate.Wait(ctx); err != nil {
		return fn.Stop[[]domain.DiscoveredItem](err)
	}
	token, err := f.tokens.Token(ctx)
	if err != nil {
		return fn.Stop[[]domain.DiscoveredItem](err)
	}

	callCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	items, err := f.api.ListNewest(callCtx, token, source, f.cfg.Limit)
	if err == nil {
		return fn.Succeed(items)
	}
	return f.classify(ctx, err, attempt)
}

// classify turns a failed call into a retry decision.
func (f *Fetcher) classify(ctx context.Context, err error, attempt int) fn.Outcome[[]domain.DiscoveredItem] {
	if ctx.Err() != nil {
		return fn.Stop[[]domain.DiscoveredItem](ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fn.Again[[]domain.DiscoveredItem](fmt.Errorf("call timeout: %w", errors.Join(domain.ErrTransient, err)), 0)
	}
	if errors.Is(err, domain.ErrMalformed) {
		return fn.Stop[[]domain.DiscoveredItem](err)
	}

	var se *contentapi.StatusError
	if !errors.As(err, &se) {
		// Transport-level failure.
		return fn.Again[[]domain.DiscoveredItem](errors.Join(domain.ErrTransient, err), 0)
	}
	switch {
	case se.Code == http.StatusTooManyRequests:
		wait := se.RetryAfter
		if wait <= 0 {
			wait = f.cfg.Backoff.Delay(attempt)
		}
		return fn.Again[[]domain.DiscoveredItem](err, wait)
	case se.Code >= 500:
		return fn.Again[[]domain.DiscoveredItem](err, 0)
	case se.Code == http.StatusUnauthorized:
		if inv, ok := f.tokens.(invalidator); ok {
			inv.Invalidate()
			return fn.Again[[]domain.DiscoveredItem](err, 0)
		}
	}
	return fn.Stop[[]domain.DiscoveredItem](err)
}
