package embedding

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/WessleyAI/leadsignal/engine/domain"
	"github.com/WessleyAI/leadsignal/pkg/fn"
	"github.com/WessleyAI/leadsignal/pkg/metrics"
)

// Input is one item to embed.
type Input struct {
	Title string
	Body  string
}

// Text is what gets embedded: the title, a blank line, then the body.
func (in Input) Text() string {
	title := strings.TrimSpace(in.Title)
	body := strings.TrimSpace(in.Body)
	switch {
	case body == "":
		return title
	case title == "":
		return body
	}
	return title + "\n\n" + body
}

// Batch is the output of Generate. Results[i] belongs to inputs[i]; a failed
// Result is the explicit failure marker for that item.
type Batch struct {
	Results   []fn.Result[[]float32]
	Succeeded int
	Failed    int
}

// Vector returns the vector for input i, or false if it failed.
func (b Batch) Vector(i int) ([]float32, bool) {
	v, err := b.Results[i].Unwrap()
	return v, err == nil
}

// Options controls concurrency and retries.
type Options struct {
	Workers     int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// CallTimeout bounds each attempt.
	CallTimeout time.Duration
}

// DefaultOptions: 200 workers, 3 attempts, 1s/2s/4s backoff.
func DefaultOptions() Options {
	return Options{
		Workers:     200,
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    4 * time.Second,
		CallTimeout: 30 * time.Second,
	}
}

// Generator embeds batches with a fixed-size worker pool and per-item retries.
type Generator struct {
	emb    Embedder
	opts   Options
	retry  retrypolicy.RetryPolicy[[]float32]
	logger *slog.Logger
}

// NewGenerator creates a Generator around emb.
func NewGenerator(emb Embedder, opts Options, logger *slog.Logger) *Generator {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = def.BaseDelay
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay * 4
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}

	policy := retrypolicy.NewBuilder[[]float32]().
		WithBackoff(opts.BaseDelay, opts.MaxDelay).
		WithMaxRetries(opts.MaxAttempts - 1).
		HandleIf(func(_ []float32, err error) bool {
			return retryable(err)
		}).
		Build()

	return &Generator{emb: emb, opts: opts, retry: policy, logger: logger}
}

// retryable excludes malformed output and caller errors, which fail the same
// way every time.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, domain.ErrMalformed) && !errors.Is(err, domain.ErrInvalid) && !errors.Is(err, context.Canceled)
}

// Generate embeds every input. len(Results) always equals len(inputs).
func (g *Generator) Generate(ctx context.Context, inputs []Input) Batch {
	results := fn.ParMapResult(ctx, inputs, g.opts.Workers, func(ctx context.Context, in Input) fn.Result[[]float32] {
		return fn.FromPair(g.EmbedText(ctx, in.Text()))
	})

	ok, failed := fn.Count(results)
	metrics.StageUnits.WithLabelValues("embedded", "ok").Add(float64(ok))
	if failed > 0 {
		metrics.StageUnits.WithLabelValues("embedded", "error").Add(float64(failed))
	}
	g.logger.Info("embedding batch complete", "items", len(inputs), "ok", ok, "failed", failed)
	return Batch{Results: results, Succeeded: ok, Failed: failed}
}

// EmbedText embeds one text with retries.
func (g *Generator) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.NewValidationError("text", "", domain.ErrInvalid)
	}
	return failsafe.With(g.retry).WithContext(ctx).Get(func() ([]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.opts.CallTimeout)
		defer cancel()
		return g.emb.Embed(callCtx, text)
	})
}
