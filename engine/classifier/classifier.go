// Package classifier scores a tenant's actors in one request to a
// text-generation service and validates the structured response.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/WessleyAI/leadsignal/engine/domain"
	"github.com/WessleyAI/leadsignal/engine/grouper"
	"github.com/WessleyAI/leadsignal/pkg/resilience"
)

// Completer sends a system and user message and returns the raw reply text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Options tunes the classifier.
type Options struct {
	// Timeout bounds the single classification call.
	Timeout time.Duration
	// MaxContentChars truncates each interaction in the prompt.
	MaxContentChars int
}

// Result holds the classifications for actors the service answered for.
// Missing lists submitted actors the response omitted; they are not
// classified this run.
type Result struct {
	Classifications []domain.Classification
	Missing         []string
}

// MissingError returns an error naming the omitted actors, or nil.
func (r Result) MissingError() error {
	if len(r.Missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", domain.ErrMissingActor, strings.Join(r.Missing, ", "))
}

// Classifier classifies one tenant's actor groups per call. It never retries.
type Classifier struct {
	llm     Completer
	breaker *resilience.Breaker
	opts    Options
	logger  *slog.Logger
}

// New creates a Classifier. The breaker is shared across tenants so an
// unavailable service stops being called for the rest of the run; malformed
// output does not count against it.
func New(llm Completer, opts Options, logger *slog.Logger) *Classifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.MaxContentChars <= 0 {
		opts.MaxContentChars = 1500
	}
	return &Classifier{
		llm: llm,
		breaker: resilience.NewBreaker(resilience.BreakerOpts{
			FailThreshold: 3,
			Cooldown:      time.Minute,
			Counts: func(err error) bool {
				return !errors.Is(err, domain.ErrMalformed) && !errors.Is(err, domain.ErrInvalid)
			},
			OnStateChange: func(from, to resilience.State) {
				logger.Warn("classifier breaker", "from", from.String(), "to", to.String())
			},
		}),
		opts:   opts,
		logger: logger,
	}
}

// Classify sends every group of tc's tenant in one request. Groups from any
// other tenant, and groups whose handles collide ignoring case, are rejected. A malformed response, an unknown actor or a
// duplicated actor fails the whole batch; omitted actors are reported in
// Result.Missing and skipped.
func (c *Classifier) Classify(ctx context.Context, tc TenantContext, groups []grouper.ActorGroup) (Result, error) {
	if len(groups) == 0 {
		return Result{}, nil
	}
	submitted := make(map[string]string, len(groups))
	for _, g := range groups {
		if g.Key.TenantID != tc.TenantID {
			return Result{}, domain.NewValidationError("tenant_id", g.Key.TenantID, domain.ErrInvalid)
		}
		key := strings.ToLower(g.Key.Actor)
		if key == "" {
			return Result{}, domain.NewValidationError("actor", g.Key.Actor, domain.ErrInvalid)
		}
		if prev, dup := submitted[key]; dup {
			return Result{}, domain.NewValidationError("actor", prev+","+g.Key.Actor, domain.ErrInvalid)
		}
		submitted[key] = g.Key.Actor
	}

	prompt, err := buildPrompt(tc, groups, c.opts.MaxContentChars)
	if err != nil {
		return Result{}, fmt.Errorf("build prompt: %w", err)
	}

	var raw string
	err = c.breaker.Call(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
		var cerr error
		raw, cerr = c.llm.Complete(ctx, systemPrompt, prompt)
		return cerr
	})
	if err != nil {
		return Result{}, fmt.Errorf("classify tenant %s: %w", tc.TenantID, err)
	}

	parsed, err := parseResponse(raw)
	if err != nil {
		return Result{}, err
	}
	return match(submitted, parsed)
}

// match maps response entries back to submitted actor handles.
func match(submitted map[string]string, parsed []domain.Classification) (Result, error) {
	var res Result
	answered := make(map[string]bool, len(parsed))
	for _, c := range parsed {
		key := strings.ToLower(c.Actor)
		handle, ok := submitted[key]
		if !ok {
			return Result{}, fmt.Errorf("%w: %q", domain.ErrUnknownActor, c.Actor)
		}
		if answered[key] {
			return Result{}, domain.Malformed("classification", "actor %q returned twice", c.Actor)
		}
		answered[key] = true
		c.Actor = handle
		res.Classifications = append(res.Classifications, c)
	}
	for key, handle := range submitted {
		if !answered[key] {
			res.Missing = append(res.Missing, handle)
		}
	}
	sort.Strings(res.Missing)
	return res, nil
}
