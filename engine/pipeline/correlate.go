package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/WessleyAI/leadsignal/engine/classifier"
	"github.com/WessleyAI/leadsignal/engine/correlation"
	"github.com/WessleyAI/leadsignal/engine/domain"
	"github.com/WessleyAI/leadsignal/engine/grouper"
	"github.com/WessleyAI/leadsignal/pkg/metrics"
)

// TenantLoader returns the tenants eligible for this run.
type TenantLoader interface {
	LoadActive(ctx context.Context) ([]domain.ActiveTenant, error)
}

// EventStore lists the posted events not yet linked to a lead.
type EventStore interface {
	PostedUnlinkedEvents(ctx context.Context, tenantID string) ([]domain.InteractionEvent, error)
}

// Classifier scores one tenant's actor groups in a single call.
type Classifier interface {
	Classify(ctx context.Context, tc classifier.TenantContext, groups []grouper.ActorGroup) (classifier.Result, error)
}

// Correlator upserts leads and links events.
type Correlator interface {
	Correlate(ctx context.Context, tenantID string, cls []domain.Classification, groups []grouper.ActorGroup) (map[domain.ActorKey]string, correlation.Result, error)
}

// CorrelationDeps holds the collaborators of the correlation job.
type CorrelationDeps struct {
	Tenants    TenantLoader
	Events     EventStore
	Classifier Classifier
	Correlator Correlator
	// Workers bounds how many tenants are processed at once.
	Workers int
	// Timeout bounds the whole job; tenants still running when it fires are
	// reported as incomplete.
	Timeout time.Duration
	Logger  *slog.Logger
}

// TenantFailure names the tenant and stage that failed.
type TenantFailure struct {
	TenantID string `json:"tenant_id"`
	Stage    string `json:"stage"`
	Err      string `json:"error"`
}

// CorrelationReport counts a correlation run per stage.
type CorrelationReport struct {
	Tenants    int             `json:"tenants"`
	Events     int             `json:"events"`
	Groups     int             `json:"groups"`
	Classified int             `json:"classified"`
	Missing    int             `json:"missing"`
	Created    int             `json:"created"`
	Updated    int             `json:"updated"`
	Linked     int64           `json:"linked"`
	Failed     []TenantFailure `json:"failed,omitempty"`
	Incomplete []string        `json:"incomplete,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// tenantRun is one tenant's contribution to the report.
type tenantRun struct {
	events, groups, classified, missing int
	corr                                correlation.Result
	failure                             *TenantFailure
	incomplete                          bool
}

// Correlation classifies every active tenant's new interactions and turns
// the results into leads.
type Correlation struct {
	deps CorrelationDeps
}

// NewCorrelation creates a correlation job.
func NewCorrelation(deps CorrelationDeps) *Correlation {
	if deps.Workers <= 0 {
		deps.Workers = 4
	}
	if deps.Timeout <= 0 {
		deps.Timeout = 15 * time.Minute
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Correlation{deps: deps}
}

// Run processes every active tenant. A tenant that fails at any stage is
// reported and skipped; the others continue. The error is non-nil only when
// the tenant list itself cannot be loaded.
func (c *Correlation) Run(ctx context.Context) (CorrelationReport, error) {
	start := time.Now()
	defer metrics.ObserveSince("correlate", start)
	log := c.deps.Logger

	ctx, cancel := context.WithTimeout(ctx, c.deps.Timeout)
	defer cancel()

	var rep CorrelationReport
	tenants, err := c.deps.Tenants.LoadActive(ctx)
	if err != nil {
		rep.Duration = time.Since(start)
		return rep, fmt.Errorf("load tenants: %w", err)
	}
	rep.Tenants = len(tenants)
	log.Info("correlation started", "tenants", len(tenants), "workers", c.deps.Workers)

	runs := make([]tenantRun, len(tenants))
	var g errgroup.Group
	g.SetLimit(c.deps.Workers)
	for i, t := range tenants {
		g.Go(func() error {
			runs[i] = c.tenant(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	for i, r := range runs {
		rep.Events += r.events
		rep.Groups += r.groups
		rep.Classified += r.classified
		rep.Missing += r.missing
		rep.Created += r.corr.Created
		rep.Updated += r.corr.Updated
		rep.Linked += r.corr.Linked
		switch {
		case r.incomplete:
			rep.Incomplete = append(rep.Incomplete, tenants[i].TenantID)
		case r.failure != nil:
			rep.Failed = append(rep.Failed, *r.failure)
		}
	}
	rep.Duration = time.Since(start)

	log.Info("correlation complete",
		"tenants", rep.Tenants,
		"events", rep.Events,
		"groups", rep.Groups,
		"classified", rep.Classified,
		"missing", rep.Missing,
		"created", rep.Created,
		"updated", rep.Updated,
		"linked", rep.Linked,
		"failed", len(rep.Failed),
		"incomplete", len(rep.Incomplete),
		"duration", rep.Duration,
	)
	return rep, nil
}

// tenant runs load → group → classify → correlate for one tenant.
func (c *Correlation) tenant(ctx context.Context, t domain.ActiveTenant) (run tenantRun) {
	log := c.deps.Logger.With("tenant_id", t.TenantID)
	fail := func(stage string, err error) tenantRun {
		if ctx.Err() != nil {
			log.Warn("tenant abandoned", "stage", stage, "err", err)
			run.incomplete = true
			return run
		}
		log.Error("tenant failed", "stage", stage, "err", err)
		run.failure = &TenantFailure{TenantID: t.TenantID, Stage: stage, Err: err.Error()}
		return run
	}
	if err := ctx.Err(); err != nil {
		run.incomplete = true
		return run
	}

	events, err := c.deps.Events.PostedUnlinkedEvents(ctx, t.TenantID)
	if err != nil {
		return fail("load", err)
	}
	run.events = len(events)
	if len(events) == 0 {
		log.Debug("no new interactions")
		return run
	}

	groups := grouper.Group(events)
	run.groups = len(groups)

	res, err := c.deps.Classifier.Classify(ctx, classifier.ContextFor(t), groups)
	metrics.StageUnits.WithLabelValues("classified", metrics.Outcome(err, domain.Kind)).Inc()
	if err != nil {
		return fail("classify", err)
	}
	run.classified = len(res.Classifications)
	run.missing = len(res.Missing)
	if err := res.MissingError(); err != nil {
		log.Warn("actors left unclassified", "err", err)
	}

	_, corr, err := c.deps.Correlator.Correlate(ctx, t.TenantID, res.Classifications, groups)
	run.corr = corr
	if err != nil {
		return fail("correlate", err)
	}
	for _, ae := range corr.Errors {
		log.Warn("lead not saved", "actor", ae.Key.Actor, "err", ae.Err)
	}
	return run
}
