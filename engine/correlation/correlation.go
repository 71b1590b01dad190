// Package correlation turns classifications into durable leads and links the
// originating interaction events back to them.
package correlation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/leadsignal/engine/domain"
	"github.com/WessleyAI/leadsignal/engine/grouper"
	"github.com/WessleyAI/leadsignal/pkg/metrics"
)

// LeadStore persists leads and event links.
type LeadStore interface {
	// UpsertLead inserts or updates the lead keyed by (TenantID, Actor). On
	// update the generated fields are overwritten, the interaction window is
	// widened to cover lead's window and Notes is left untouched. It returns
	// the lead ID and whether a new row was created.
	UpsertLead(ctx context.Context, lead domain.Lead) (id string, created bool, err error)
	// BackfillLeadRefs sets lead_id on the given tenant events that have none
	// and returns how many rows changed.
	BackfillLeadRefs(ctx context.Context, tenantID, leadID string, eventIDs []string) (int64, error)
}

// ActorError is a per-actor failure inside an otherwise successful run.
type ActorError struct {
	Key domain.ActorKey
	Err error
}

func (e ActorError) Error() string { return fmt.Sprintf("%s: %v", e.Key, e.Err) }

// Result counts what a Correlate call changed.
type Result struct {
	Created int
	Updated int
	Linked  int64
	Errors  []ActorError
}

// Engine upserts leads for one tenant at a time.
type Engine struct {
	store  LeadStore
	logger *slog.Logger
}

// New creates an Engine.
func New(store LeadStore, logger *slog.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// Correlate upserts one lead per classification and, once every upsert for
// the tenant has been attempted, back-fills the lead ID onto the group's
// events that are still unlinked. Classifications without a matching group
// are skipped. Re-running with the same input creates nothing and links
// nothing.
//
// The returned error is non-nil only for invalid input or a cancelled
// context; store failures for single actors are collected in Result.Errors.
func (e *Engine) Correlate(ctx context.Context, tenantID string, cls []domain.Classification, groups []grouper.ActorGroup) (map[domain.ActorKey]string, Result, error) {
	var res Result
	byActor := make(map[string]grouper.ActorGroup, len(groups))
	for _, g := range groups {
		if g.Key.TenantID != tenantID {
			return nil, res, domain.NewValidationError("tenant_id", g.Key.TenantID, domain.ErrInvalid)
		}
		byActor[g.Key.Actor] = g
	}

	ids := make(map[domain.ActorKey]string, len(cls))
	for _, c := range cls {
		if err := ctx.Err(); err != nil {
			return ids, res, err
		}
		g, ok := byActor[c.Actor]
		if !ok {
			e.logger.Warn("classification without interactions", "tenant_id", tenantID, "actor", c.Actor)
			continue
		}
		id, created, err := e.store.UpsertLead(ctx, leadFor(tenantID, c, g))
		metrics.StageUnits.WithLabelValues("correlated", metrics.Outcome(err, domain.Kind)).Inc()
		if err != nil {
			res.Errors = append(res.Errors, ActorError{Key: g.Key, Err: err})
			e.logger.Error("lead upsert failed", "tenant_id", tenantID, "actor", c.Actor, "err", err)
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
		ids[g.Key] = id
	}

	for key, id := range ids {
		if err := ctx.Err(); err != nil {
			return ids, res, err
		}
		n, err := e.store.BackfillLeadRefs(ctx, tenantID, id, byActor[key.Actor].EventIDs())
		if err != nil {
			res.Errors = append(res.Errors, ActorError{Key: key, Err: fmt.Errorf("backfill: %w", err)})
			e.logger.Error("event backfill failed", "tenant_id", tenantID, "actor", key.Actor, "err", err)
			continue
		}
		res.Linked += n
	}

	e.logger.Info("tenant correlated",
		"tenant_id", tenantID, "created", res.Created, "updated", res.Updated,
		"linked", res.Linked, "errors", len(res.Errors))
	return ids, res, nil
}

func leadFor(tenantID string, c domain.Classification, g grouper.ActorGroup) domain.Lead {
	return domain.Lead{
		TenantID:           tenantID,
		Actor:              g.Key.Actor,
		Score:              domain.ClampScore(c.Score),
		BuyingSignals:      nonNil(c.BuyingSignals),
		PainPoints:         nonNil(c.PainPoints),
		Summary:            c.Summary,
		FirstInteractionAt: g.First(),
		LastInteractionAt:  g.Last(),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
