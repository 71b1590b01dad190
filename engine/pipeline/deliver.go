package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/leadsignal/engine/contentapi"
	"github.com/WessleyAI/leadsignal/engine/domain"
	"github.com/WessleyAI/leadsignal/pkg/metrics"
)

// ScheduledStore lists events waiting to be posted.
type ScheduledStore interface {
	ScheduledEvents(ctx context.Context, tenantID string, limit int) ([]domain.InteractionEvent, error)
}

// Deliverer posts one scheduled event.
type Deliverer interface {
	Deliver(ctx context.Context, e domain.InteractionEvent) (contentapi.WriteResult, error)
}

// DeliveryDeps holds the collaborators of the delivery job.
type DeliveryDeps struct {
	Tenants   TenantLoader
	Events    ScheduledStore
	Sender    Deliverer
	PerTenant int
	Timeout   time.Duration
	Logger    *slog.Logger
}

// DeliveryReport counts a delivery run.
type DeliveryReport struct {
	Tenants    int             `json:"tenants"`
	Scheduled  int             `json:"scheduled"`
	Delivered  int             `json:"delivered"`
	Rejected   int             `json:"rejected"`
	Failed     []TenantFailure `json:"failed,omitempty"`
	Incomplete bool            `json:"incomplete,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// Delivery posts every active tenant's scheduled events. All writes pass
// the sender's gate, so tenants are handled one after another.
type Delivery struct {
	deps DeliveryDeps
}

// NewDelivery creates a delivery job.
func NewDelivery(deps DeliveryDeps) *Delivery {
	if deps.PerTenant <= 0 {
		deps.PerTenant = 50
	}
	if deps.Timeout <= 0 {
		deps.Timeout = 15 * time.Minute
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Delivery{deps: deps}
}

// Run delivers up to PerTenant events per tenant. A credential failure
// skips the rest of that tenant's events; a rejected write skips only the
// event, which stays scheduled for the next run.
func (d *Delivery) Run(ctx context.Context) (DeliveryReport, error) {
	start := time.Now()
	defer metrics.ObserveSince("deliver", start)
	log := d.deps.Logger

	ctx, cancel := context.WithTimeout(ctx, d.deps.Timeout)
	defer cancel()

	var rep DeliveryReport
	tenants, err := d.deps.Tenants.LoadActive(ctx)
	if err != nil {
		rep.Duration = time.Since(start)
		return rep, fmt.Errorf("load tenants: %w", err)
	}
	rep.Tenants = len(tenants)

tenants:
	for _, t := range tenants {
		if ctx.Err() != nil {
			rep.Incomplete = true
			break
		}
		events, err := d.deps.Events.ScheduledEvents(ctx, t.TenantID, d.deps.PerTenant)
		if err != nil {
			log.Error("load scheduled events", "tenant_id", t.TenantID, "err", err)
			rep.Failed = append(rep.Failed, TenantFailure{TenantID: t.TenantID, Stage: "load", Err: err.Error()})
			continue
		}
		rep.Scheduled += len(events)

		for _, e := range events {
			_, err := d.deps.Sender.Deliver(ctx, e)
			switch {
			case err == nil:
				rep.Delivered++
			case ctx.Err() != nil:
				rep.Incomplete = true
				break tenants
			case errors.Is(err, domain.ErrCredential):
				log.Error("tenant credential unusable", "tenant_id", t.TenantID, "err", err)
				rep.Failed = append(rep.Failed, TenantFailure{TenantID: t.TenantID, Stage: "credential", Err: err.Error()})
				continue tenants
			default:
				rep.Rejected++
				log.Warn("event not delivered", "tenant_id", t.TenantID, "event_id", e.ID, "actor", e.Actor, "err", err)
			}
		}
	}
	rep.Duration = time.Since(start)

	log.Info("delivery complete",
		"tenants", rep.Tenants,
		"scheduled", rep.Scheduled,
		"delivered", rep.Delivered,
		"rejected", rep.Rejected,
		"failed", len(rep.Failed),
		"incomplete", rep.Incomplete,
		"duration", rep.Duration,
	)
	return rep, nil
}
