// Package outreach posts scheduled interactions to the content platform on
// behalf of a tenant's account.
package outreach

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/leadsignal/engine/contentapi"
	"github.com/WessleyAI/leadsignal/engine/domain"
	"github.com/WessleyAI/leadsignal/pkg/metrics"
	"github.com/WessleyAI/leadsignal/pkg/resilience"
)

// UserTokens resolves a usable user credential for a tenant.
type UserTokens interface {
	Token(ctx context.Context, tenantID string) (domain.CredentialToken, error)
}

// Writer performs content writes with a user token.
type Writer interface {
	Reply(ctx context.Context, token, thingID, text string) (contentapi.WriteResult, error)
	SendMessage(ctx context.Context, token, to, subject, text string) (contentapi.WriteResult, error)
}

// EventStore records status changes.
type EventStore interface {
	TransitionEvent(ctx context.Context, tenantID, eventID string, from, to domain.InteractionStatus) error
}

// Sender delivers scheduled events. Writes share the fetch gate so the whole
// process stays under one request rate.
type Sender struct {
	tokens  UserTokens
	api     Writer
	events  EventStore
	gate    *resilience.Gate
	subject string
	logger  *slog.Logger
}

// New creates a Sender. subject is used for direct messages.
func New(tokens UserTokens, api Writer, events EventStore, gate *resilience.Gate, subject string, logger *slog.Logger) *Sender {
	if subject == "" {
		subject = "Following up"
	}
	return &Sender{tokens: tokens, api: api, events: events, gate: gate, subject: subject, logger: logger}
}

// Deliver posts a scheduled event and marks it posted. A write the service
// rejects leaves the event scheduled and returns the service's errors.
func (s *Sender) Deliver(ctx context.Context, e domain.InteractionEvent) (res contentapi.WriteResult, err error) {
	defer func() {
		metrics.StageUnits.WithLabelValues("delivered", metrics.Outcome(err, domain.Kind)).Inc()
	}()
	if e.Status != domain.StatusScheduled {
		return res, domain.NewValidationError("status", string(e.Status), domain.ErrInvalid)
	}

	tok, err := s.tokens.Token(ctx, e.TenantID)
	if err != nil {
		return res, err
	}
	if err := s.gate.Wait(ctx); err != nil {
		return res, err
	}

	switch e.Kind {
	case domain.KindReplyToPost, domain.KindReplyToComment:
		if e.ItemID == "" {
			return res, domain.NewValidationError("item_id", "", domain.ErrInvalid)
		}
		res, err = s.api.Reply(ctx, tok.AccessToken, e.ItemID, e.Content)
	case domain.KindDirectMessage:
		res, err = s.api.SendMessage(ctx, tok.AccessToken, e.Actor, s.subject, e.Content)
	default:
		return res, domain.NewValidationError("kind", string(e.Kind), domain.ErrInvalid)
	}
	if err != nil {
		return res, fmt.Errorf("deliver event %s: %w", e.ID, err)
	}
	if err := res.Err(); err != nil {
		s.logger.Warn("write rejected", "tenant_id", e.TenantID, "event_id", e.ID, "actor", e.Actor, "err", err)
		return res, fmt.Errorf("deliver event %s: %w", e.ID, err)
	}

	if err := s.events.TransitionEvent(ctx, e.TenantID, e.ID, domain.StatusScheduled, domain.StatusPosted); err != nil {
		return res, fmt.Errorf("mark event %s posted: %w", e.ID, err)
	}
	s.logger.Info("event delivered", "tenant_id", e.TenantID, "event_id", e.ID, "kind", e.Kind, "thing_id", res.ThingID)
	return res, nil
}
