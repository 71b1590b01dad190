package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/WessleyAI/leadsignal/engine/domain"
)

// TenantRecords returns one row per (tenant, website, account) pairing,
// oldest website and account first, so the tenant loader's first-match rule
// is stable across runs.
func (s *Store) TenantRecords(ctx context.Context) ([]domain.TenantRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id,
			t.subscription,
			w.id,
			w.name,
			w.description,
			w.keywords,
			w.target_audience,
			w.active,
			a.id,
			a.username,
			a.active
		FROM tenants t
		JOIN websites w ON w.tenant_id = t.id
		JOIN external_accounts a ON a.tenant_id = t.id
		ORDER BY t.id, w.created_at, w.id, a.created_at, a.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close()

	var out []domain.TenantRecord
	for rows.Next() {
		var r domain.TenantRecord
		var sub string
		if err := rows.Scan(
			&r.TenantID,
			&sub,
			&r.Website.ID,
			&r.Website.Name,
			&r.Website.Description,
			pq.Array(&r.Website.Keywords),
			&r.Website.TargetAudience,
			&r.Website.Active,
			&r.Account.ID,
			&r.Account.Username,
			&r.Account.Active,
		); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		r.Subscription = domain.SubscriptionStatus(sub)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}
	return out, nil
}

// PostedUnlinkedEvents returns the tenant's posted events that have no lead yet.
func (s *Store) PostedUnlinkedEvents(ctx context.Context, tenantID string) ([]domain.InteractionEvent, error) {
	if tenantID == "" {
		return nil, domain.NewValidationError("tenant_id", "", domain.ErrInvalid)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id,
			tenant_id,
			actor,
			kind,
			status,
			content,
			COALESCE(item_id, ''),
			created_at
		FROM interaction_events
		WHERE tenant_id = $1
			AND status = 'posted'
			AND lead_id IS NULL
		ORDER BY created_at, id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ScheduledEvents returns up to limit of the tenant's scheduled events, oldest first.
func (s *Store) ScheduledEvents(ctx context.Context, tenantID string, limit int) ([]domain.InteractionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id,
			tenant_id,
			actor,
			kind,
			status,
			content,
			COALESCE(item_id, ''),
			created_at
		FROM interaction_events
		WHERE tenant_id = $1
			AND status = 'scheduled'
		ORDER BY created_at, id
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query scheduled events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]domain.InteractionEvent, error) {
	var out []domain.InteractionEvent
	for rows.Next() {
		var e domain.InteractionEvent
		var kind, status string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Actor, &kind, &status, &e.Content, &e.ItemID, &e.At); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = domain.InteractionKind(kind)
		e.Status = domain.InteractionStatus(status)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// TransitionEvent moves an event from one status to the next. The update is
// guarded on the current status so concurrent writers cannot skip a step;
// ErrNotFound means the event does not exist in that status.
func (s *Store) TransitionEvent(ctx context.Context, tenantID, eventID string, from, to domain.InteractionStatus) error {
	if !from.CanTransition(to) {
		return domain.NewValidationError("status", string(from)+"->"+string(to), domain.ErrInvalid)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE interaction_events
		SET status = $1
		WHERE tenant_id = $2 AND id = $3 AND status = $4
	`, string(to), tenantID, eventID, string(from))
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("event %s in status %s: %w", eventID, from, domain.ErrNotFound)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}
