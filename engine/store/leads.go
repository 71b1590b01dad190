package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/WessleyAI/leadsignal/engine/domain"
)

// upsertLeadSQL never assigns notes; they belong to the tenant.
const upsertLeadSQL = `
	INSERT INTO leads (
		id,
		tenant_id,
		actor,
		score,
		buying_signals,
		pain_points,
		summary,
		first_interaction_at,
		last_interaction_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (tenant_id, actor) DO UPDATE SET
		score = EXCLUDED.score,
		buying_signals = EXCLUDED.buying_signals,
		pain_points = EXCLUDED.pain_points,
		summary = EXCLUDED.summary,
		first_interaction_at = LEAST(leads.first_interaction_at, EXCLUDED.first_interaction_at),
		last_interaction_at = GREATEST(leads.last_interaction_at, EXCLUDED.last_interaction_at),
		updated_at = now()
	RETURNING id, (xmax = 0) AS created
`

// UpsertLead inserts the lead or, when (tenant_id, actor) already exists,
// overwrites the generated fields and widens the interaction window. Notes
// are never written. The statement is atomic, so concurrent runs for the
// same actor converge on one row.
func (s *Store) UpsertLead(ctx context.Context, l domain.Lead) (string, bool, error) {
	if l.TenantID == "" || l.Actor == "" {
		return "", false, domain.NewValidationError("lead", l.TenantID+"/"+l.Actor, domain.ErrInvalid)
	}
	var (
		id      string
		created bool
	)
	err := s.db.QueryRowContext(ctx, upsertLeadSQL,
		uuid.NewString(),
		l.TenantID,
		l.Actor,
		domain.ClampScore(l.Score),
		pq.Array(nonNil(l.BuyingSignals)),
		pq.Array(nonNil(l.PainPoints)),
		l.Summary,
		l.FirstInteractionAt.UTC(),
		l.LastInteractionAt.UTC(),
	).Scan(&id, &created)
	if err != nil {
		return "", false, fmt.Errorf("upsert lead %s/%s: %w", l.TenantID, l.Actor, err)
	}
	return id, created, nil
}

// BackfillLeadRefs links the tenant's events to leadID where no lead is set
// yet. Already linked events are not touched, so repeated calls change
// nothing.
func (s *Store) BackfillLeadRefs(ctx context.Context, tenantID, leadID string, eventIDs []string) (int64, error) {
	if len(eventIDs) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE interaction_events
		SET lead_id = $1
		WHERE tenant_id = $2
			AND id = ANY($3)
			AND lead_id IS NULL
	`, leadID, tenantID, pq.Array(eventIDs))
	if err != nil {
		return 0, fmt.Errorf("backfill lead refs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("backfill lead refs: %w", err)
	}
	return n, nil
}

// Lead loads one lead by tenant and actor. The handle is matched
// case-insensitively, as leads are keyed by the normalized handle.
func (s *Store) Lead(ctx context.Context, tenantID, actor string) (domain.Lead, error) {
	var l domain.Lead
	err := s.db.QueryRowContext(ctx, `
		SELECT id,
			tenant_id,
			actor,
			score,
			buying_signals,
			pain_points,
			summary,
			first_interaction_at,
			last_interaction_at,
			notes
		FROM leads
		WHERE tenant_id = $1 AND actor = $2
	`, tenantID, domain.NormalizeActor(actor)).Scan(
		&l.ID,
		&l.TenantID,
		&l.Actor,
		&l.Score,
		pq.Array(&l.BuyingSignals),
		pq.Array(&l.PainPoints),
		&l.Summary,
		&l.FirstInteractionAt,
		&l.LastInteractionAt,
		&l.Notes,
	)
	if err != nil {
		return domain.Lead{}, notFound(err, "lead "+tenantID+"/"+actor)
	}
	return l, nil
}
