// Package tenants resolves which tenants are eligible for a pipeline run.
package tenants

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/leadsignal/engine/domain"
)

// DefaultAllowed is the set of subscription states eligible for processing.
var DefaultAllowed = []domain.SubscriptionStatus{domain.SubscriptionActive, domain.SubscriptionTrialing}

// RecordSource lists candidate tenant rows, one per (tenant, website, account).
type RecordSource interface {
	TenantRecords(ctx context.Context) ([]domain.TenantRecord, error)
}

// Loader filters tenant records down to the active set.
type Loader struct {
	src     RecordSource
	allowed map[domain.SubscriptionStatus]bool
	logger  *slog.Logger
}

// NewLoader creates a Loader. An empty allowed list uses DefaultAllowed.
func NewLoader(src RecordSource, allowed []domain.SubscriptionStatus, logger *slog.Logger) *Loader {
	if len(allowed) == 0 {
		allowed = DefaultAllowed
	}
	set := make(map[domain.SubscriptionStatus]bool, len(allowed))
	for _, s := range allowed {
		set[s] = true
	}
	return &Loader{src: src, allowed: set, logger: logger}
}

// LoadActive returns each eligible tenant once, keeping the first eligible
// website/account pairing the source returned. Ineligible tenants are
// dropped without error.
func (l *Loader) LoadActive(ctx context.Context) ([]domain.ActiveTenant, error) {
	recs, err := l.src.TenantRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tenant records: %w", err)
	}

	seen := make(map[string]bool, len(recs))
	var out []domain.ActiveTenant
	for _, r := range recs {
		if seen[r.TenantID] {
			continue
		}
		if reason := l.ineligible(r); reason != "" {
			l.logger.Debug("tenant skipped", "tenant_id", r.TenantID, "reason", reason)
			continue
		}
		seen[r.TenantID] = true
		out = append(out, domain.ActiveTenant{TenantID: r.TenantID, Website: r.Website, Account: r.Account})
	}
	l.logger.Info("active tenants loaded", "candidates", len(recs), "active", len(out))
	return out, nil
}

// ineligible returns why r is excluded, or "".
func (l *Loader) ineligible(r domain.TenantRecord) string {
	switch {
	case !l.allowed[r.Subscription]:
		return "subscription " + string(r.Subscription)
	case r.Website.ID == "" || !r.Website.Active:
		return "website inactive"
	case r.Account.ID == "" || !r.Account.Active:
		return "account inactive"
	}
	return ""
}
