package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/WessleyAI/leadsignal/engine/domain"
)

// UserToken loads the tenant's stored user credential.
func (s *Store) UserToken(ctx context.Context, tenantID string) (domain.CredentialToken, error) {
	var (
		tok    domain.CredentialToken
		expiry sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, expires_at, scopes
		FROM user_credentials
		WHERE tenant_id = $1
	`, tenantID).Scan(&tok.AccessToken, &tok.RefreshToken, &expiry, pq.Array(&tok.Scopes))
	if err != nil {
		return domain.CredentialToken{}, notFound(err, "user token for tenant "+tenantID)
	}
	if expiry.Valid {
		tok.Expiry = expiry.Time
	}
	return tok, nil
}

// SaveUserToken persists a refreshed credential for the tenant.
func (s *Store) SaveUserToken(ctx context.Context, tenantID string, tok domain.CredentialToken) error {
	var expiry sql.NullTime
	if !tok.Expiry.IsZero() {
		expiry = sql.NullTime{Time: tok.Expiry.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_credentials (tenant_id, access_token, refresh_token, expires_at, scopes, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (tenant_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			scopes = EXCLUDED.scopes,
			updated_at = now()
	`, tenantID, tok.AccessToken, tok.RefreshToken, expiry, pq.Array(nonNil(tok.Scopes)))
	if err != nil {
		return fmt.Errorf("save user token for tenant %s: %w", tenantID, err)
	}
	return nil
}
