package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/WessleyAI/leadsignal/engine/domain"
	"github.com/WessleyAI/leadsignal/pkg/metrics"
)

// TokenStore persists per-tenant user tokens.
type TokenStore interface {
	UserToken(ctx context.Context, tenantID string) (domain.CredentialToken, error)
	SaveUserToken(ctx context.Context, tenantID string, tok domain.CredentialToken) error
}

// UserConfig configures the refresh-token exchange.
type UserConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	UserAgent    string
	// Margin treats tokens as expired this long before their stored expiry.
	Margin time.Duration
}

// UserTokens hands out per-tenant user tokens, refreshing and persisting them
// when expired. A failure for one tenant never touches another's token.
type UserTokens struct {
	oauth  oauth2.Config
	store  TokenStore
	margin time.Duration
	http   *http.Client
	now    func() time.Time
	logger *slog.Logger
	sf     singleflight.Group
}

// NewUserTokens creates a user token manager backed by store.
func NewUserTokens(cfg UserConfig, store TokenStore, logger *slog.Logger) *UserTokens {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	return &UserTokens{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		store:  store,
		margin: cfg.Margin,
		http:   newHTTPClient(cfg.UserAgent),
		now:    time.Now,
		logger: logger,
	}
}

// Token returns a usable token for tenantID. Expired or unknown-expiry tokens
// are refreshed and the new pair is persisted before it is returned.
func (u *UserTokens) Token(ctx context.Context, tenantID string) (domain.CredentialToken, error) {
	tok, err := u.store.UserToken(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.CredentialToken{}, &domain.CredentialError{TenantID: tenantID, Err: err}
		}
		return domain.CredentialToken{}, fmt.Errorf("load user token: %w", err)
	}
	if tok.ValidAt(u.now(), u.margin) {
		return tok, nil
	}

	ch := u.sf.DoChan(tenantID, func() (any, error) {
		return u.refresh(ctx, tenantID, tok)
	})
	select {
	case <-ctx.Done():
		return domain.CredentialToken{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.CredentialToken{}, res.Err
		}
		return res.Val.(domain.CredentialToken), nil
	}
}

func (u *UserTokens) refresh(ctx context.Context, tenantID string, old domain.CredentialToken) (domain.CredentialToken, error) {
	if old.RefreshToken == "" {
		metrics.TokenRefresh.WithLabelValues("user", "error").Inc()
		return domain.CredentialToken{}, &domain.CredentialError{TenantID: tenantID, Err: errors.New("no refresh token stored")}
	}

	// Shared by every caller waiting on this tenant.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
	defer cancel()
	rctx := context.WithValue(ctx, oauth2.HTTPClient, u.http)

	t, err := u.oauth.TokenSource(rctx, &oauth2.Token{RefreshToken: old.RefreshToken}).Token()
	if err != nil {
		metrics.TokenRefresh.WithLabelValues("user", "error").Inc()
		u.logger.Warn("user token refresh failed", "tenant_id", tenantID, "err", err)
		return domain.CredentialToken{}, &domain.CredentialError{TenantID: tenantID, Err: err}
	}

	tok := fromOAuth(t, u.now())
	if tok.RefreshToken == "" {
		tok.RefreshToken = old.RefreshToken
	}
	if len(tok.Scopes) == 0 {
		tok.Scopes = old.Scopes
	}
	if err := u.store.SaveUserToken(ctx, tenantID, tok); err != nil {
		metrics.TokenRefresh.WithLabelValues("user", "error").Inc()
		return domain.CredentialToken{}, fmt.Errorf("persist user token for %s: %w", tenantID, err)
	}

	metrics.TokenRefresh.WithLabelValues("user", "ok").Inc()
	u.logger.Info("user token refreshed", "tenant_id", tenantID, "expires", tok.Expiry)
	return tok, nil
}
