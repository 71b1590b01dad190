// Package credentials owns the bearer tokens used for the content API: one
// application token cached in memory, and per-tenant user tokens that are
// persisted and refreshed on demand.
package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/WessleyAI/leadsignal/engine/domain"
	"github.com/WessleyAI/leadsignal/pkg/metrics"
)

const (
	DefaultTokenURL = "https://www.reddit.com/api/v1/access_token"
	// DefaultMargin is subtracted from every token's lifetime.
	DefaultMargin = 5 * time.Minute
	// fallbackLifetime applies when the grant response omits expires_in.
	fallbackLifetime = time.Hour
	refreshTimeout   = 30 * time.Second
)

// AppConfig holds the static application identity.
type AppConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	UserAgent    string
	Margin       time.Duration
}

// AppTokens caches the application-only token. Refreshes are single-flight:
// callers arriving while a refresh is running share its result.
type AppTokens struct {
	cc     clientcredentials.Config
	margin time.Duration
	http   *http.Client
	now    func() time.Time
	logger *slog.Logger

	mu  sync.Mutex
	tok domain.CredentialToken
	sf  singleflight.Group
}

// NewAppTokens creates the application token cache.
func NewAppTokens(cfg AppConfig, logger *slog.Logger) *AppTokens {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Margin <= 0 {
		cfg.Margin = DefaultMargin
	}
	return &AppTokens{
		cc: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		margin: cfg.Margin,
		http:   newHTTPClient(cfg.UserAgent),
		now:    time.Now,
		logger: logger,
	}
}

// Token returns a valid application bearer token, fetching one if the cached
// token is missing or inside the safety margin.
func (a *AppTokens) Token(ctx context.Context) (string, error) {
	if tok, ok := a.cached(); ok {
		return tok, nil
	}

	ch := a.sf.DoChan("app", func() (any, error) {
		if tok, ok := a.cached(); ok {
			return tok, nil
		}
		return a.refresh(ctx)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token, e.g. after the API answered 401.
func (a *AppTokens) Invalidate() {
	a.mu.Lock()
	a.tok = domain.CredentialToken{}
	a.mu.Unlock()
}

func (a *AppTokens) cached() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tok.ValidAt(a.now(), a.margin) {
		return a.tok.AccessToken, true
	}
	return "", false
}

func (a *AppTokens) refresh(ctx context.Context) (string, error) {
	// Detached so one caller's cancellation doesn't fail every waiter.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.http)

	t, err := a.cc.Token(ctx)
	if err != nil {
		metrics.TokenRefresh.WithLabelValues("app", "error").Inc()
		return "", &domain.CredentialError{Err: fmt.Errorf("client credentials grant: %w", err)}
	}
	tok := fromOAuth(t, a.now())

	a.mu.Lock()
	a.tok = tok
	a.mu.Unlock()

	metrics.TokenRefresh.WithLabelValues("app", "ok").Inc()
	a.logger.Debug("application token refreshed", "expires", tok.Expiry)
	return tok.AccessToken, nil
}

func fromOAuth(t *oauth2.Token, now time.Time) domain.CredentialToken {
	expiry := t.Expiry
	if expiry.IsZero() {
		expiry = now.Add(fallbackLifetime)
	}
	return domain.CredentialToken{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Expiry:       expiry,
		Scopes:       scopes(t),
	}
}

func scopes(t *oauth2.Token) []string {
	s, _ := t.Extra("scope").(string)
	if s == "" {
		return nil
	}
	return strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' })
}

type uaTransport struct {
	base http.RoundTripper
	ua   string
}

func (t uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.ua == "" {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.ua)
	return t.base.RoundTrip(req)
}

func newHTTPClient(ua string) *http.Client {
	return &http.Client{
		Timeout:   refreshTimeout,
		Transport: uaTransport{base: http.DefaultTransport, ua: ua},
	}
}
