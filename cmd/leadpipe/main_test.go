package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/leadsignal/engine/domain"
	"github.com/WessleyAI/leadsignal/engine/pipeline"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeLeads map[string]domain.Lead

func (f fakeLeads) Lead(_ context.Context, tenantID, actor string) (domain.Lead, error) {
	l, ok := f[tenantID+"/"+actor]
	if !ok {
		return domain.Lead{}, domain.ErrNotFound
	}
	return l, nil
}

type fakeMatcher struct {
	got pipeline.MatchQuery
}

func (f *fakeMatcher) Match(_ context.Context, q pipeline.MatchQuery) ([]domain.ItemMatch, error) {
	f.got = q
	if strings.TrimSpace(q.Text) == "" {
		return nil, domain.ErrInvalid
	}
	return []domain.ItemMatch{{Item: domain.DiscoveredItem{ID: "i1", Title: "rota software?"}, Similarity: 0.9}}, nil
}

func testServer(t *testing.T, health error) (*server, *fakeMatcher) {
	t.Helper()
	m := &fakeMatcher{}
	leads := fakeLeads{"T/alice": {ID: "L1", TenantID: "T", Actor: "alice", Score: 70}}
	return newServer(quiet, fakePinger{err: health}, leads, m), m
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"db down", errors.New("connection refused"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, tt.err)
			rr := do(t, srv.routes("s3cret"), "GET", "/healthz", "", "")
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	srv, _ := testServer(t, nil)
	srv.addJob("discover", time.Second, func(context.Context) (any, error) { return nil, nil })
	h := srv.routes("s3cret")

	for _, path := range []string{"/jobs/discover", "/match"} {
		if rr := do(t, h, "POST", path, "", ""); rr.Code != http.StatusUnauthorized {
			t.Errorf("%s without token: %d", path, rr.Code)
		}
		if rr := do(t, h, "POST", path, "wrong", ""); rr.Code != http.StatusUnauthorized {
			t.Errorf("%s with wrong token: %d", path, rr.Code)
		}
	}
	if rr := do(t, h, "GET", "/leads/T/alice", "", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("leads without token: %d", rr.Code)
	}
}

func TestJobRoute(t *testing.T) {
	srv, _ := testServer(t, nil)
	srv.addJob("correlate", time.Second, func(context.Context) (any, error) {
		return pipeline.CorrelationReport{Tenants: 2, Created: 1}, nil
	})
	srv.addJob("deliver", time.Second, func(context.Context) (any, error) {
		return nil, errors.New("load tenants: boom")
	})
	h := srv.routes("s3cret")

	rr := do(t, h, "POST", "/jobs/correlate", "s3cret", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body)
	}
	var rep struct {
		Job    string                     `json:"job"`
		Report pipeline.CorrelationReport `json:"report"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&rep); err != nil {
		t.Fatal(err)
	}
	if rep.Job != "correlate" || rep.Report.Tenants != 2 || rep.Report.Created != 1 {
		t.Fatalf("report = %+v", rep)
	}

	if rr := do(t, h, "POST", "/jobs/deliver", "s3cret", ""); rr.Code != http.StatusInternalServerError {
		t.Fatalf("failing job status = %d", rr.Code)
	}
	if rr := do(t, h, "POST", "/jobs/nope", "s3cret", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown job status = %d", rr.Code)
	}
}

func TestJobRoute_Conflict(t *testing.T) {
	srv, _ := testServer(t, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	srv.addJob("discover", time.Minute, func(context.Context) (any, error) {
		close(started)
		<-release
		return pipeline.DiscoveryReport{}, nil
	})
	h := srv.routes("")

	done := make(chan int, 1)
	go func() { done <- do(t, h, "POST", "/jobs/discover", "", "").Code }()
	<-started

	if rr := do(t, h, "POST", "/jobs/discover", "", ""); rr.Code != http.StatusConflict {
		t.Fatalf("second run status = %d", rr.Code)
	}
	close(release)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("first run status = %d", code)
	}
}

func TestJobRunsDetachedFromCaller(t *testing.T) {
	srv, _ := testServer(t, nil)
	srv.addJob("discover", time.Second, func(ctx context.Context) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, ok := ctx.Deadline(); !ok {
			return nil, errors.New("no deadline")
		}
		return nil, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := srv.trigger(ctx, "discover", "req-1"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
}

func TestMatchRoute(t *testing.T) {
	srv, m := testServer(t, nil)
	h := srv.routes("s3cret")

	rr := do(t, h, "POST", "/match", "s3cret", `{"text":"shift planner","source_ids":["golang"],"limit":5}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body)
	}
	if m.got.Text != "shift planner" || m.got.Limit != 5 || len(m.got.SourceIDs) != 1 {
		t.Fatalf("query = %+v", m.got)
	}
	if !strings.Contains(rr.Body.String(), `"i1"`) {
		t.Fatalf("body = %s", rr.Body)
	}

	tests := []struct {
		name string
		body string
	}{
		{"empty text", `{"text":""}`},
		{"bad json", `{"text":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := do(t, h, "POST", "/match", "s3cret", tt.body); rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rr.Code)
			}
		})
	}
}

func TestLeadRoute(t *testing.T) {
	srv, _ := testServer(t, nil)
	h := srv.routes("s3cret")

	rr := do(t, h, "GET", "/leads/T/alice", "s3cret", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"L1"`) {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body)
	}
	if rr := do(t, h, "GET", "/leads/T/bob", "s3cret", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("missing lead status = %d", rr.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalid, http.StatusBadRequest},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrRateLimited, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("FETCH_LIMIT", "")
	t.Setenv("JOB_TIMEOUT", "")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("EMBED_API_KEY", "")

	cfg := loadConfig()
	if cfg.Port != "8080" || cfg.FetchLimit != 25 || cfg.JobTimeout != 15*time.Minute {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.EmbedAPIKey != "sk-test" {
		t.Fatalf("embed key should fall back to OPENAI_API_KEY, got %q", cfg.EmbedAPIKey)
	}

	t.Setenv("FETCH_LIMIT", "100")
	t.Setenv("JOB_TIMEOUT", "2m")
	cfg = loadConfig()
	if cfg.FetchLimit != 100 || cfg.JobTimeout != 2*time.Minute {
		t.Fatalf("overrides ignored: %+v", cfg)
	}
}
