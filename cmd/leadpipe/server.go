package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/leadsignal/engine/domain"
	"github.com/WessleyAI/leadsignal/engine/pipeline"
	"github.com/WessleyAI/leadsignal/pkg/metrics"
	"github.com/WessleyAI/leadsignal/pkg/mid"
	"github.com/WessleyAI/leadsignal/pkg/natsutil"
)

const (
	jobSubjectPrefix    = "leadsignal.jobs."
	reportSubjectPrefix = "leadsignal.reports."
	queueGroup          = "leadpipe"
)

var (
	errUnknownJob = errors.New("unknown job")
	errJobRunning = errors.New("job already running")
)

type pinger interface {
	Ping(ctx context.Context) error
}

type leadReader interface {
	Lead(ctx context.Context, tenantID, actor string) (domain.Lead, error)
}

type itemMatcher interface {
	Match(ctx context.Context, q pipeline.MatchQuery) ([]domain.ItemMatch, error)
}

type jobFunc func(ctx context.Context) (any, error)

type job struct {
	name    string
	timeout time.Duration
	run     jobFunc
	running atomic.Bool
}

// JobReport is returned over HTTP and published on leadsignal.reports.<job>.
type JobReport struct {
	Job        string    `json:"job"`
	RequestID  string    `json:"request_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Report     any       `json:"report,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// JobTrigger is the body of a NATS job trigger.
type JobTrigger struct {
	RequestID string `json:"request_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type server struct {
	logger  *slog.Logger
	health  pinger
	leads   leadReader
	matcher itemMatcher
	jobs    map[string]*job
	nc      *nats.Conn
}

func newServer(logger *slog.Logger, health pinger, leads leadReader, matcher itemMatcher) *server {
	return &server{logger: logger, health: health, leads: leads, matcher: matcher, jobs: map[string]*job{}}
}

func (s *server) addJob(name string, timeout time.Duration, run jobFunc) {
	s.jobs[name] = &job{name: name, timeout: timeout, run: run}
}

func (s *server) jobNames() []string {
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// trigger runs the named job unless it is already running. The job is
// detached from ctx's cancellation so a dropped caller does not abort it.
func (s *server) trigger(ctx context.Context, name, requestID string) (JobReport, error) {
	j, ok := s.jobs[name]
	if !ok {
		return JobReport{}, fmt.Errorf("%w: %s", errUnknownJob, name)
	}
	if !j.running.CompareAndSwap(false, true) {
		return JobReport{}, fmt.Errorf("%w: %s", errJobRunning, name)
	}
	defer j.running.Store(false)

	rep := JobReport{Job: name, RequestID: requestID, StartedAt: time.Now().UTC()}
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.timeout)
	defer cancel()

	s.logger.Info("job started", "job", name, "request_id", requestID)
	out, err := j.run(runCtx)
	rep.FinishedAt = time.Now().UTC()
	rep.Report = out
	if err != nil {
		rep.Error = err.Error()
		s.logger.Error("job failed", "job", name, "request_id", requestID, "err", err)
	}
	metrics.StageUnits.WithLabelValues("job_"+name, metrics.Outcome(err, domain.Kind)).Inc()

	if s.nc != nil {
		if perr := natsutil.Publish(ctx, s.nc, reportSubjectPrefix+name, rep); perr != nil {
			s.logger.Warn("publish job report", "job", name, "err", perr)
		}
	}
	return rep, err
}

// subscribe listens on leadsignal.jobs.<name> for every registered job.
func (s *server) subscribe(ctx context.Context, nc *nats.Conn) error {
	s.nc = nc
	for _, name := range s.jobNames() {
		_, err := natsutil.Subscribe(nc, jobSubjectPrefix+name, queueGroup, s.logger, func(msgCtx context.Context, t JobTrigger) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			_, err := s.trigger(msgCtx, name, t.RequestID)
			if errors.Is(err, errJobRunning) {
				s.logger.Info("trigger ignored", "job", name, "reason", "already running")
				return nil
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
	}
	return nil
}

func (s *server) routes(cronSecret string) http.Handler {
	protected := http.NewServeMux()
	protected.HandleFunc("POST /jobs/{job}", s.handleJob)
	protected.HandleFunc("POST /match", s.handleMatch)
	protected.HandleFunc("GET /leads/{tenant}/{actor}", s.handleLead)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("/", mid.Bearer(cronSecret)(protected))

	return mid.Chain(mux,
		mid.Recover(s.logger),
		mid.RequestID(),
		mid.Logger(s.logger),
		mid.OTel("leadpipe"),
	)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.health.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleJob(w http.ResponseWriter, r *http.Request) {
	rep, err := s.trigger(r.Context(), r.PathValue("job"), mid.RequestIDFrom(r.Context()))
	switch {
	case errors.Is(err, errUnknownJob):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, errJobRunning):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, rep)
	default:
		writeJSON(w, http.StatusOK, rep)
	}
}

func (s *server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var q pipeline.MatchQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	matches, err := s.matcher.Match(r.Context(), q)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if matches == nil {
		matches = []domain.ItemMatch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func (s *server) handleLead(w http.ResponseWriter, r *http.Request) {
	lead, err := s.leads.Lead(r.Context(), r.PathValue("tenant"), r.PathValue("actor"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTransient), errors.Is(err, domain.ErrRateLimited):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
