// Command leadpipe runs the discovery, correlation and delivery jobs. Jobs
// are triggered by an external scheduler over HTTP or NATS.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/leadsignal/engine/classifier"
	"github.com/WessleyAI/leadsignal/engine/contentapi"
	"github.com/WessleyAI/leadsignal/engine/correlation"
	"github.com/WessleyAI/leadsignal/engine/credentials"
	"github.com/WessleyAI/leadsignal/engine/dedup"
	"github.com/WessleyAI/leadsignal/engine/embedding"
	"github.com/WessleyAI/leadsignal/engine/fetcher"
	"github.com/WessleyAI/leadsignal/engine/outreach"
	"github.com/WessleyAI/leadsignal/engine/pipeline"
	"github.com/WessleyAI/leadsignal/engine/semantic"
	"github.com/WessleyAI/leadsignal/engine/store"
	"github.com/WessleyAI/leadsignal/engine/tenants"
	"github.com/WessleyAI/leadsignal/pkg/config"
	"github.com/WessleyAI/leadsignal/pkg/logging"
	"github.com/WessleyAI/leadsignal/pkg/resilience"
)

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	LogLevel   string
	LogFormat  string
	CronSecret string

	DatabaseURL string

	ClientID     string
	ClientSecret string
	TokenURL     string
	APIURL       string
	UserAgent    string

	FetchInterval    time.Duration
	FetchLimit       int
	FetchTimeout     time.Duration
	FetchMaxAttempts int
	FetchWorkers     int

	EmbedProvider string
	EmbedURL      string
	EmbedAPIKey   string
	EmbedModel    string
	EmbedDims     int
	EmbedWorkers  int

	OpenAIKey     string
	OpenAIBaseURL string
	ClassifyModel string

	QdrantAddr       string
	QdrantCollection string
	ValkeyAddr       string
	ValkeyPassword   string
	SeenTTL          time.Duration
	NATSURL          string

	JobTimeout     time.Duration
	TenantWorkers  int
	DeliverPerRun  int
	MessageSubject string
}

func loadConfig() Config {
	return Config{
		Port:       config.String("PORT", "8080"),
		LogLevel:   config.String("LOG_LEVEL", "info"),
		LogFormat:  config.String("LOG_FORMAT", "json"),
		CronSecret: config.String("CRON_SECRET", ""),

		DatabaseURL: config.String("DATABASE_URL", ""),

		ClientID:     config.String("CONTENT_CLIENT_ID", ""),
		ClientSecret: config.String("CONTENT_CLIENT_SECRET", ""),
		TokenURL:     config.String("CONTENT_TOKEN_URL", credentials.DefaultTokenURL),
		APIURL:       config.String("CONTENT_API_URL", ""),
		UserAgent:    config.String("CONTENT_USER_AGENT", "leadsignal/1.0"),

		FetchInterval:    config.Duration("FETCH_MIN_INTERVAL", 2*time.Second),
		FetchLimit:       config.Int("FETCH_LIMIT", 25),
		FetchTimeout:     config.Duration("FETCH_TIMEOUT", 30*time.Second),
		FetchMaxAttempts: config.Int("FETCH_MAX_ATTEMPTS", 3),
		FetchWorkers:     config.Int("FETCH_WORKERS", 8),

		EmbedProvider: config.String("EMBED_PROVIDER", "openai"),
		EmbedURL:      config.String("EMBED_URL", ""),
		EmbedAPIKey:   config.String("EMBED_API_KEY", config.String("OPENAI_API_KEY", "")),
		EmbedModel:    config.String("EMBED_MODEL", "text-embedding-3-small"),
		EmbedDims:     config.Int("EMBED_DIMS", 1536),
		EmbedWorkers:  config.Int("EMBED_WORKERS", 200),

		OpenAIKey:     config.String("OPENAI_API_KEY", ""),
		OpenAIBaseURL: config.String("OPENAI_BASE_URL", ""),
		ClassifyModel: config.String("CLASSIFY_MODEL", "gpt-4o-mini"),

		QdrantAddr:       config.String("QDRANT_ADDR", ""),
		QdrantCollection: config.String("QDRANT_COLLECTION", "discovered_items"),
		ValkeyAddr:       config.String("VALKEY_ADDR", ""),
		ValkeyPassword:   config.String("VALKEY_PASSWORD", ""),
		SeenTTL:          config.Duration("SEEN_TTL", dedup.DefaultTTL),
		NATSURL:          config.String("NATS_URL", ""),

		JobTimeout:     config.Duration("JOB_TIMEOUT", 15*time.Minute),
		TenantWorkers:  config.Int("TENANT_WORKERS", 4),
		DeliverPerRun:  config.Int("DELIVER_PER_TENANT", 50),
		MessageSubject: config.String("MESSAGE_SUBJECT", ""),
	}
}

func main() {
	if _, err := config.Load(".env", ".env.local"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if _, err := config.Required("DATABASE_URL", "CONTENT_CLIENT_ID", "CONTENT_CLIENT_SECRET", "OPENAI_API_KEY"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := loadConfig()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("leadpipe exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	// --- Content API and credentials ---
	gate := resilience.NewGate(cfg.FetchInterval)
	apiOpts := []contentapi.Option{contentapi.WithUserAgent(cfg.UserAgent)}
	if cfg.APIURL != "" {
		apiOpts = append(apiOpts, contentapi.WithBaseURL(cfg.APIURL))
	}
	api := contentapi.New(apiOpts...)
	appTokens := credentials.NewAppTokens(credentials.AppConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		UserAgent:    cfg.UserAgent,
	}, logger)
	userTokens := credentials.NewUserTokens(credentials.UserConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		UserAgent:    cfg.UserAgent,
	}, st, logger)

	fetch := fetcher.New(fetcher.Config{
		Limit:       cfg.FetchLimit,
		MaxAttempts: cfg.FetchMaxAttempts,
		Timeout:     cfg.FetchTimeout,
		Workers:     cfg.FetchWorkers,
	}, gate, appTokens, api, logger)

	// --- Embeddings ---
	embClient, err := embedding.NewClient(embedding.ClientConfig{
		Provider: cfg.EmbedProvider,
		APIURL:   cfg.EmbedURL,
		APIKey:   cfg.EmbedAPIKey,
		Model:    cfg.EmbedModel,
		Dims:     cfg.EmbedDims,
	})
	if err != nil {
		return err
	}
	embedOpts := embedding.DefaultOptions()
	embedOpts.Workers = cfg.EmbedWorkers
	gen := embedding.NewGenerator(embClient, embedOpts, logger)

	// --- Optional Valkey seen set ---
	var seen pipeline.SeenSet = dedup.NewMemory(cfg.SeenTTL)
	if cfg.ValkeyAddr != "" {
		v, err := dedup.Dial(ctx, cfg.ValkeyAddr, cfg.ValkeyPassword, cfg.SeenTTL)
		if err != nil {
			return err
		}
		defer v.Close()
		seen = v
		logger.Info("connected to Valkey", "addr", cfg.ValkeyAddr)
	}

	// --- Optional Qdrant mirror ---
	discoveryDeps := pipeline.DiscoveryDeps{
		Sources:  st,
		Fetcher:  fetch,
		Seen:     seen,
		Embedder: gen,
		Items:    st,
		Logger:   logger,
	}
	search := pipeline.SearchFunc(st.SimilarItems)
	if cfg.QdrantAddr != "" {
		idx, err := semantic.New(cfg.QdrantAddr, cfg.QdrantCollection)
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer idx.Close()
		if err := idx.EnsureCollection(ctx, cfg.EmbedDims); err != nil {
			return err
		}
		discoveryDeps.Mirror = idx
		search = idx.Search
		logger.Info("connected to Qdrant", "collection", cfg.QdrantCollection, "dims", cfg.EmbedDims)
	}

	// --- Jobs ---
	loader := tenants.NewLoader(st, nil, logger)
	discovery := pipeline.NewDiscovery(discoveryDeps)
	corr := pipeline.NewCorrelation(pipeline.CorrelationDeps{
		Tenants:    loader,
		Events:     st,
		Classifier: classifier.New(classifier.NewOpenAICompleter(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.ClassifyModel), classifier.Options{}, logger),
		Correlator: correlation.New(st, logger),
		Workers:    cfg.TenantWorkers,
		Timeout:    cfg.JobTimeout,
		Logger:     logger,
	})
	delivery := pipeline.NewDelivery(pipeline.DeliveryDeps{
		Tenants:   loader,
		Events:    st,
		Sender:    outreach.New(userTokens, api, st, gate, cfg.MessageSubject, logger),
		PerTenant: cfg.DeliverPerRun,
		Timeout:   cfg.JobTimeout,
		Logger:    logger,
	})

	srv := newServer(logger, st, st, pipeline.NewMatcher(gen, search))
	srv.addJob("discover", cfg.JobTimeout, func(ctx context.Context) (any, error) { return discovery.Run(ctx) })
	srv.addJob("correlate", cfg.JobTimeout, func(ctx context.Context) (any, error) { return corr.Run(ctx) })
	srv.addJob("deliver", cfg.JobTimeout, func(ctx context.Context) (any, error) { return delivery.Run(ctx) })

	// --- Optional NATS triggers ---
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("leadpipe"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		if err := srv.subscribe(ctx, nc); err != nil {
			return err
		}
		logger.Info("listening for job triggers", "url", cfg.NATSURL)
	}

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.routes(cfg.CronSecret),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.JobTimeout + time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("leadpipe starting", "port", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}
