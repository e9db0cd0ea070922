package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/copilot/internal/assistant"
	"github.com/haasonsaas/copilot/internal/assistant/providers"
	"github.com/haasonsaas/copilot/internal/backoff"
	"github.com/haasonsaas/copilot/internal/config"
	"github.com/haasonsaas/copilot/internal/contacts"
	"github.com/haasonsaas/copilot/internal/conversation"
	"github.com/haasonsaas/copilot/internal/jobs"
	"github.com/haasonsaas/copilot/internal/moderation"
	"github.com/haasonsaas/copilot/internal/observability"
	"github.com/haasonsaas/copilot/internal/store"
)

// app holds the wired dependencies shared by the serve and console commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	levelVar *slog.LevelVar
	registry *prometheus.Registry
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	store     store.Store
	database  *store.CockroachStore
	queue     *jobs.Queue
	provider  *providers.OpenAIProvider
	cache     *contacts.Cache
	manager   *assistant.Manager
	gate      *moderation.Gate
	service   *conversation.Service
	stopTrace func(context.Context) error
}

// loadConfig loads and validates the configuration at path.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the service logger from the logging section. debug forces
// the debug level regardless of the configured one.
func newLogger(cfg *config.Config, out io.Writer, debug bool) (*slog.Logger, *slog.LevelVar) {
	levelVar := new(slog.LevelVar)
	logCfg := cfg.Logging
	logCfg.Output = out
	logCfg.LevelVar = levelVar
	if debug {
		logCfg.Level = "debug"
	}
	return observability.NewLogger(logCfg), levelVar
}

// openStore connects to the configured database, or falls back to an
// in-process store when no URL is set.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, *store.CockroachStore, error) {
	if cfg.Database.URL == "" {
		logger.Warn("database.url not set; accounts and messages are kept in memory and lost on exit")
		return store.NewMemoryStore(), nil, nil
	}
	db, err := store.NewCockroachStoreFromDSN(ctx, cfg.Database.URL, &store.CockroachConfig{
		MaxOpenConns:      cfg.Database.MaxOpenConns,
		MaxIdleConns:      cfg.Database.MaxIdleConns,
		ConnMaxLifetime:   cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime:   cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:    cfg.Database.ConnectTimeout,
		ConnectRetries:    cfg.Database.ConnectRetries,
		ConnectRetryDelay: cfg.Database.ConnectRetryDelay,
		Logger:            logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return db, db, nil
}

// newApp wires the conversation pipeline. Call close when done.
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer, debug bool) (*app, error) {
	logger, levelVar := newLogger(cfg, logOut, debug)
	a := &app{
		cfg:      cfg,
		logger:   logger,
		levelVar: levelVar,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.registry)

	traceCfg := cfg.Observability.Tracing
	traceCfg.ServiceVersion = version
	traceCfg.Environment = cfg.Server.Environment
	a.tracer, a.stopTrace = observability.NewTracer(traceCfg)

	if err := a.build(ctx); err != nil {
		_ = a.close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg
	var err error

	a.store, a.database, err = openStore(ctx, cfg, a.logger)
	if err != nil {
		return err
	}

	queueCfg := cfg.Jobs
	queueCfg.Store = jobs.NewMemoryStore()
	queueCfg.Logger = a.logger
	queueCfg.OnFinish = func(kind string, status jobs.Status, took time.Duration) {
		a.metrics.RecordBackgroundJob(kind, string(status), took.Seconds())
	}
	a.queue = jobs.NewQueue(queueCfg)

	a.provider, err = providers.NewOpenAIProvider(providers.OpenAIConfig{
		APIKey:       cfg.OpenAI.APIKey,
		BaseURL:      cfg.OpenAI.BaseURL,
		Organization: cfg.OpenAI.Organization,
	})
	if err != nil {
		return fmt.Errorf("openai provider: %w", err)
	}

	a.cache, err = contacts.OpenCache(cfg.Contacts.CachePath)
	if err != nil {
		return fmt.Errorf("open embedding cache: %w", err)
	}
	embedder, err := contacts.NewOpenAIEmbedder(contacts.OpenAIConfig{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.Contacts.EmbeddingModel,
	})
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	index := contacts.NewIndex(a.store, embedder, a.cache, contacts.Config{
		Model:  cfg.Contacts.EmbeddingModel,
		TopK:   cfg.Contacts.TopK,
		Logger: a.logger,
	})

	dispatcher, err := assistant.NewDispatcher(assistant.DispatcherConfig{
		Logger:  a.logger,
		Metrics: a.metrics,
		Tracer:  a.tracer,
	}, assistant.DefaultTools(a.store, index, a.logger)...)
	if err != nil {
		return fmt.Errorf("tool dispatcher: %w", err)
	}

	a.manager, err = assistant.NewManager(assistant.ManagerConfig{
		Provider:   a.provider,
		Dispatcher: dispatcher,
		Spec: assistant.SpecConfig{
			Name:         cfg.Assistant.Name,
			Model:        cfg.Assistant.Model,
			Instructions: cfg.Assistant.Instructions,
		},
		Poll: assistant.PollerConfig{
			MaxAttempts: cfg.Poller.MaxAttempts,
			Policy:      backoff.Linear{Base: cfg.Poller.BaseDelay, Max: cfg.Poller.MaxDelay},
		},
		Drain: assistant.PollerConfig{
			Policy: backoff.Fixed{Interval: cfg.Poller.CancelInterval},
		},
		Queue:   a.queue,
		Logger:  a.logger,
		Metrics: a.metrics,
		Tracer:  a.tracer,
	})
	if err != nil {
		return fmt.Errorf("assistant manager: %w", err)
	}

	a.gate = moderation.NewGate(moderation.Config{
		Classifier: moderation.NewOpenAIClassifier(a.provider.Client(), cfg.Moderation.Model),
		Store:      a.store,
		Queue:      a.queue,
		Disabled:   cfg.Moderation.Disabled,
		Logger:     a.logger,
		Metrics:    a.metrics,
	})

	a.service, err = conversation.NewService(conversation.Config{
		Store:     a.store,
		Turns:     a.manager,
		Threads:   a.provider,
		Moderator: a.gate,
		Logger:    a.logger,
	})
	if err != nil {
		return fmt.Errorf("conversation service: %w", err)
	}
	return nil
}

// pingDatabase is the /healthz check for the database.
func (a *app) pingDatabase(ctx context.Context) error {
	if a.database == nil {
		return nil
	}
	return a.database.DB().PingContext(ctx)
}

// close drains background work, then releases the store, cache and tracer.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.queue != nil {
		if err := a.queue.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("job queue: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("embedding cache: %w", err))
		}
	}
	if a.stopTrace != nil {
		if err := a.stopTrace(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer: %w", err))
		}
	}
	return errors.Join(errs...)
}
