package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/copilot/internal/config"
	"github.com/haasonsaas/copilot/internal/followup"
	"github.com/haasonsaas/copilot/internal/gateway"
	"github.com/haasonsaas/copilot/internal/observability"
	"github.com/haasonsaas/copilot/internal/ratelimit"
	"github.com/haasonsaas/copilot/internal/sms"
)

// Job kinds submitted by the serve command.
const jobKindFollowupSweep = "followup.sweep"

// runServe starts the webhook server and blocks until a shutdown signal.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Create a context that cancels on shutdown signals.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, os.Stderr, debug)
	if err != nil {
		return err
	}
	logger := a.logger
	slog.SetDefault(logger)
	logger.Info("starting copilot",
		"version", version,
		"commit", commit,
		"config", configPath,
		"environment", cfg.Server.Environment,
		"debug", debug,
	)

	smsClient, err := sms.NewClient(sms.ClientConfig{
		AccountSID:          cfg.Twilio.AccountSID,
		AuthToken:           cfg.Twilio.AuthToken,
		MessagingServiceSID: cfg.Twilio.MessagingServiceSID,
		FromNumber:          cfg.Twilio.FromNumber,
		BaseURL:             cfg.Twilio.BaseURL,
		Logger:              logger,
		Metrics:             a.metrics,
	})
	if err != nil {
		_ = a.close(context.Background())
		return fmt.Errorf("twilio client: %w", err)
	}
	if !cfg.Server.Production() {
		logger.Warn("webhook signature verification disabled outside production")
	}
	webhook := sms.NewWebhookHandler(sms.WebhookConfig{
		Responder:        a.service,
		Sender:           smsClient,
		TurnTimeout:      cfg.Jobs.Timeout,
		AuthToken:        cfg.Twilio.AuthToken,
		VerifySignatures: cfg.Server.Production(),
		Logger:           logger,
		Metrics:          a.metrics,
	})

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewLimiter(cfg.RateLimit)
	}
	server, err := gateway.New(gateway.Config{
		Addr:            cfg.Server.Addr(),
		WebhookPath:     cfg.Twilio.WebhookPath,
		MetricsPath:     cfg.Observability.MetricsPath,
		Webhook:         webhook,
		Limiter:         limiter,
		Gatherer:        a.registry,
		Checks:          map[string]gateway.HealthCheck{"database": a.pingDatabase},
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          logger,
		Metrics:         a.metrics,
	})
	if err != nil {
		_ = a.close(context.Background())
		return fmt.Errorf("http server: %w", err)
	}

	var sweeper *followup.Sweeper
	if cfg.Followup.Enabled {
		sweeper, err = newSweeper(cfg, a.store, a.logger, a.metrics)
		if err != nil {
			_ = a.close(context.Background())
			return err
		}
		sweeper.Start(ctx)
		if cfg.Followup.RunOnStart {
			if _, err := a.queue.Submit(jobKindFollowupSweep, func(jobCtx context.Context) error {
				_, err := sweeper.Sweep(jobCtx)
				return err
			}); err != nil {
				logger.Warn("initial follow-up sweep not queued", "error", err)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	if configPath != "" {
		g.Go(func() error {
			err := config.Watch(gctx, configPath, logger, func(next *config.Config) {
				level := observability.LogLevelFromString(next.Logging.Level)
				if debug || level == a.levelVar.Level() {
					return
				}
				a.levelVar.Set(level)
				logger.Info("log level changed", "level", level.String())
			})
			if err != nil {
				logger.Warn("config watch stopped", "error", err)
			}
			return nil
		})
	}

	logger.Info("copilot started", "addr", cfg.Server.Addr(), "webhook", cfg.Twilio.WebhookPath)
	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("server stopped", "error", runErr)
	}
	logger.Info("shutdown signal received, initiating graceful shutdown")

	// Create a timeout context for graceful shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if sweeper != nil {
		if err := sweeper.Stop(shutdownCtx); err != nil {
			logger.Warn("follow-up sweeper did not stop cleanly", "error", err)
		}
	}
	// Turns submit moderation and teardown jobs, so they finish before the queue closes.
	if err := webhook.Close(shutdownCtx); err != nil {
		logger.Warn("inbound turns did not finish", "error", err)
	}
	if err := a.close(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
	logger.Info("copilot stopped gracefully")
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// newSweeper builds the follow-up sweeper from the followup section.
func newSweeper(cfg *config.Config, accounts followup.Store, logger *slog.Logger, metrics *observability.Metrics) (*followup.Sweeper, error) {
	sweeper, err := followup.New(accounts, followup.Config{
		Schedule:          cfg.Followup.Schedule,
		LocalHour:         cfg.Followup.LocalHour,
		InactivityDays:    cfg.Followup.InactivityDays,
		DefaultTimezone:   cfg.Followup.DefaultTimezone,
		Concurrency:       cfg.Followup.Concurrency,
		RequestsPerSecond: cfg.Followup.RequestsPerSecond,
		Logger:            logger,
		Metrics:           metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("follow-up sweeper: %w", err)
	}
	return sweeper, nil
}
