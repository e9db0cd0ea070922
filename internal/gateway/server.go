// Package gateway serves the public HTTP surface: the SMS webhook, health and
// Prometheus metrics.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/copilot/internal/observability"
	"github.com/haasonsaas/copilot/internal/ratelimit"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Config configures a Server.
type Config struct {
	Addr        string
	WebhookPath string
	MetricsPath string

	// Webhook handles inbound SMS.
	Webhook http.Handler
	// Limiter throttles the webhook per client IP when set.
	Limiter *ratelimit.Limiter
	// Gatherer backs the metrics endpoint. Defaults to the global registry.
	Gatherer prometheus.Gatherer
	// Checks are run by /healthz, keyed by dependency name.
	Checks map[string]HealthCheck

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Server is the HTTP server.
type Server struct {
	config  Config
	handler http.Handler
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New builds the server and its routes.
func New(config Config) (*Server, error) {
	if config.Webhook == nil {
		return nil, errors.New("webhook handler is required")
	}
	if config.WebhookPath == "" {
		config.WebhookPath = "/sms"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	s := &Server{
		config:  config,
		logger:  config.Logger.With("component", "gateway"),
		metrics: config.Metrics,
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	webhook := s.config.Webhook
	if s.config.Limiter != nil {
		webhook = ratelimit.Middleware(s.config.Limiter, s.logger, webhook)
	}
	mux.Handle(s.config.WebhookPath, webhook)
	mux.Handle(s.config.MetricsPath, promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealthz)

	return s.instrument(s.recoverPanics(requestID(mux)))
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("server already started")
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
	}
	s.server = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("starting http server", "addr", listener.Addr().String())
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
		return err
	}
	return nil
}

// Run serves until ctx is done, then shuts down within ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.Stop(shutdownCtx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	failures := map[string]string{}
	for name, check := range s.config.Checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if len(failures) > 0 {
		s.logger.WarnContext(ctx, "health check failed", "failures", failures)
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = writeJSON(w, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
