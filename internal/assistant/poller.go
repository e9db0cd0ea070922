package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/copilot/internal/backoff"
	"github.com/haasonsaas/copilot/internal/observability"
)

// ErrRunTimeout is returned when a run does not settle within the poll budget.
var ErrRunTimeout = errors.New("run did not complete in time")

// RunFailedError reports a run that ended in a failure status.
type RunFailedError struct {
	RunID     string
	Status    RunStatus
	LastError string
}

func (e *RunFailedError) Error() string {
	if e.LastError != "" {
		return fmt.Sprintf("run %s %s: %s", e.RunID, e.Status, e.LastError)
	}
	return fmt.Sprintf("run %s %s", e.RunID, e.Status)
}

// ActionFunc answers the tool calls of a run paused in requires_action.
type ActionFunc func(ctx context.Context, run *Run) error

// PollerConfig bounds one poll loop.
type PollerConfig struct {
	// MaxAttempts is the number of RetrieveRun calls before giving up. Default: 20.
	MaxAttempts int
	// Policy spaces attempts. Default: linear 1s steps capped at 10s.
	Policy backoff.Policy
}

// DefaultPollerConfig returns the completion polling defaults.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		MaxAttempts: 20,
		Policy:      backoff.Linear{Base: time.Second, Max: 10 * time.Second},
	}
}

// DefaultDrainConfig returns the polling defaults used while waiting for a
// cancelled run to settle.
func DefaultDrainConfig() PollerConfig {
	return PollerConfig{
		MaxAttempts: 30,
		Policy:      backoff.Fixed{Interval: time.Second},
	}
}

// Poller watches a single run until it settles.
type Poller struct {
	provider Provider
	config   PollerConfig
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// NewPoller creates a poller. Zero config fields take the completion defaults.
func NewPoller(provider Provider, config PollerConfig, logger *slog.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Poller {
	defaults := DefaultPollerConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.Policy == nil {
		config.Policy = defaults.Policy
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		provider: provider,
		config:   config,
		logger:   logger.With("component", "run-poller"),
		metrics:  metrics,
		tracer:   tracer,
	}
}

// Wait polls runID until it completes and returns the completed run.
//
// A requires_action pause calls onAction and polling resumes after the
// normal delay; the pause consumes the attempt it was observed on. Failure
// statuses return *RunFailedError immediately. After MaxAttempts
// retrievals without completion Wait returns ErrRunTimeout.
func (p *Poller) Wait(ctx context.Context, threadID, runID string, onAction ActionFunc) (*Run, error) {
	ctx, span := p.tracer.TraceRunPoll(ctx, threadID, runID)
	defer span.End()

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		run, err := p.provider.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			p.tracer.RecordError(span, err)
			return nil, fmt.Errorf("retrieve run %s: %w", runID, err)
		}
		p.metrics.RecordRunPoll(string(run.Status))

		switch Interpret(run.Status) {
		case ActionComplete:
			return run, nil
		case ActionFail:
			err := &RunFailedError{RunID: runID, Status: run.Status, LastError: run.LastError}
			p.tracer.RecordError(span, err)
			return nil, err
		case ActionDispatch:
			if onAction == nil {
				return nil, fmt.Errorf("run %s requires action but no handler is set", runID)
			}
			p.logger.DebugContext(ctx, "run requires action", "run_id", runID, "tool_calls", len(run.ToolCalls))
			if err := onAction(ctx, run); err != nil {
				p.tracer.RecordError(span, err)
				return nil, fmt.Errorf("handle required action: %w", err)
			}
		}

		if attempt == p.config.MaxAttempts {
			break
		}
		if err := backoff.Sleep(ctx, p.config.Policy, attempt); err != nil {
			return nil, err
		}
	}

	p.tracer.RecordError(span, ErrRunTimeout)
	return nil, fmt.Errorf("run %s: %w", runID, ErrRunTimeout)
}

// WaitTerminal polls runID until it reaches any terminal status, sleeping
// before each retrieval. It is used after CancelRun, where every terminal
// status counts as settled.
func (p *Poller) WaitTerminal(ctx context.Context, threadID, runID string) (*Run, error) {
	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		if err := backoff.Sleep(ctx, p.config.Policy, attempt); err != nil {
			return nil, err
		}
		run, err := p.provider.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			return nil, fmt.Errorf("retrieve run %s: %w", runID, err)
		}
		p.metrics.RecordRunPoll(string(run.Status))
		if IsTerminal(run.Status) {
			return run, nil
		}
	}
	return nil, fmt.Errorf("drain run %s: %w", runID, ErrRunTimeout)
}
