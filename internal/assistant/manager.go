package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/copilot/internal/jobs"
	"github.com/haasonsaas/copilot/internal/observability"
)

// Replies used when a turn produces no usable assistant text.
const (
	FallbackNoReply = "I apologize, but I'm having trouble generating a response right now."
	FallbackError   = "I apologize, but I'm having trouble processing your request right now."
)

// TurnState is the progress of one turn through the run lifecycle.
type TurnState int

const (
	StateIdle TurnState = iota
	StateAssistantCreated
	StateMessagePosted
	StateRunCreated
	StatePolling
	StateAwaitingToolOutputs
	StateCompleted
	StateFailed
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAssistantCreated:
		return "assistant_created"
	case StateMessagePosted:
		return "message_posted"
	case StateRunCreated:
		return "run_created"
	case StatePolling:
		return "polling"
	case StateAwaitingToolOutputs:
		return "awaiting_tool_outputs"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Submitter runs work in the background.
type Submitter interface {
	Submit(kind string, fn jobs.Func) (string, error)
}

// Job kinds submitted by the manager.
const JobKindTeardown = "assistant.teardown"

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Provider   Provider
	Dispatcher *Dispatcher
	Spec       SpecConfig
	Poll       PollerConfig
	Drain      PollerConfig
	// Queue runs assistant teardown. When nil teardown runs on its own goroutine.
	Queue   Submitter
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Manager runs conversational turns.
type Manager struct {
	provider   Provider
	dispatcher *Dispatcher
	spec       SpecConfig
	poller     *Poller
	drainer    *Poller
	queue      Submitter
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer

	// observe sees every state transition; tests use it.
	observe func(TurnState)
}

// NewManager creates a Manager.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Provider == nil {
		return nil, errors.New("provider is required")
	}
	if config.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	drain := config.Drain
	if drain.MaxAttempts <= 0 || drain.Policy == nil {
		defaults := DefaultDrainConfig()
		if drain.MaxAttempts <= 0 {
			drain.MaxAttempts = defaults.MaxAttempts
		}
		if drain.Policy == nil {
			drain.Policy = defaults.Policy
		}
	}
	return &Manager{
		provider:   config.Provider,
		dispatcher: config.Dispatcher,
		spec:       config.Spec,
		poller:     NewPoller(config.Provider, config.Poll, config.Logger, config.Metrics, config.Tracer),
		drainer:    NewPoller(config.Provider, drain, config.Logger, config.Metrics, config.Tracer),
		queue:      config.Queue,
		logger:     config.Logger.With("component", "assistant"),
		metrics:    config.Metrics,
		tracer:     config.Tracer,
	}, nil
}

type turn struct {
	accountID   int64
	threadID    string
	assistantID string
	runID       string
	state       TurnState
}

func (m *Manager) advance(ctx context.Context, t *turn, to TurnState) {
	m.logger.DebugContext(ctx, "turn state", "from", t.state.String(), "to", to.String())
	t.state = to
	if m.observe != nil {
		m.observe(to)
	}
}

// HandleTurn posts text to the thread, runs a fresh assistant on it, and
// returns the assistant's reply. It never returns empty text: failures are
// logged and answered with FallbackError, a run without a reply with
// FallbackNoReply. The assistant created for the turn is deleted in the
// background.
func (m *Manager) HandleTurn(ctx context.Context, accountID int64, threadID, text string) (reply string) {
	start := time.Now()
	ctx = observability.WithAccountID(ctx, strconv.FormatInt(accountID, 10))
	ctx = observability.WithThreadID(ctx, threadID)
	ctx, span := m.tracer.TraceTurn(ctx, strconv.FormatInt(accountID, 10), threadID)
	defer span.End()

	t := &turn{accountID: accountID, threadID: threadID, state: StateIdle}
	outcome := "completed"

	defer func() {
		if r := recover(); r != nil {
			m.logger.ErrorContext(ctx, "turn panicked", "panic", r, "stack", string(debug.Stack()))
			m.advance(ctx, t, StateFailed)
			reply = FallbackError
			outcome = "failed"
		}
		if t.assistantID != "" {
			m.teardown(ctx, t.assistantID)
		}
		m.metrics.RecordTurn(outcome, time.Since(start).Seconds())
	}()

	reply, err := m.run(ctx, t, text)
	if err != nil {
		m.tracer.RecordError(span, err)
		m.logger.ErrorContext(ctx, "turn failed", "state", t.state.String(), "run_id", t.runID, "error", err)
		m.advance(ctx, t, StateFailed)
		outcome = "failed"
		return FallbackError
	}
	if reply == "" {
		outcome = "no_reply"
		return FallbackNoReply
	}
	return reply
}

func (m *Manager) run(ctx context.Context, t *turn, text string) (string, error) {
	if err := m.cancelStaleRuns(ctx, t.threadID); err != nil {
		return "", err
	}

	spec := NewAssistantSpec(m.spec, m.dispatcher.Specs())
	var assistantID string
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		id, err := m.provider.CreateAssistant(egCtx, spec)
		if err != nil {
			return fmt.Errorf("create assistant: %w", err)
		}
		assistantID = id
		return nil
	})
	eg.Go(func() error {
		if err := m.provider.PostMessage(egCtx, t.threadID, text); err != nil {
			return fmt.Errorf("post message: %w", err)
		}
		return nil
	})
	err := eg.Wait()
	// Recorded even on failure so the assistant is still torn down.
	t.assistantID = assistantID
	if err != nil {
		return "", err
	}
	m.advance(ctx, t, StateAssistantCreated)
	m.advance(ctx, t, StateMessagePosted)

	run, err := m.provider.CreateRun(ctx, t.threadID, assistantID)
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	t.runID = run.ID
	ctx = observability.WithRunID(ctx, run.ID)
	m.advance(ctx, t, StateRunCreated)

	m.advance(ctx, t, StatePolling)
	completed, err := m.poller.Wait(ctx, t.threadID, run.ID, func(ctx context.Context, pending *Run) error {
		m.advance(ctx, t, StateAwaitingToolOutputs)
		outputs := m.dispatcher.Dispatch(ctx, t.accountID, pending.ToolCalls)
		if err := m.provider.SubmitToolOutputs(ctx, t.threadID, pending.ID, outputs); err != nil {
			return fmt.Errorf("submit tool outputs: %w", err)
		}
		m.advance(ctx, t, StatePolling)
		return nil
	})
	if err != nil {
		return "", err
	}
	m.advance(ctx, t, StateCompleted)

	messages, err := m.provider.ListMessages(ctx, t.threadID, completed.ID)
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}
	return selectReply(messages, completed.ID), nil
}

// selectReply returns the newest non-empty assistant message of runID.
func selectReply(messages []ThreadMessage, runID string) string {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role != "assistant" || msg.RunID != runID || msg.Text == "" {
			continue
		}
		return msg.Text
	}
	return ""
}

// cancelStaleRuns cancels every unfinished run on the thread and waits for
// each to settle. Runs already cancelling are waited on without a second
// cancel. A run that finishes before the cancel lands counts as settled.
func (m *Manager) cancelStaleRuns(ctx context.Context, threadID string) error {
	runs, err := m.provider.ListRuns(ctx, threadID)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	for _, run := range runs {
		if IsTerminal(run.Status) {
			continue
		}
		if NeedsCancel(run.Status) {
			m.logger.InfoContext(ctx, "cancelling stale run", "run_id", run.ID, "status", string(run.Status))
			if err := m.provider.CancelRun(ctx, threadID, run.ID); err != nil {
				if errors.Is(err, ErrRunAlreadyTerminal) {
					continue
				}
				return fmt.Errorf("cancel run %s: %w", run.ID, err)
			}
		} else {
			m.logger.InfoContext(ctx, "waiting for cancelling run", "run_id", run.ID)
		}
		if _, err := m.drainer.WaitTerminal(ctx, threadID, run.ID); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) teardown(ctx context.Context, assistantID string) {
	bg := observability.DetachContext(ctx)
	fn := func(jobCtx context.Context) error {
		if err := m.provider.DeleteAssistant(jobCtx, assistantID); err != nil {
			m.logger.WarnContext(bg, "assistant teardown failed", "assistant_id", assistantID, "error", err)
			return fmt.Errorf("delete assistant %s: %w", assistantID, err)
		}
		return nil
	}
	if m.queue == nil {
		go func() { _ = fn(bg) }()
		return
	}
	if _, err := m.queue.Submit(JobKindTeardown, fn); err != nil {
		m.logger.WarnContext(bg, "assistant teardown not scheduled", "assistant_id", assistantID, "error", err)
	}
}
