// Package moderation classifies stored messages and records the verdict on
// the message row. Moderation never blocks or alters a conversation: every
// failure is logged and treated as not flagged.
package moderation

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/haasonsaas/copilot/internal/jobs"
	"github.com/haasonsaas/copilot/internal/observability"
)

// JobKind is the background job kind used by Submit.
const JobKind = "moderation"

// Verdict is a classifier result.
type Verdict struct {
	Flagged    bool
	Categories []string
}

// Reason joins the flagged categories for storage.
func (v Verdict) Reason() string {
	if !v.Flagged {
		return ""
	}
	categories := append([]string(nil), v.Categories...)
	sort.Strings(categories)
	return strings.Join(categories, ", ")
}

// Classifier scores text against a content policy.
type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

// FlagStore records verdicts.
type FlagStore interface {
	UpdateMessageFlag(ctx context.Context, messageID int64, flagged bool, reason string) error
}

// Submitter runs work in the background.
type Submitter interface {
	Submit(kind string, fn jobs.Func) (string, error)
}

// Config wires a Gate.
type Config struct {
	Classifier Classifier
	Store      FlagStore
	Queue      Submitter
	// Disabled skips classification; Moderate reports false.
	Disabled bool
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

// Gate moderates messages best-effort.
type Gate struct {
	classifier Classifier
	store      FlagStore
	queue      Submitter
	disabled   bool
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewGate creates a gate.
func NewGate(config Config) *Gate {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Gate{
		classifier: config.Classifier,
		store:      config.Store,
		queue:      config.Queue,
		disabled:   config.Disabled || config.Classifier == nil,
		logger:     config.Logger.With("component", "moderation"),
		metrics:    config.Metrics,
	}
}

// Moderate classifies text and flags messageID when the verdict is flagged.
// A clean verdict writes nothing, so a flag set elsewhere (such as an
// escalation) is never cleared. It reports whether the message was flagged;
// any failure reports false.
func (g *Gate) Moderate(ctx context.Context, messageID int64, role, text string) bool {
	if g.disabled {
		return false
	}
	verdict, err := g.classifier.Classify(ctx, text)
	if err != nil {
		g.logger.WarnContext(ctx, "moderation failed", "message_id", messageID, "error", err)
		g.metrics.RecordModeration(role, "error")
		return false
	}
	if !verdict.Flagged {
		g.metrics.RecordModeration(role, "clean")
		return false
	}

	if err := g.store.UpdateMessageFlag(ctx, messageID, true, verdict.Reason()); err != nil {
		g.logger.WarnContext(ctx, "moderation verdict not saved", "message_id", messageID, "error", err)
		g.metrics.RecordModeration(role, "error")
		return false
	}
	g.logger.InfoContext(ctx, "message flagged", "message_id", messageID, "role", role, "reason", verdict.Reason())
	g.metrics.RecordModeration(role, "flagged")
	return true
}

// Submit moderates in the background. The caller never waits.
func (g *Gate) Submit(ctx context.Context, messageID int64, role, text string) {
	if g.disabled {
		return
	}
	bg := observability.DetachContext(ctx)
	fn := func(jobCtx context.Context) error {
		g.Moderate(jobCtx, messageID, role, text)
		return nil
	}
	if g.queue == nil {
		go func() { _ = fn(bg) }()
		return
	}
	if _, err := g.queue.Submit(JobKind, fn); err != nil {
		g.logger.WarnContext(bg, "moderation not scheduled", "message_id", messageID, "error", err)
	}
}
