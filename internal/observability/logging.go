package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// Format specifies output format: "json" or "text".
	Format string `yaml:"format"`

	// Output is the writer for log output (defaults to os.Stdout).
	Output io.Writer `yaml:"-"`

	// AddSource includes file and line number in log records.
	AddSource bool `yaml:"add_source"`

	// RedactPatterns are additional regex patterns for sensitive data redaction.
	RedactPatterns []string `yaml:"redact_patterns"`

	// LevelVar, when set, receives the parsed level and controls the handler,
	// so the level can be changed after construction.
	LevelVar *slog.LevelVar `yaml:"-"`
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey ContextKey = "request_id"

	// AccountIDKey is the context key for the account being served.
	AccountIDKey ContextKey = "account_id"

	// ThreadIDKey is the context key for the remote conversation thread.
	ThreadIDKey ContextKey = "thread_id"

	// RunIDKey is the context key for the assistant run.
	RunIDKey ContextKey = "run_id"
)

var contextKeys = []ContextKey{RequestIDKey, AccountIDKey, ThreadIDKey, RunIDKey}

// DefaultRedactPatterns contains regex patterns for common sensitive data.
var DefaultRedactPatterns = []string{
	// API keys and tokens
	`(?i)(api[_-]?key|apikey)[\s:=]+["\']?([a-zA-Z0-9_\-]{16,})["\']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["\']?([^\s"']{8,})["\']?`,

	// OpenAI API keys, including project keys
	`sk-(proj-)?[a-zA-Z0-9_\-]{32,}`,

	// JWT tokens
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,

	// Generic hex secrets (32+ chars), which covers Twilio auth tokens
	`(?i)(secret|key|token)[\s:=]+["\']?([a-fA-F0-9]{32,})["\']?`,
}

var sensitiveKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"auth_token":    true,
	"api_key":       true,
	"apikey":        true,
	"authorization": true,
}

const redacted = "[REDACTED]"

// NewLogger builds a slog logger from config.
//
// Empty or unknown levels default to info, an empty format to json and a nil
// output to os.Stdout.
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	var level slog.Leveler = LogLevelFromString(config.Level)
	if config.LevelVar != nil {
		config.LevelVar.Set(LogLevelFromString(config.Level))
		level = config.LevelVar
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(config.Format, "text") {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	return slog.New(NewRedactingHandler(handler, config.RedactPatterns...))
}

// LogLevelFromString parses a level name, defaulting to info.
func LogLevelFromString(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RedactingHandler wraps another handler, scrubbing secrets and adding
// context correlation ids to every record.
type RedactingHandler struct {
	next    slog.Handler
	redacts []*regexp.Regexp
}

// NewRedactingHandler compiles DefaultRedactPatterns plus extra. Patterns that
// fail to compile are skipped.
func NewRedactingHandler(next slog.Handler, extra ...string) *RedactingHandler {
	patterns := append(append([]string{}, DefaultRedactPatterns...), extra...)
	redacts := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}
	return &RedactingHandler{next: next, redacts: redacts}
}

// Enabled implements slog.Handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, h.redactString(record.Message), record.PC)

	if ctx != nil {
		for _, key := range contextKeys {
			if v, ok := ctx.Value(key).(string); ok && v != "" {
				out.AddAttrs(slog.String(string(key), v))
			}
		}
	}

	record.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(h.redactAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

// WithAttrs implements slog.Handler.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		clean[i] = h.redactAttr(attr)
	}
	return &RedactingHandler{next: h.next.WithAttrs(clean), redacts: h.redacts}
}

// WithGroup implements slog.Handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name), redacts: h.redacts}
}

func (h *RedactingHandler) redactAttr(attr slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(strings.ReplaceAll(attr.Key, "-", "_"))] {
		return slog.String(attr.Key, redacted)
	}

	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, h.redactString(value.String()))
	case slog.KindGroup:
		group := value.Group()
		clean := make([]any, len(group))
		for i, child := range group {
			clean[i] = h.redactAttr(child)
		}
		return slog.Group(attr.Key, clean...)
	case slog.KindAny:
		if err, ok := value.Any().(error); ok {
			return slog.String(attr.Key, h.redactString(err.Error()))
		}
		return slog.Attr{Key: attr.Key, Value: value}
	default:
		return slog.Attr{Key: attr.Key, Value: value}
	}
}

func (h *RedactingHandler) redactString(s string) string {
	for _, re := range h.redacts {
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithAccountID adds an account ID to the context.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, AccountIDKey, accountID)
}

// WithThreadID adds a thread ID to the context.
func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, ThreadIDKey, threadID)
}

// WithRunID adds a run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// DetachContext returns a background context carrying ctx's correlation ids
// but none of its deadline or cancellation.
func DetachContext(ctx context.Context) context.Context {
	detached := context.Background()
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			detached = context.WithValue(detached, key, v)
		}
	}
	return detached
}
