package sms

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/copilot/internal/observability"
)

// JobKind labels inbound turns in the background job metrics.
const JobKind = "sms.inbound"

// defaultTurnTimeout bounds one inbound turn when none is configured.
const defaultTurnTimeout = 5 * time.Minute

// emptyTwiML acknowledges a message without replying inline.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// maxWebhookBody bounds the form body Twilio posts.
const maxWebhookBody = 64 << 10

// Inbound is a received SMS.
type Inbound struct {
	From                string
	Body                string
	MessageSID          string
	MessagingServiceSID string
}

// Responder produces the reply to an inbound message. An empty reply sends nothing.
type Responder interface {
	Respond(ctx context.Context, from, body string) (string, error)
}

// Sender delivers outbound messages.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// WebhookConfig wires a WebhookHandler.
type WebhookConfig struct {
	Responder Responder
	Sender    Sender
	// TurnTimeout bounds each inbound turn. Zero means 5 minutes.
	TurnTimeout time.Duration
	// AuthToken verifies request signatures when VerifySignatures is set.
	AuthToken        string
	VerifySignatures bool
	Logger           *slog.Logger
	Metrics          *observability.Metrics
}

// WebhookHandler receives Twilio inbound-message webhooks. It acknowledges
// each request with empty TwiML and answers over the REST API from a
// goroutine of its own, so Twilio never waits on the assistant and one slow
// conversation never holds up another.
type WebhookHandler struct {
	responder Responder
	sender    Sender
	timeout   time.Duration
	authToken string
	verify    bool
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewWebhookHandler creates the handler.
func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = defaultTurnTimeout
	}
	return &WebhookHandler{
		responder: cfg.Responder,
		sender:    cfg.Sender,
		timeout:   cfg.TurnTimeout,
		authToken: cfg.AuthToken,
		verify:    cfg.VerifySignatures,
		logger:    cfg.Logger.With("component", "sms-webhook"),
		metrics:   cfg.Metrics,
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "unable to read body", http.StatusBadRequest)
		return
	}
	params, err := url.ParseQuery(string(raw))
	if err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	if h.verify {
		signature := r.Header.Get(SignatureHeader)
		if signature == "" {
			http.Error(w, "No Twilio signature found", http.StatusBadRequest)
			return
		}
		if !ValidSignature(h.authToken, signature, params, RequestURLs(r)...) {
			h.logger.WarnContext(r.Context(), "invalid twilio signature", "remote", r.RemoteAddr)
			http.Error(w, "Invalid Twilio signature", http.StatusForbidden)
			return
		}
	}

	in := Inbound{
		From:                params.Get("From"),
		Body:                strings.TrimSpace(params.Get("Body")),
		MessageSID:          params.Get("MessageSid"),
		MessagingServiceSID: params.Get("MessagingServiceSid"),
	}
	if in.From == "" {
		http.Error(w, "missing From", http.StatusBadRequest)
		return
	}
	requestID := observability.GetRequestID(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}
	if !h.start(requestID, in) {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	h.metrics.RecordSMS("inbound", "received")

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, emptyTwiML)
}

// start runs the turn for in on its own goroutine. It reports false once the
// handler is closed.
func (h *WebhookHandler) start(requestID string, in Inbound) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		h.runTurn(requestID, in)
	}()
	return true
}

func (h *WebhookHandler) runTurn(requestID string, in Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	ctx = observability.WithRequestID(ctx, requestID)

	started := time.Now()
	status := "succeeded"
	if err := h.safeProcess(ctx, in); err != nil {
		status = "failed"
	}
	h.metrics.RecordBackgroundJob(JobKind, status, time.Since(started).Seconds())
}

func (h *WebhookHandler) safeProcess(ctx context.Context, in Inbound) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.ErrorContext(ctx, "inbound turn panicked", "message_sid", in.MessageSID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("turn panicked: %v", r)
		}
	}()
	return h.process(ctx, in)
}

// Close stops accepting messages and waits for in-flight turns to finish or
// ctx to end.
func (h *WebhookHandler) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("inbound turns still running: %w", ctx.Err())
	}
}

// process answers one inbound message.
func (h *WebhookHandler) process(ctx context.Context, in Inbound) error {
	reply, err := h.responder.Respond(ctx, in.From, in.Body)
	if err != nil {
		h.logger.ErrorContext(ctx, "inbound message failed", "message_sid", in.MessageSID, "error", err)
		return err
	}
	if reply == "" {
		return nil
	}
	sid, err := h.sender.Send(ctx, Message{To: in.From, Body: reply, MessagingServiceSID: in.MessagingServiceSID})
	if err != nil {
		h.logger.ErrorContext(ctx, "reply not sent", "message_sid", in.MessageSID, "error", err)
		return err
	}
	h.logger.InfoContext(ctx, "reply sent", "message_sid", in.MessageSID, "reply_sid", sid)
	return nil
}
