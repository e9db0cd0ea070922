// Package conversation runs one SMS exchange end to end: it resolves the
// sender's account, records both sides of the exchange, hands moderation to
// the background, and answers subscription keywords without the assistant.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/haasonsaas/copilot/internal/observability"
	"github.com/haasonsaas/copilot/internal/store"
)

// Keyword replies.
const (
	UnsubscribedReply = "You've been unsubscribed. Reply START to resubscribe."
	ResubscribedReply = "Welcome back! You're now resubscribed."
)

// Store is the subset of store.Store a conversation needs.
type Store interface {
	GetOrCreateAccount(ctx context.Context, phone string, newThread store.ThreadCreator) (*store.Account, bool, error)
	SaveMessage(ctx context.Context, accountID int64, role store.Role, text string) (int64, error)
	SetAccountStatus(ctx context.Context, accountID int64, status string) error
}

// TurnHandler answers one user message on a thread.
type TurnHandler interface {
	HandleTurn(ctx context.Context, accountID int64, threadID, text string) string
}

// ThreadCreator creates remote threads for new accounts.
type ThreadCreator interface {
	CreateThread(ctx context.Context) (string, error)
}

// Moderator schedules best-effort moderation of a stored message.
type Moderator interface {
	Submit(ctx context.Context, messageID int64, role, text string)
}

// Config wires a Service.
type Config struct {
	Store     Store
	Turns     TurnHandler
	Threads   ThreadCreator
	Moderator Moderator
	Logger    *slog.Logger
}

// Service processes inbound messages.
type Service struct {
	store     Store
	turns     TurnHandler
	threads   ThreadCreator
	moderator Moderator
	logger    *slog.Logger
}

// NewService creates a Service. Moderator is optional.
func NewService(config Config) (*Service, error) {
	if config.Store == nil {
		return nil, errors.New("store is required")
	}
	if config.Turns == nil {
		return nil, errors.New("turn handler is required")
	}
	if config.Threads == nil {
		return nil, errors.New("thread creator is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Service{
		store:     config.Store,
		turns:     config.Turns,
		threads:   config.Threads,
		moderator: config.Moderator,
		logger:    config.Logger.With("component", "conversation"),
	}, nil
}

// Account returns the account for phone, creating it and its thread on first contact.
func (s *Service) Account(ctx context.Context, phone string) (*store.Account, error) {
	account, created, err := s.store.GetOrCreateAccount(ctx, phone, s.threads.CreateThread)
	if err != nil {
		return nil, fmt.Errorf("resolve account: %w", err)
	}
	if created {
		s.logger.InfoContext(ctx, "account created", "account_id", account.ID, "thread_id", account.ThreadID)
	}
	return account, nil
}

// Process stores text from phone, produces the reply, stores it, and returns
// it. STOP and START change the subscription and are answered directly. An
// unsubscribed account gets no reply (""), though its message is still kept.
//
// Errors resolving the account or storing the inbound message abort the
// exchange. Failing to store the reply is logged and the reply still returned.
func (s *Service) Process(ctx context.Context, phone, text string) (string, error) {
	account, err := s.Account(ctx, phone)
	if err != nil {
		return "", err
	}
	ctx = observability.WithAccountID(ctx, strconv.FormatInt(account.ID, 10))

	text = strings.TrimSpace(text)
	userMessageID, err := s.store.SaveMessage(ctx, account.ID, store.RoleUser, text)
	if err != nil {
		return "", fmt.Errorf("save user message: %w", err)
	}
	s.moderate(ctx, userMessageID, store.RoleUser, text)

	var reply string
	switch strings.ToLower(text) {
	case "stop":
		reply = UnsubscribedReply
		s.setStatus(ctx, account.ID, store.StatusInactive)
	case "start":
		reply = ResubscribedReply
		s.setStatus(ctx, account.ID, store.StatusActive)
	default:
		if account.Status == store.StatusInactive {
			s.logger.InfoContext(ctx, "message from unsubscribed account ignored")
			return "", nil
		}
		reply = s.turns.HandleTurn(ctx, account.ID, account.ThreadID, text)
	}

	replyID, err := s.store.SaveMessage(ctx, account.ID, store.RoleAssistant, reply)
	if err != nil {
		s.logger.ErrorContext(ctx, "save reply failed", "error", err)
		return reply, nil
	}
	s.moderate(ctx, replyID, store.RoleAssistant, reply)
	return reply, nil
}

// Respond implements sms.Responder.
func (s *Service) Respond(ctx context.Context, from, body string) (string, error) {
	return s.Process(ctx, from, body)
}

func (s *Service) setStatus(ctx context.Context, accountID int64, status string) {
	if err := s.store.SetAccountStatus(ctx, accountID, status); err != nil {
		s.logger.ErrorContext(ctx, "update subscription failed", "status", status, "error", err)
	}
}

func (s *Service) moderate(ctx context.Context, messageID int64, role store.Role, text string) {
	if s.moderator == nil {
		return
	}
	s.moderator.Submit(ctx, messageID, string(role), text)
}
