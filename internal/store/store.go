// Package store persists accounts and their SMS conversation history.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested account or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoTenant is returned when an account must be created but no tenant exists.
	ErrNoTenant = errors.New("no default tenant found")
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Account statuses. STOP moves an account to StatusInactive, START back to StatusActive.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Account is one phone number's relationship with the service.
type Account struct {
	ID                   int64
	TenantID             int64
	PhoneNumber          string
	ThreadID             string
	FirstName            string
	LastName             string
	Email                string
	Field                string
	Timezone             string
	InternshipExperience bool
	Status               string
	CreatedAt            time.Time
}

// Message is one persisted SMS, inbound or outbound.
type Message struct {
	ID            int64
	AccountID     int64
	Role          Role
	Text          string
	Flagged       bool
	FlaggedReason string
	CreatedAt     time.Time
}

// ThreadCreator creates the remote conversation thread for a new account.
type ThreadCreator func(ctx context.Context) (string, error)

// Store is the account and message persistence contract.
//
// Every method is an independent atomic write or read; callers must not
// assume ordering between concurrent calls for the same account.
type Store interface {
	// GetOrCreateAccount returns the account for phone, creating it (and its
	// thread via newThread) on first contact. created reports whether a new
	// account was inserted.
	GetOrCreateAccount(ctx context.Context, phone string, newThread ThreadCreator) (account *Account, created bool, err error)
	// GetAccount returns an account by id or ErrNotFound.
	GetAccount(ctx context.Context, accountID int64) (*Account, error)
	// SaveMessage stores an unflagged message and returns its id.
	SaveMessage(ctx context.Context, accountID int64, role Role, text string) (int64, error)
	// UpdateMessageFlag records a moderation verdict. An empty reason is stored as NULL.
	UpdateMessageFlag(ctx context.Context, messageID int64, flagged bool, reason string) error
	// GetMessages returns the newest limit messages in chronological order.
	GetMessages(ctx context.Context, accountID int64, limit int) ([]Message, error)
	// GetLastUserMessageID returns the id of the newest user message or ErrNotFound.
	GetLastUserMessageID(ctx context.Context, accountID int64) (int64, error)
	// LastMessageAt returns when the newest message with role was stored or ErrNotFound.
	LastMessageAt(ctx context.Context, accountID int64, role Role) (time.Time, error)
	// GetStudentName returns the first name ("" when unset) or ErrNotFound.
	GetStudentName(ctx context.Context, accountID int64) (string, error)
	// SaveStudentName sets the first name; "" clears it.
	SaveStudentName(ctx context.Context, accountID int64, firstName string) error
	// SetAccountStatus updates the subscription status.
	SetAccountStatus(ctx context.Context, accountID int64, status string) error
	// ListAccounts returns all accounts ordered by id.
	ListAccounts(ctx context.Context) ([]Account, error)
	// ListInternshipAccounts returns accounts that have internship experience.
	ListInternshipAccounts(ctx context.Context) ([]Account, error)
	// Close releases underlying resources.
	Close() error
}
