package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps accounts and messages in process. It backs the console
// when no database is configured and the package tests.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[int64]*Account
	byPhone  map[string]int64
	messages []Message
	nextAcct int64
	nextMsg  int64
	now      func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[int64]*Account),
		byPhone:  make(map[string]int64),
		now:      time.Now,
	}
}

// SetClock overrides the time source used for created_at stamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// GetOrCreateAccount implements Store.
func (s *MemoryStore) GetOrCreateAccount(ctx context.Context, phone string, newThread ThreadCreator) (*Account, bool, error) {
	if strings.TrimSpace(phone) == "" {
		return nil, false, fmt.Errorf("phone number is required")
	}

	s.mu.RLock()
	if id, ok := s.byPhone[phone]; ok {
		account := *s.accounts[id]
		s.mu.RUnlock()
		return &account, false, nil
	}
	s.mu.RUnlock()

	if newThread == nil {
		return nil, false, fmt.Errorf("thread creator is required for new accounts")
	}
	threadID, err := newThread(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("create thread: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPhone[phone]; ok {
		account := *s.accounts[id]
		return &account, false, nil
	}
	s.nextAcct++
	account := &Account{
		ID:          s.nextAcct,
		TenantID:    1,
		PhoneNumber: phone,
		ThreadID:    threadID,
		Status:      StatusActive,
		CreatedAt:   s.now(),
	}
	s.accounts[account.ID] = account
	s.byPhone[phone] = account.ID
	clone := *account
	return &clone, true, nil
}

// PutAccount inserts or replaces an account, assigning an id when zero.
func (s *MemoryStore) PutAccount(account Account) Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account.ID == 0 {
		s.nextAcct++
		account.ID = s.nextAcct
	} else if account.ID > s.nextAcct {
		s.nextAcct = account.ID
	}
	if account.Status == "" {
		account.Status = StatusActive
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = s.now()
	}
	stored := account
	s.accounts[account.ID] = &stored
	if account.PhoneNumber != "" {
		s.byPhone[account.PhoneNumber] = account.ID
	}
	return account
}

// GetAccount implements Store.
func (s *MemoryStore) GetAccount(ctx context.Context, accountID int64) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *account
	return &clone, nil
}

// SaveMessage implements Store.
func (s *MemoryStore) SaveMessage(ctx context.Context, accountID int64, role Role, text string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return 0, ErrNotFound
	}
	s.nextMsg++
	s.messages = append(s.messages, Message{
		ID:        s.nextMsg,
		AccountID: accountID,
		Role:      role,
		Text:      text,
		CreatedAt: s.now(),
	})
	return s.nextMsg, nil
}

// UpdateMessageFlag implements Store.
func (s *MemoryStore) UpdateMessageFlag(ctx context.Context, messageID int64, flagged bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].Flagged = flagged
			s.messages[i].FlaggedReason = reason
			return nil
		}
	}
	return ErrNotFound
}

// Message returns a stored message by id.
func (s *MemoryStore) Message(messageID int64) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msg := range s.messages {
		if msg.ID == messageID {
			return msg, true
		}
	}
	return Message{}, false
}

// accountMessages returns the account's messages newest first (must be called with lock held).
func (s *MemoryStore) accountMessages(accountID int64) []Message {
	var out []Message
	for _, msg := range s.messages {
		if msg.AccountID == accountID {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// GetMessages implements Store.
func (s *MemoryStore) GetMessages(ctx context.Context, accountID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	newest := s.accountMessages(accountID)
	if len(newest) > limit {
		newest = newest[:limit]
	}
	out := make([]Message, len(newest))
	for i, msg := range newest {
		out[len(newest)-1-i] = msg
	}
	return out, nil
}

// GetLastUserMessageID implements Store.
func (s *MemoryStore) GetLastUserMessageID(ctx context.Context, accountID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msg := range s.accountMessages(accountID) {
		if msg.Role == RoleUser {
			return msg.ID, nil
		}
	}
	return 0, ErrNotFound
}

// LastMessageAt implements Store.
func (s *MemoryStore) LastMessageAt(ctx context.Context, accountID int64, role Role) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msg := range s.accountMessages(accountID) {
		if msg.Role == role {
			return msg.CreatedAt, nil
		}
	}
	return time.Time{}, ErrNotFound
}

// GetStudentName implements Store.
func (s *MemoryStore) GetStudentName(ctx context.Context, accountID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return "", ErrNotFound
	}
	return account.FirstName, nil
}

// SaveStudentName implements Store.
func (s *MemoryStore) SaveStudentName(ctx context.Context, accountID int64, firstName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	account.FirstName = firstName
	return nil
}

// SetAccountStatus implements Store.
func (s *MemoryStore) SetAccountStatus(ctx context.Context, accountID int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	account.Status = status
	return nil
}

// ListAccounts implements Store.
func (s *MemoryStore) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.list(func(*Account) bool { return true }), nil
}

// ListInternshipAccounts implements Store.
func (s *MemoryStore) ListInternshipAccounts(ctx context.Context) ([]Account, error) {
	return s.list(func(a *Account) bool { return a.InternshipExperience }), nil
}

func (s *MemoryStore) list(keep func(*Account) bool) []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Account
	for _, account := range s.accounts {
		if keep(account) {
			out = append(out, *account)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
