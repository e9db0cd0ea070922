package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/haasonsaas/copilot/internal/backoff"
	"github.com/haasonsaas/copilot/internal/retry"
)

// CockroachConfig configures the SQL connection pool.
type CockroachConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
	// ConnectRetries is the number of pings attempted before giving up.
	ConnectRetries int
	// ConnectRetryDelay is the fixed pause between pings.
	ConnectRetryDelay time.Duration
	Logger            *slog.Logger
}

// DefaultCockroachConfig returns the default pool settings.
func DefaultCockroachConfig() *CockroachConfig {
	return &CockroachConfig{
		MaxOpenConns:      25,
		MaxIdleConns:      5,
		ConnMaxLifetime:   5 * time.Minute,
		ConnMaxIdleTime:   2 * time.Minute,
		ConnectTimeout:    10 * time.Second,
		ConnectRetries:    5,
		ConnectRetryDelay: 2 * time.Second,
	}
}

// CockroachStore implements Store on CockroachDB or PostgreSQL via lib/pq.
type CockroachStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewCockroachStoreFromDSN opens the database, applies pool settings and
// pings it with retries until it answers.
func NewCockroachStoreFromDSN(ctx context.Context, dsn string, config *CockroachConfig) (*CockroachStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultCockroachConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("component", "store")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	result := retry.Do(ctx, retry.Config{
		MaxAttempts: config.ConnectRetries,
		Policy:      backoff.Fixed{Interval: config.ConnectRetryDelay},
	}, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			logger.Warn("database not ready", "error", err)
			return err
		}
		return nil
	})
	if result.Err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database after %d attempts: %w", result.Attempts, result.Err)
	}

	return NewCockroachStore(db), nil
}

// NewCockroachStore wraps an existing connection.
func NewCockroachStore(db *sql.DB) *CockroachStore {
	return &CockroachStore{db: db, now: time.Now}
}

// DB exposes the underlying handle for migrations.
func (s *CockroachStore) DB() *sql.DB {
	return s.db
}

// Close closes the connection pool.
func (s *CockroachStore) Close() error {
	return s.db.Close()
}

const accountColumns = `id, tenant_id, phone_number, thread_id, first_name, last_name, email_address,
	field, timezone, internship_experience, status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		account                                   Account
		firstName, lastName, email, field, tzName sql.NullString
	)
	if err := row.Scan(
		&account.ID,
		&account.TenantID,
		&account.PhoneNumber,
		&account.ThreadID,
		&firstName,
		&lastName,
		&email,
		&field,
		&tzName,
		&account.InternshipExperience,
		&account.Status,
		&account.CreatedAt,
	); err != nil {
		return nil, err
	}
	account.FirstName = firstName.String
	account.LastName = lastName.String
	account.Email = email.String
	account.Field = field.String
	account.Timezone = tzName.String
	return &account, nil
}

// GetOrCreateAccount implements Store.
func (s *CockroachStore) GetOrCreateAccount(ctx context.Context, phone string, newThread ThreadCreator) (*Account, bool, error) {
	if strings.TrimSpace(phone) == "" {
		return nil, false, fmt.Errorf("phone number is required")
	}

	account, err := s.accountByPhone(ctx, phone)
	if err == nil {
		return account, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	var tenantID int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM tenants ORDER BY id LIMIT 1`).Scan(&tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, ErrNoTenant
		}
		return nil, false, fmt.Errorf("select default tenant: %w", err)
	}

	if newThread == nil {
		return nil, false, fmt.Errorf("thread creator is required for new accounts")
	}
	threadID, err := newThread(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("create thread: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO accounts (phone_number, thread_id, tenant_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (phone_number) DO NOTHING
		 RETURNING `+accountColumns,
		phone, threadID, tenantID, StatusActive, s.now(),
	)
	account, err = scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost a race with a concurrent first contact; the winner's thread is kept.
		account, err = s.accountByPhone(ctx, phone)
		return account, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert account: %w", err)
	}
	return account, true, nil
}

func (s *CockroachStore) accountByPhone(ctx context.Context, phone string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE phone_number = $1`, phone)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account by phone: %w", err)
	}
	return account, nil
}

// GetAccount implements Store.
func (s *CockroachStore) GetAccount(ctx context.Context, accountID int64) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

// SaveMessage implements Store.
func (s *CockroachStore) SaveMessage(ctx context.Context, accountID int64, role Role, text string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (account_id, role, text, flagged, created_at)
		 VALUES ($1, $2, $3, false, $4)
		 RETURNING id`,
		accountID, string(role), text, s.now(),
	).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("save message: %w", err)
	}
	return id, nil
}

// UpdateMessageFlag implements Store.
func (s *CockroachStore) UpdateMessageFlag(ctx context.Context, messageID int64, flagged bool, reason string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET flagged = $1, flagged_reason = $2 WHERE id = $3`,
		flagged, nullableString(reason), messageID,
	)
	if err != nil {
		return fmt.Errorf("update message flag: %w", err)
	}
	return requireRow(result)
}

// GetMessages implements Store.
func (s *CockroachStore) GetMessages(ctx context.Context, accountID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, role, text, flagged, flagged_reason, created_at
		 FROM messages WHERE account_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			msg    Message
			role   string
			reason sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.AccountID, &role, &msg.Text, &msg.Flagged, &reason, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = Role(role)
		msg.FlaggedReason = reason.String
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// GetLastUserMessageID implements Store.
func (s *CockroachStore) GetLastUserMessageID(ctx context.Context, accountID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM messages WHERE account_id = $1 AND role = $2
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		accountID, string(RoleUser),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("get last user message: %w", err)
	}
	return id, nil
}

// LastMessageAt implements Store.
func (s *CockroachStore) LastMessageAt(ctx context.Context, accountID int64, role Role) (time.Time, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at FROM messages WHERE account_id = $1 AND role = $2
		 ORDER BY created_at DESC LIMIT 1`,
		accountID, string(role),
	).Scan(&at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("get last message time: %w", err)
	}
	return at, nil
}

// GetStudentName implements Store.
func (s *CockroachStore) GetStudentName(ctx context.Context, accountID int64) (string, error) {
	var name sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT first_name FROM accounts WHERE id = $1`, accountID).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get student name: %w", err)
	}
	return name.String, nil
}

// SaveStudentName implements Store.
func (s *CockroachStore) SaveStudentName(ctx context.Context, accountID int64, firstName string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET first_name = $1 WHERE id = $2`,
		nullableString(firstName), accountID,
	)
	if err != nil {
		return fmt.Errorf("save student name: %w", err)
	}
	return requireRow(result)
}

// SetAccountStatus implements Store.
func (s *CockroachStore) SetAccountStatus(ctx context.Context, accountID int64, status string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET status = $1 WHERE id = $2`,
		status, accountID,
	)
	if err != nil {
		return fmt.Errorf("set account status: %w", err)
	}
	return requireRow(result)
}

// ListAccounts implements Store.
func (s *CockroachStore) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.listAccounts(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
}

// ListInternshipAccounts implements Store.
func (s *CockroachStore) ListInternshipAccounts(ctx context.Context) ([]Account, error) {
	return s.listAccounts(ctx, `SELECT `+accountColumns+` FROM accounts WHERE internship_experience = true ORDER BY id`)
}

func (s *CockroachStore) listAccounts(ctx context.Context, query string, args ...any) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return false
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
