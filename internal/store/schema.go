package store

import (
	"context"
	"fmt"
)

// migrations are applied in order; each statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`INSERT INTO tenants (name) VALUES ('default') ON CONFLICT (name) DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id BIGSERIAL PRIMARY KEY,
		tenant_id BIGINT NOT NULL REFERENCES tenants (id),
		role TEXT NOT NULL DEFAULT 'student',
		phone_number TEXT NOT NULL UNIQUE,
		thread_id TEXT NOT NULL,
		first_name TEXT,
		last_name TEXT,
		email_address TEXT,
		skills TEXT,
		field TEXT,
		timezone TEXT,
		internship_experience BOOLEAN NOT NULL DEFAULT false,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		flagged BOOLEAN NOT NULL DEFAULT false,
		flagged_reason TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS messages_account_created_idx ON messages (account_id, created_at DESC)`,
}

// Migrate creates the schema and the default tenant.
func (s *CockroachStore) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
