package contacts

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Cache persists embeddings keyed by a hash of model and document text.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (or creates) the cache at path. ":memory:" keeps it in
// process memory.
func OpenCache(path string) (*Cache, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS embeddings (
			content_hash TEXT PRIMARY KEY,
			vector BLOB NOT NULL,
			created_at INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create embeddings table: %w", err)
	}
	return &Cache{db: db}, nil
}

// Get returns the cached vectors for the keys that are present.
func (c *Cache) Get(ctx context.Context, keys []string) (map[string][]float32, error) {
	found := make(map[string][]float32, len(keys))
	if len(keys) == 0 {
		return found, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key
	}

	rows, err := c.db.QueryContext(ctx,
		"SELECT content_hash, vector FROM embeddings WHERE content_hash IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var blob []byte
		if err := rows.Scan(&key, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		if vector := decodeVector(blob); vector != nil {
			found[key] = vector
		}
	}
	return found, rows.Err()
}

// Put stores vectors, replacing existing entries.
func (c *Cache) Put(ctx context.Context, entries map[string][]float32) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO embeddings (content_hash, vector, created_at) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for key, vector := range entries {
		if _, err := stmt.ExecContext(ctx, key, encodeVector(vector), now); err != nil {
			return fmt.Errorf("insert embedding: %w", err)
		}
	}
	return tx.Commit()
}

// Len returns the number of cached embeddings.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Close releases the database.
func (c *Cache) Close() error {
	return c.db.Close()
}
