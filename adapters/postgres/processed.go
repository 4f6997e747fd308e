package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/AshkanYarmoradi/go-relay/adapters"
	"github.com/lib/pq"
)

// Ensure interface compliance at compile time
var (
	_ adapters.ProcessedStore = (*ProcessedStore)(nil)
	_ adapters.Counter        = (*ProcessedStore)(nil)
	_ adapters.HealthChecker  = (*ProcessedStore)(nil)
)

// ProcessedStore keeps delivered integration keys in a PostgreSQL table so
// several relay instances share one dedup window.
type ProcessedStore struct {
	db     *sql.DB
	schema string
	table  string
}

// ProcessedStoreOption configures a ProcessedStore.
type ProcessedStoreOption func(*ProcessedStore)

// WithSchema sets the PostgreSQL schema for the processed table.
func WithSchema(schema string) ProcessedStoreOption {
	return func(s *ProcessedStore) {
		s.schema = schema
	}
}

// WithTable sets the table name for processed keys.
func WithTable(table string) ProcessedStoreOption {
	return func(s *ProcessedStore) {
		s.table = table
	}
}

// NewProcessedStore creates a new PostgreSQL ProcessedStore.
func NewProcessedStore(db *sql.DB, opts ...ProcessedStoreOption) *ProcessedStore {
	s := &ProcessedStore{
		db:     db,
		schema: "public",
		table:  "relay_processed_events",
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *ProcessedStore) fullTableName() string {
	return quoteQualifiedTable(s.schema, s.table)
}

// Initialize creates the schema and processed table if they don't exist.
func (s *ProcessedStore) Initialize(ctx context.Context) error {
	if err := validateIdentifier(s.schema, "schema"); err != nil {
		return err
	}
	if err := validateIdentifier(s.table, "table"); err != nil {
		return err
	}

	tableQ := s.fullTableName()
	query := `
		CREATE SCHEMA IF NOT EXISTS ` + pq.QuoteIdentifier(s.schema) + `;

		CREATE TABLE IF NOT EXISTS ` + tableQ + ` (
			key          VARCHAR(512) PRIMARY KEY,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at   TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS ` + pq.QuoteIdentifier("idx_"+s.table+"_expires_at") + ` ON ` + tableQ + ` (expires_at);
	`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("relay/postgres: failed to create table: %w", err)
	}
	return nil
}

// Seen reports whether key is present and unexpired.
func (s *ProcessedStore) Seen(ctx context.Context, key string) (bool, error) {
	if err := adapters.ValidateKey(key); err != nil {
		return false, err
	}

	query := `
		SELECT EXISTS(
			SELECT 1 FROM ` + s.fullTableName() + `
			WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
		)
	`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("relay/postgres: failed to check key: %w", err)
	}
	return exists, nil
}

// MarkProcessed upserts key with a fresh expiry.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) error {
	if err := adapters.ValidateKey(key); err != nil {
		return err
	}

	now := time.Now()
	var expiresAt interface{}
	if exp := adapters.ExpiryFor(now, ttl); !exp.IsZero() {
		expiresAt = exp
	}

	query := `
		INSERT INTO ` + s.fullTableName() + ` (key, processed_at, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			processed_at = EXCLUDED.processed_at,
			expires_at = EXCLUDED.expires_at
	`

	if _, err := s.db.ExecContext(ctx, query, key, now, expiresAt); err != nil {
		return fmt.Errorf("relay/postgres: failed to mark key: %w", err)
	}
	return nil
}

// Sweep deletes expired keys.
func (s *ProcessedStore) Sweep(ctx context.Context) (int64, error) {
	query := `DELETE FROM ` + s.fullTableName() + ` WHERE expires_at IS NOT NULL AND expires_at <= NOW()`

	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("relay/postgres: failed to sweep: %w", err)
	}
	return result.RowsAffected()
}

// Clear deletes every key.
func (s *ProcessedStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `TRUNCATE `+s.fullTableName()); err != nil {
		return fmt.Errorf("relay/postgres: failed to clear: %w", err)
	}
	return nil
}

// Count returns the number of stored keys.
func (s *ProcessedStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+s.fullTableName()).Scan(&count); err != nil {
		return 0, fmt.Errorf("relay/postgres: failed to count: %w", err)
	}
	return count, nil
}

// Get returns the record for key, or nil when absent.
func (s *ProcessedStore) Get(ctx context.Context, key string) (*adapters.ProcessedRecord, error) {
	query := `SELECT key, processed_at, expires_at FROM ` + s.fullTableName() + ` WHERE key = $1`

	var (
		rec       adapters.ProcessedRecord
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(&rec.Key, &rec.ProcessedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("relay/postgres: failed to get key: %w", err)
	}
	if expiresAt.Valid {
		rec.ExpiresAt = expiresAt.Time
	}
	return &rec, nil
}

// Ping checks database connectivity.
func (s *ProcessedStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
