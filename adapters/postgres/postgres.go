// Package postgres provides a PostgreSQL implementation of the processed-key store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/AshkanYarmoradi/go-relay/adapters"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
)

// Sentinel errors for the postgres adapter.
// These are aliases to the adapters package errors for compatibility with errors.Is().
var (
	ErrAdapterClosed = adapters.ErrAdapterClosed
	ErrEmptyKey      = adapters.ErrEmptyKey
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Option configures the *sql.DB opened by Open.
type Option func(*sql.DB)

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(db *sql.DB) {
		db.SetMaxOpenConns(n)
	}
}

// WithMaxIdleConnections sets the maximum number of idle connections.
func WithMaxIdleConnections(n int) Option {
	return func(db *sql.DB) {
		db.SetMaxIdleConns(n)
	}
}

// WithConnectionMaxLifetime sets the maximum connection lifetime.
func WithConnectionMaxLifetime(d time.Duration) Option {
	return func(db *sql.DB) {
		db.SetConnMaxLifetime(d)
	}
}

// Open opens a pgx-backed *sql.DB and verifies the connection.
func Open(ctx context.Context, connStr string, opts ...Option) (*sql.DB, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("relay/postgres: failed to open database: %w", err)
	}

	for _, opt := range opts {
		opt(db)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("relay/postgres: failed to connect: %w", err)
	}

	return db, nil
}

// validateIdentifier checks if a name is a valid PostgreSQL identifier.
func validateIdentifier(name, kind string) error {
	if name == "" {
		return fmt.Errorf("relay/postgres: %s name cannot be empty", kind)
	}
	if len(name) > 63 {
		return fmt.Errorf("relay/postgres: %s name exceeds 63 characters", kind)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("relay/postgres: %s name contains invalid characters", kind)
	}
	return nil
}

func quoteQualifiedTable(schema, table string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}
