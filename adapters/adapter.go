// Package adapters provides interfaces for processed-key store backends.
package adapters

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for adapter implementations.
// Adapters should return these (or errors that match via errors.Is)
// to enable consistent error handling across different backends.
var (
	// ErrEmptyKey is returned when an empty processed key is provided.
	ErrEmptyKey = errors.New("relay: processed key is required")

	// ErrAdapterClosed is returned when operations are attempted on a closed adapter.
	ErrAdapterClosed = errors.New("relay: adapter is closed")
)

// ProcessedStore records the keys of integration events that were delivered.
// A key present and unexpired in the store turns a repeat publish into a no-op.
type ProcessedStore interface {
	// Seen reports whether key was recorded and has not expired.
	Seen(ctx context.Context, key string) (bool, error)

	// MarkProcessed records key. A ttl of zero keeps the key until Sweep
	// with no expiry or Clear removes it.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) error

	// Sweep removes expired keys and returns how many were removed.
	Sweep(ctx context.Context) (int64, error)

	// Clear removes every key.
	Clear(ctx context.Context) error
}

// Counter is implemented by stores that can report their size.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// HealthChecker provides health check capability.
type HealthChecker interface {
	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error
}

// ProcessedRecord is a single delivered key with its bookkeeping times.
type ProcessedRecord struct {
	// Key is the dedup key, name:eventId.
	Key string `json:"key"`

	// ProcessedAt is when the delivery completed.
	ProcessedAt time.Time `json:"processedAt"`

	// ExpiresAt is when the key stops suppressing duplicates.
	// The zero value means it never expires on its own.
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// IsExpiredAt reports whether the record is expired at the given instant.
func (r *ProcessedRecord) IsExpiredAt(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}
