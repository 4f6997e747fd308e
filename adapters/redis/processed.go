// Package redis provides a Redis implementation of the processed-key store.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/AshkanYarmoradi/go-relay/adapters"
	"github.com/redis/go-redis/v9"
)

// Ensure interface compliance at compile time
var (
	_ adapters.ProcessedStore = (*ProcessedStore)(nil)
	_ adapters.Counter        = (*ProcessedStore)(nil)
	_ adapters.HealthChecker  = (*ProcessedStore)(nil)
)

// ProcessedStore keeps delivered keys in Redis so all instances share the
// dedup window. Redis expires keys itself, so Sweep has nothing to do.
type ProcessedStore struct {
	client redis.UniversalClient
	prefix string
}

// Option configures a ProcessedStore.
type Option func(*ProcessedStore)

// WithPrefix sets the namespace prepended to every key.
func WithPrefix(prefix string) Option {
	return func(s *ProcessedStore) {
		s.prefix = prefix
	}
}

// NewProcessedStore creates a store on top of client.
func NewProcessedStore(client redis.UniversalClient, opts ...Option) *ProcessedStore {
	s := &ProcessedStore{
		client: client,
		prefix: "relay:processed:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ProcessedStore) key(key string) string {
	return s.prefix + key
}

// Seen reports whether key exists.
func (s *ProcessedStore) Seen(ctx context.Context, key string) (bool, error) {
	if err := adapters.ValidateKey(key); err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("relay/redis: failed to check key: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed stores key with ttl. A zero ttl stores it without expiry.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) error {
	if err := adapters.ValidateKey(key); err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(key), time.Now().UnixMilli(), ttl).Err(); err != nil {
		return fmt.Errorf("relay/redis: failed to mark key: %w", err)
	}
	return nil
}

// MarkIfAbsent records key only when it is not already present and reports
// whether this call recorded it.
func (s *ProcessedStore) MarkIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := adapters.ValidateKey(key); err != nil {
		return false, err
	}
	if ttl < 0 {
		ttl = 0
	}
	added, err := s.client.SetNX(ctx, s.key(key), time.Now().UnixMilli(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("relay/redis: failed to mark key: %w", err)
	}
	return added, nil
}

// Sweep is a no-op; Redis evicts expired keys on its own.
func (s *ProcessedStore) Sweep(ctx context.Context) (int64, error) {
	return 0, nil
}

// Clear deletes every key under the prefix.
func (s *ProcessedStore) Clear(ctx context.Context) error {
	keys, err := s.scan(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("relay/redis: failed to clear: %w", err)
	}
	return nil
}

// Count returns the number of keys under the prefix.
func (s *ProcessedStore) Count(ctx context.Context) (int64, error) {
	keys, err := s.scan(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

// Ping checks connectivity.
func (s *ProcessedStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *ProcessedStore) scan(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("relay/redis: failed to scan keys: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
