package memory

import (
	"context"
	"sync"
	"time"

	"github.com/AshkanYarmoradi/go-relay/adapters"
)

// Ensure interface compliance at compile time
var (
	_ adapters.ProcessedStore = (*ProcessedStore)(nil)
	_ adapters.Counter        = (*ProcessedStore)(nil)
)

// ProcessedStore provides an in-memory implementation of adapters.ProcessedStore.
// Keys live in a key to expiry map; nothing survives a restart.
type ProcessedStore struct {
	mu      sync.RWMutex
	records map[string]*adapters.ProcessedRecord
	closed  bool
	now     func() time.Time

	// cleanupInterval is how often to run automatic sweeps
	cleanupInterval time.Duration
	// stopCleanup signals the cleanup goroutine to stop
	stopCleanup chan struct{}
	// closeOnce ensures Close() is only executed once
	closeOnce sync.Once
	// cleanupStarted indicates whether cleanup goroutine has started
	cleanupStarted chan struct{}
}

// ProcessedStoreOption configures a ProcessedStore.
type ProcessedStoreOption func(*ProcessedStore)

// WithCleanupInterval sets the interval for automatic sweeps of expired keys.
// Set to 0 to disable automatic cleanup (the default; the bus usually owns it).
func WithCleanupInterval(interval time.Duration) ProcessedStoreOption {
	return func(s *ProcessedStore) {
		s.cleanupInterval = interval
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ProcessedStoreOption {
	return func(s *ProcessedStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewProcessedStore creates a new in-memory ProcessedStore.
func NewProcessedStore(opts ...ProcessedStoreOption) *ProcessedStore {
	s := &ProcessedStore{
		records:        make(map[string]*adapters.ProcessedRecord),
		now:            time.Now,
		stopCleanup:    make(chan struct{}),
		cleanupStarted: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cleanupInterval > 0 {
		go s.startCleanup()
		<-s.cleanupStarted
	} else {
		close(s.cleanupStarted)
	}

	return s
}

func (s *ProcessedStore) startCleanup() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	close(s.cleanupStarted)

	for {
		select {
		case <-ticker.C:
			_, _ = s.Sweep(context.Background())
		case <-s.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine. It is safe to call Close() multiple times.
func (s *ProcessedStore) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stopCleanup)
	})
	return nil
}

// Seen reports whether key is present and unexpired.
func (s *ProcessedStore) Seen(ctx context.Context, key string) (bool, error) {
	if err := adapters.ValidateKey(key); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, adapters.ErrAdapterClosed
	}

	record, ok := s.records[key]
	if !ok {
		return false, nil
	}
	return !record.IsExpiredAt(s.now()), nil
}

// MarkProcessed records key with the given ttl, replacing any earlier record.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) error {
	if err := adapters.ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return adapters.ErrAdapterClosed
	}

	now := s.now()
	s.records[key] = &adapters.ProcessedRecord{
		Key:         key,
		ProcessedAt: now,
		ExpiresAt:   adapters.ExpiryFor(now, ttl),
	}
	return nil
}

// Sweep removes expired keys and returns the number removed.
func (s *ProcessedStore) Sweep(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var count int64
	for key, record := range s.records {
		if record.IsExpiredAt(now) {
			delete(s.records, key)
			count++
		}
	}
	return count, nil
}

// Clear removes every key.
func (s *ProcessedStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*adapters.ProcessedRecord)
	return nil
}

// Count returns the number of stored keys, expired or not.
func (s *ProcessedStore) Count(ctx context.Context) (int64, error) {
	return int64(s.Len()), nil
}

// Len returns the number of stored keys.
// Useful for testing.
func (s *ProcessedStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Get returns a copy of the record for key, or nil.
func (s *ProcessedStore) Get(key string) *adapters.ProcessedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return adapters.CopyProcessedRecord(s.records[key])
}
