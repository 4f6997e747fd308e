package relay

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AshkanYarmoradi/go-relay/adapters"
	"github.com/AshkanYarmoradi/go-relay/adapters/memory"
)

const (
	// DefaultProcessedTTL is how long a delivered key suppresses duplicates.
	DefaultProcessedTTL = time.Hour

	// DefaultCleanupInterval is how often expired keys are swept.
	DefaultCleanupInterval = time.Hour
)

// Transport is the backend-specific half of an event bus. HandleEvent
// delivers one envelope; for in-process transports that means running the
// handlers, for brokers it means writing to the durable transport.
type Transport interface {
	// Name identifies the transport in logs and errors.
	Name() string

	// HandleEvent delivers env to topic.
	HandleEvent(ctx context.Context, env *Integration, topic string) error

	// Subscribe starts receiving topic. handler is optional and runs after
	// the registered integration handlers.
	Subscribe(ctx context.Context, topic string, handler IntegrationHandler) error

	// Unsubscribe stops receiving topic.
	Unsubscribe(ctx context.Context, topic string) error

	// Close releases the transport.
	Close() error
}

// EventBus publishes integration envelopes with at-most-once delivery per
// name:eventId within the processed-key window.
type EventBus interface {
	Publish(ctx context.Context, env *Integration, opts ...PublishOption) error
	Subscribe(ctx context.Context, topic string, handler IntegrationHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}

// PublishOutcome is the terminal state of one Publish call.
type PublishOutcome string

const (
	// OutcomeDelivered means the transport accepted the envelope and its key was recorded.
	OutcomeDelivered PublishOutcome = "delivered"

	// OutcomeDeduplicated means the key was already recorded; nothing ran.
	OutcomeDeduplicated PublishOutcome = "deduplicated"

	// OutcomeFailed means delivery failed and the key was not recorded.
	OutcomeFailed PublishOutcome = "failed"
)

// PublishObserver is notified of every Publish outcome.
type PublishObserver interface {
	ObservePublish(name string, outcome PublishOutcome, duration time.Duration)
}

type publishOptions struct {
	topic string
}

// PublishOption configures a single Publish call.
type PublishOption func(*publishOptions)

// WithTopic publishes to topic instead of the envelope name.
func WithTopic(topic string) PublishOption {
	return func(o *publishOptions) {
		o.topic = topic
	}
}

// Bus is the EventBus core. It owns dedup and cleanup and delegates
// delivery to a Transport.
type Bus struct {
	transport Transport
	store     adapters.ProcessedStore
	ownsStore bool
	logger    Logger
	observers []PublishObserver

	ttl             time.Duration
	cleanupInterval time.Duration

	// inflight serializes concurrent publishes of the same key
	inflightMu sync.Mutex
	inflight   map[string]chan struct{}

	closed atomic.Bool
	// stopCleanup signals the cleanup goroutine to stop
	stopCleanup chan struct{}
	// closeOnce ensures Close() is only executed once
	closeOnce sync.Once
	// cleanupStarted indicates whether cleanup goroutine has started
	cleanupStarted chan struct{}
}

var _ EventBus = (*Bus)(nil)

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithProcessedStore sets the processed-key store. The default is an
// in-memory store owned and closed by the bus.
func WithProcessedStore(store adapters.ProcessedStore) BusOption {
	return func(b *Bus) {
		b.store = store
		b.ownsStore = false
	}
}

// WithProcessedTTL sets how long delivered keys suppress duplicates.
// A non-positive ttl makes keys live for one cleanup interval, or for
// DefaultProcessedTTL when cleanup is disabled, so every key expires.
func WithProcessedTTL(ttl time.Duration) BusOption {
	return func(b *Bus) {
		b.ttl = ttl
	}
}

// WithCleanupInterval sets how often expired keys are swept. Zero disables it.
func WithCleanupInterval(interval time.Duration) BusOption {
	return func(b *Bus) {
		b.cleanupInterval = interval
	}
}

// WithBusLogger sets a custom logger.
func WithBusLogger(l Logger) BusOption {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithPublishObserver adds an observer of publish outcomes.
func WithPublishObserver(o PublishObserver) BusOption {
	return func(b *Bus) {
		b.observers = append(b.observers, o)
	}
}

// NewBus creates a Bus on top of transport and starts the cleanup goroutine.
func NewBus(transport Transport, opts ...BusOption) *Bus {
	b := &Bus{
		transport:       transport,
		store:           memory.NewProcessedStore(),
		ownsStore:       true,
		logger:          &noopLogger{},
		ttl:             DefaultProcessedTTL,
		cleanupInterval: DefaultCleanupInterval,
		inflight:        make(map[string]chan struct{}),
		stopCleanup:     make(chan struct{}),
		cleanupStarted:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.ttl <= 0 {
		b.ttl = DefaultProcessedTTL
		if b.cleanupInterval > 0 {
			b.ttl = b.cleanupInterval
		}
	}

	if b.cleanupInterval > 0 {
		go b.startCleanup()
		<-b.cleanupStarted
	} else {
		close(b.cleanupStarted)
	}

	return b
}

func (b *Bus) startCleanup() {
	ticker := time.NewTicker(b.cleanupInterval)
	defer ticker.Stop()

	close(b.cleanupStarted)

	for {
		select {
		case <-ticker.C:
			removed, err := b.store.Sweep(context.Background())
			if err != nil {
				b.logger.Warn("Processed key sweep failed", "error", err)
				continue
			}
			b.logger.Debug("Swept processed keys", "removed", removed)
		case <-b.stopCleanup:
			return
		}
	}
}

// Transport returns the underlying transport.
func (b *Bus) Transport() Transport {
	return b.transport
}

// Store returns the processed-key store.
func (b *Bus) Store() adapters.ProcessedStore {
	return b.store
}

// Publish delivers env unless its key name:eventId was already delivered.
// A duplicate returns nil without running anything. A failed delivery
// returns the error and leaves the key unrecorded so the caller may retry.
func (b *Bus) Publish(ctx context.Context, env *Integration, opts ...PublishOption) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if env == nil {
		return ErrNilMessage
	}
	if err := env.Validate(); err != nil {
		return err
	}

	o := publishOptions{topic: env.Name()}
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	key := env.Key()

	release, err := b.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	seen, err := b.store.Seen(ctx, key)
	if err != nil {
		b.logger.Error("Processed key lookup failed", "key", key, "error", err)
		b.observe(env.Name(), OutcomeFailed, start)
		return fmt.Errorf("relay: processed lookup for %s: %w", key, err)
	}
	if seen {
		b.logger.Debug("Skipping duplicate event", "key", key)
		b.observe(env.Name(), OutcomeDeduplicated, start)
		return nil
	}

	if err := b.transport.HandleEvent(ctx, env, o.topic); err != nil {
		b.logger.Error("Failed to handle event", "key", key, "transport", b.transport.Name(), "error", err)
		b.observe(env.Name(), OutcomeFailed, start)
		return err
	}

	if err := b.store.MarkProcessed(ctx, key, b.ttl); err != nil {
		// Delivery already happened; failing here would invite a duplicate retry.
		b.logger.Warn("Failed to record processed event", "key", key, "error", err)
	}
	b.observe(env.Name(), OutcomeDelivered, start)
	return nil
}

// acquire blocks while another Publish of key is in flight.
func (b *Bus) acquire(ctx context.Context, key string) (func(), error) {
	for {
		b.inflightMu.Lock()
		busy, ok := b.inflight[key]
		if !ok {
			done := make(chan struct{})
			b.inflight[key] = done
			b.inflightMu.Unlock()
			return func() {
				b.inflightMu.Lock()
				delete(b.inflight, key)
				b.inflightMu.Unlock()
				close(done)
			}, nil
		}
		b.inflightMu.Unlock()

		select {
		case <-busy:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (b *Bus) observe(name string, outcome PublishOutcome, start time.Time) {
	if len(b.observers) == 0 {
		return
	}
	d := time.Since(start)
	for _, o := range b.observers {
		o.ObservePublish(name, outcome, d)
	}
}

// Subscribe delegates to the transport.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler IntegrationHandler) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	return b.transport.Subscribe(ctx, topic, handler)
}

// Unsubscribe delegates to the transport.
func (b *Bus) Unsubscribe(ctx context.Context, topic string) error {
	return b.transport.Unsubscribe(ctx, topic)
}

// IsProcessed reports whether env's key is currently recorded.
func (b *Bus) IsProcessed(ctx context.Context, env *Integration) (bool, error) {
	return b.store.Seen(ctx, env.Key())
}

// ClearProcessed forgets every delivered key at once.
func (b *Bus) ClearProcessed(ctx context.Context) error {
	b.logger.Debug("Clearing processed keys")
	return b.store.Clear(ctx)
}

// SweepProcessed removes expired keys now instead of waiting for the ticker.
func (b *Bus) SweepProcessed(ctx context.Context) (int64, error) {
	return b.store.Sweep(ctx)
}

// Close stops the cleanup goroutine and closes the transport.
// It is safe to call Close() multiple times.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.stopCleanup)
		err = b.transport.Close()
		if c, ok := b.store.(io.Closer); ok && b.ownsStore {
			_ = c.Close()
		}
	})
	return err
}

// IsClosed returns true if the bus has been closed.
func (b *Bus) IsClosed() bool {
	return b.closed.Load()
}
