// Package kafka provides a Kafka transport for the relay event bus.
// It writes envelopes to Kafka topics and consumes them through consumer
// groups using github.com/segmentio/kafka-go.
package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AshkanYarmoradi/go-relay"
	"github.com/AshkanYarmoradi/go-relay/transport"
	kafkago "github.com/segmentio/kafka-go"
)

// Header keys written on every message.
const (
	HeaderName        = "relay-name"
	HeaderEventID     = "relay-event-id"
	HeaderContentType = "content-type"
)

// Writer is the subset of *kafkago.Writer used by the transport.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Reader is the subset of *kafkago.Reader used by the transport.
type Reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Transport publishes envelopes to Kafka and consumes them per topic.
// A failed message is retried in place and stays uncommitted until it
// succeeds, so a restart or rebalance redelivers it; a malformed one is
// committed and dropped.
type Transport struct {
	transport.Config

	brokers      []string
	balancer     kafkago.Balancer
	batchTimeout time.Duration
	retryBackoff time.Duration
	newWriter    func(topic string) Writer
	newReader    func(topic, groupID string) Reader

	mu        sync.RWMutex
	writers   map[string]Writer
	consumers *transport.Consumers
	connected atomic.Bool
}

var _ relay.Transport = (*Transport)(nil)

// Option configures a Kafka Transport.
type Option func(*Transport)

// WithBrokers sets the Kafka broker addresses.
func WithBrokers(brokers ...string) Option {
	return func(t *Transport) {
		t.brokers = brokers
	}
}

// WithBalancer sets the message balancer (partitioner).
func WithBalancer(balancer kafkago.Balancer) Option {
	return func(t *Transport) {
		t.balancer = balancer
	}
}

// WithBatchTimeout sets the batch timeout for writers.
func WithBatchTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.batchTimeout = d
	}
}

// WithRetryBackoff sets the pause after a failed fetch or delivery.
func WithRetryBackoff(d time.Duration) Option {
	return func(t *Transport) {
		t.retryBackoff = d
	}
}

// WithWriterFactory replaces how per-topic writers are created.
func WithWriterFactory(fn func(topic string) Writer) Option {
	return func(t *Transport) {
		t.newWriter = fn
	}
}

// WithReaderFactory replaces how per-topic group readers are created.
func WithReaderFactory(fn func(topic, groupID string) Reader) Option {
	return func(t *Transport) {
		t.newReader = fn
	}
}

// WithConfig applies shared transport options.
func WithConfig(opts ...transport.Option) Option {
	return func(t *Transport) {
		for _, opt := range opts {
			opt(&t.Config)
		}
	}
}

// New creates a new Kafka Transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		Config:       transport.NewConfig(),
		brokers:      []string{"localhost:9092"},
		balancer:     &kafkago.LeastBytes{},
		batchTimeout: 10 * time.Millisecond,
		retryBackoff: time.Second,
		writers:      make(map[string]Writer),
		consumers:    transport.NewConsumers(),
	}
	t.newWriter = t.defaultWriter
	t.newReader = t.defaultReader

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Name returns "kafka".
func (t *Transport) Name() string {
	return "kafka"
}

// Connect marks the transport usable and subscribes every registered
// integration name when auto-subscribe is on.
func (t *Transport) Connect(ctx context.Context) error {
	t.connected.Store(true)
	t.Logger.Info("Kafka transport connected", "brokers", t.brokers)
	return t.AutoSubscribeAll(ctx, t.Subscribe)
}

// HandleEvent writes env to topic keyed by its event id.
func (t *Transport) HandleEvent(ctx context.Context, env *relay.Integration, topic string) error {
	if !t.connected.Load() {
		return relay.NewTransportError(t.Name(), "publish", transport.ErrNotConnected)
	}

	body, err := t.Codec.Encode(env)
	if err != nil {
		return relay.NewTransportError(t.Name(), "encode", err)
	}

	msg := kafkago.Message{
		Key:   []byte(env.EventID()),
		Value: body,
		Headers: []kafkago.Header{
			{Key: HeaderName, Value: []byte(env.Name())},
			{Key: HeaderEventID, Value: []byte(env.EventID())},
			{Key: HeaderContentType, Value: []byte(t.Codec.Name())},
		},
	}

	if err := t.getWriter(topic).WriteMessages(ctx, msg); err != nil {
		return relay.NewTransportError(t.Name(), "publish to "+topic, err)
	}
	t.Logger.Debug("Published event", "topic", topic, "key", env.Key())
	t.Published(env)
	return nil
}

// Subscribe starts a consumer group reader for topic. handler is optional
// and runs after the registered integration handlers.
func (t *Transport) Subscribe(ctx context.Context, topic string, handler relay.IntegrationHandler) error {
	if !t.connected.Load() {
		return relay.NewTransportError(t.Name(), "subscribe", transport.ErrNotConnected)
	}
	if t.consumers.Has(topic) {
		t.Logger.Warn("Already subscribed", "topic", topic)
		return nil
	}

	groupID := t.ConsumerTag(topic)
	reader := t.newReader(topic, groupID)
	started := t.consumers.Start(topic, func(ctx context.Context) {
		t.consume(ctx, topic, reader, handler)
	})
	if !started {
		if err := reader.Close(); err != nil {
			t.Logger.Warn("Failed to close reader", "topic", topic, "error", err)
		}
		t.Logger.Warn("Already subscribed", "topic", topic)
		return nil
	}
	t.Logger.Info("Subscribed", "topic", topic, "group", groupID)
	return nil
}

func (t *Transport) consume(ctx context.Context, topic string, reader Reader, handler relay.IntegrationHandler) {
	defer func() {
		if err := reader.Close(); err != nil {
			t.Logger.Warn("Failed to close reader", "topic", topic, "error", err)
		}
	}()

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			t.Logger.Error("Failed to fetch message", "topic", topic, "error", err)
			if !t.wait(ctx) {
				return
			}
			continue
		}

		if !t.process(ctx, topic, m, handler) {
			return
		}

		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			t.Logger.Warn("Failed to commit message", "topic", topic, "offset", m.Offset, "error", err)
		}
	}
}

// process delivers m until it succeeds or turns out malformed. Commits are
// offset based, so a failed message is retried in place instead of being
// skipped. It returns false when ctx ends first.
func (t *Transport) process(ctx context.Context, topic string, m kafkago.Message, handler relay.IntegrationHandler) bool {
	for attempt := 1; ; attempt++ {
		env, err := t.Deliver(ctx, m.Value, handler)
		switch {
		case err == nil:
			return true
		case transport.IsPoison(err):
			t.Logger.Error("Dropping malformed message", "topic", topic, "offset", m.Offset, "error", err)
			return true
		}

		t.Logger.Error("Failed to process message", "topic", topic, "key", transport.KeyOf(env), "offset", m.Offset, "attempt", attempt, "error", err)
		if !t.wait(ctx) {
			return false
		}
	}
}

// wait pauses for the retry backoff and reports whether ctx is still live.
func (t *Transport) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(t.retryBackoff):
		return ctx.Err() == nil
	}
}

// Unsubscribe stops the consumer of topic.
func (t *Transport) Unsubscribe(ctx context.Context, topic string) error {
	if !t.consumers.Stop(topic) {
		t.Logger.Warn("No active subscription found", "topic", topic)
		return nil
	}
	t.Logger.Info("Unsubscribed", "topic", topic)
	return nil
}

// Topics returns the subscribed topics.
func (t *Transport) Topics() []string {
	return t.consumers.Topics()
}

// Close stops every consumer and closes all writers.
func (t *Transport) Close() error {
	t.consumers.StopAll()
	t.connected.Store(false)

	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for topic, w := range t.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(t.writers, topic)
	}
	return errors.Join(errs...)
}

// getWriter returns or creates a Kafka writer for the given topic.
func (t *Transport) getWriter(topic string) Writer {
	t.mu.RLock()
	if w, ok := t.writers[topic]; ok {
		t.mu.RUnlock()
		return w
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check after acquiring write lock
	if w, ok := t.writers[topic]; ok {
		return w
	}

	w := t.newWriter(topic)
	t.writers[topic] = w
	return w
}

func (t *Transport) defaultWriter(topic string) Writer {
	return &kafkago.Writer{
		Addr:                   kafkago.TCP(t.brokers...),
		Topic:                  topic,
		Balancer:               t.balancer,
		BatchTimeout:           t.batchTimeout,
		AllowAutoTopicCreation: true,
	}
}

func (t *Transport) defaultReader(topic, groupID string) Reader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: t.brokers,
		GroupID: groupID,
		Topic:   topic,
	})
}
