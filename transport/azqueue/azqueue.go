// Package azqueue provides an Azure Storage Queue transport for the relay
// event bus. Every topic maps to one queue; consumers poll it, delete a
// message after its handlers succeed and make it visible again otherwise.
package azqueue

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AshkanYarmoradi/go-relay"
	"github.com/AshkanYarmoradi/go-relay/transport"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue/queueerror"
)

// Message is a dequeued queue message.
type Message struct {
	ID           string
	PopReceipt   string
	Text         string
	DequeueCount int64
}

// Queue is the subset of queue operations used by the transport.
type Queue interface {
	Create(ctx context.Context) error
	Enqueue(ctx context.Context, text string) error
	Dequeue(ctx context.Context, max int32, visibility time.Duration) ([]Message, error)
	Delete(ctx context.Context, id, popReceipt string) error
	Release(ctx context.Context, m Message) error
}

// QueueFactory opens the queue with the given name.
type QueueFactory func(name string) (Queue, error)

// Transport publishes envelopes to Azure Storage Queues and polls them.
type Transport struct {
	transport.Config

	connStr      string
	prefix       string
	pollInterval time.Duration
	visibility   time.Duration
	batchSize    int32
	maxDequeue   int64
	newQueue     QueueFactory

	mu        sync.RWMutex
	queues    map[string]Queue
	consumers *transport.Consumers
	connected atomic.Bool
}

var _ relay.Transport = (*Transport)(nil)

// Option configures an Azure Queue Transport.
type Option func(*Transport)

// WithConnectionString sets the storage account connection string.
func WithConnectionString(connStr string) Option {
	return func(t *Transport) {
		t.connStr = connStr
	}
}

// WithQueuePrefix sets a prefix prepended to every queue name.
func WithQueuePrefix(prefix string) Option {
	return func(t *Transport) {
		t.prefix = prefix
	}
}

// WithPollInterval sets the pause after an empty or failed dequeue.
func WithPollInterval(d time.Duration) Option {
	return func(t *Transport) {
		t.pollInterval = d
	}
}

// WithVisibilityTimeout sets how long a dequeued message stays hidden.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.visibility = d
	}
}

// WithBatchSize sets how many messages one dequeue fetches (1 to 32).
func WithBatchSize(n int32) Option {
	return func(t *Transport) {
		if n >= 1 && n <= 32 {
			t.batchSize = n
		}
	}
}

// WithMaxDequeueCount sets after how many failed deliveries a message is
// dropped. Zero keeps retrying forever.
func WithMaxDequeueCount(n int64) Option {
	return func(t *Transport) {
		t.maxDequeue = n
	}
}

// WithQueueFactory replaces how queues are opened.
func WithQueueFactory(fn QueueFactory) Option {
	return func(t *Transport) {
		t.newQueue = fn
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

// New creates a new Azure Queue Transport. Call Connect before use.
func New(opts ...Option) *Transport {
	t := &Transport{
		Config:       transport.NewConfig(),
		pollInterval: time.Second,
		visibility:   30 * time.Second,
		batchSize:    16,
		maxDequeue:   5,
		queues:       make(map[string]Queue),
		consumers:    transport.NewConsumers(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Name returns "azqueue".
func (t *Transport) Name() string {
	return "azqueue"
}

// QueueName returns the queue name of topic: prefix plus topic, lowercased,
// with every character outside [a-z0-9-] replaced by '-'.
func (t *Transport) QueueName(topic string) string {
	name := strings.ToLower(t.prefix + topic)
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// Connect opens the storage account and subscribes every registered
// integration name when auto-subscribe is on.
func (t *Transport) Connect(ctx context.Context) error {
	if t.newQueue == nil {
		if t.connStr == "" {
			return relay.NewTransportError(t.Name(), "connect", fmt.Errorf("connection string not configured"))
		}
		svc, err := azqueue.NewServiceClientFromConnectionString(t.connStr, nil)
		if err != nil {
			return relay.NewTransportError(t.Name(), "connect", err)
		}
		t.newQueue = func(name string) (Queue, error) {
			return &azureQueue{client: svc.NewQueueClient(name)}, nil
		}
	}

	t.connected.Store(true)
	t.Logger.Info("Azure Queue transport connected")
	return t.AutoSubscribeAll(ctx, t.Subscribe)
}

// getQueue returns the queue of topic, creating it on first use.
func (t *Transport) getQueue(ctx context.Context, topic string) (Queue, error) {
	if !t.connected.Load() {
		return nil, transport.ErrNotConnected
	}

	name := t.QueueName(topic)
	t.mu.RLock()
	q, ok := t.queues[name]
	t.mu.RUnlock()
	if ok {
		return q, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if q, ok := t.queues[name]; ok {
		return q, nil
	}

	q, err := t.newQueue(name)
	if err != nil {
		return nil, err
	}
	if err := q.Create(ctx); err != nil {
		return nil, err
	}
	t.queues[name] = q
	return q, nil
}

func (t *Transport) encode(env *relay.Integration) (string, error) {
	body, err := t.Codec.Encode(env)
	if err != nil {
		return "", err
	}
	if t.Codec.Name() == "json" {
		return string(body), nil
	}
	return base64.StdEncoding.EncodeToString(body), nil
}

func (t *Transport) decode(text string) ([]byte, error) {
	if t.Codec.Name() == "json" {
		return []byte(text), nil
	}
	b, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", relay.ErrInvalidEnvelope, err)
	}
	return b, nil
}

// HandleEvent enqueues env on the queue of topic.
func (t *Transport) HandleEvent(ctx context.Context, env *relay.Integration, topic string) error {
	q, err := t.getQueue(ctx, topic)
	if err != nil {
		return relay.NewTransportError(t.Name(), "publish", err)
	}

	text, err := t.encode(env)
	if err != nil {
		return relay.NewTransportError(t.Name(), "encode", err)
	}

	if err := q.Enqueue(ctx, text); err != nil {
		return relay.NewTransportError(t.Name(), "publish to "+topic, err)
	}

	t.Logger.Debug("Published event", "topic", topic, "queue", t.QueueName(topic), "key", env.Key())
	t.Published(env)
	return nil
}

// Subscribe starts polling the queue of topic. handler is optional and runs
// after the registered integration handlers.
func (t *Transport) Subscribe(ctx context.Context, topic string, handler relay.IntegrationHandler) error {
	if t.consumers.Has(topic) {
		t.Logger.Warn("Already subscribed", "topic", topic)
		return nil
	}

	q, err := t.getQueue(ctx, topic)
	if err != nil {
		return relay.NewTransportError(t.Name(), "subscribe", err)
	}

	started := t.consumers.Start(topic, func(ctx context.Context) {
		t.poll(ctx, topic, q, handler)
	})
	if !started {
		t.Logger.Warn("Already subscribed", "topic", topic)
		return nil
	}
	t.Logger.Info("Subscribed", "topic", topic, "queue", t.QueueName(topic), "consumerTag", t.ConsumerTag(topic))
	return nil
}

func (t *Transport) poll(ctx context.Context, topic string, q Queue, handler relay.IntegrationHandler) {
	for {
		msgs, err := q.Dequeue(ctx, t.batchSize, t.visibility)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.Logger.Error("Failed to dequeue messages", "topic", topic, "error", err)
		}

		for _, m := range msgs {
			if ctx.Err() != nil {
				return
			}
			t.handleMessage(ctx, topic, q, m, handler)
		}

		if len(msgs) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.pollInterval):
		}
	}
}

func (t *Transport) handleMessage(ctx context.Context, topic string, q Queue, m Message, handler relay.IntegrationHandler) {
	body, err := t.decode(m.Text)
	var env *relay.Integration
	if err == nil {
		env, err = t.Deliver(ctx, body, handler)
	}

	switch {
	case err == nil:
	case transport.IsPoison(err):
		t.Logger.Error("Dropping malformed message", "topic", topic, "messageId", m.ID, "error", err)
	case t.maxDequeue > 0 && m.DequeueCount >= t.maxDequeue:
		t.Logger.Error("Dropping message after max deliveries", "topic", topic, "key", transport.KeyOf(env), "dequeueCount", m.DequeueCount, "error", err)
	default:
		t.Logger.Error("Failed to process message", "topic", topic, "key", transport.KeyOf(env), "error", err)
		if err := q.Release(ctx, m); err != nil {
			t.Logger.Warn("Failed to release message", "topic", topic, "messageId", m.ID, "error", err)
		}
		return
	}

	if err := q.Delete(ctx, m.ID, m.PopReceipt); err != nil {
		t.Logger.Warn("Failed to delete message", "topic", topic, "messageId", m.ID, "error", err)
	}
}

// Unsubscribe stops polling the queue of topic.
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

// Close stops every consumer.
func (t *Transport) Close() error {
	t.consumers.StopAll()
	t.connected.Store(false)

	t.mu.Lock()
	t.queues = make(map[string]Queue)
	t.mu.Unlock()
	return nil
}

// azureQueue adapts *azqueue.QueueClient to Queue.
type azureQueue struct {
	client *azqueue.QueueClient
}

func (q *azureQueue) Create(ctx context.Context) error {
	if _, err := q.client.Create(ctx, nil); err != nil && !queueerror.HasCode(err, queueerror.QueueAlreadyExists) {
		return err
	}
	return nil
}

func (q *azureQueue) Enqueue(ctx context.Context, text string) error {
	_, err := q.client.EnqueueMessage(ctx, text, nil)
	return err
}

func (q *azureQueue) Dequeue(ctx context.Context, max int32, visibility time.Duration) ([]Message, error) {
	timeout := int32(visibility / time.Second)
	resp, err := q.client.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  &max,
		VisibilityTimeout: &timeout,
	})
	if err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m == nil || m.MessageID == nil || m.PopReceipt == nil {
			continue
		}
		msg := Message{ID: *m.MessageID, PopReceipt: *m.PopReceipt}
		if m.MessageText != nil {
			msg.Text = *m.MessageText
		}
		if m.DequeueCount != nil {
			msg.DequeueCount = *m.DequeueCount
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (q *azureQueue) Delete(ctx context.Context, id, popReceipt string) error {
	_, err := q.client.DeleteMessage(ctx, id, popReceipt, nil)
	return err
}

// Release makes the message visible again right away, keeping its text.
func (q *azureQueue) Release(ctx context.Context, m Message) error {
	var visible int32
	_, err := q.client.UpdateMessage(ctx, m.ID, m.PopReceipt, m.Text, &azqueue.UpdateMessageOptions{VisibilityTimeout: &visible})
	return err
}
