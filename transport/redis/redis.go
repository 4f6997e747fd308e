// Package redis provides a Redis pub/sub transport for the relay event bus.
// Pub/sub has no acknowledgement: a message whose handlers fail is logged
// and lost, so pair this transport with idempotent handlers or a broker
// transport when redelivery matters.
package redis

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/AshkanYarmoradi/go-relay"
	"github.com/AshkanYarmoradi/go-relay/transport"
	"github.com/redis/go-redis/v9"
)

// Transport publishes envelopes on Redis channels and subscribes to them.
type Transport struct {
	transport.Config

	client redis.UniversalClient
	prefix string

	mu        sync.Mutex
	pubsubs   map[string]*redis.PubSub
	consumers *transport.Consumers
	connected atomic.Bool
}

var _ relay.Transport = (*Transport)(nil)

// Option configures a Redis Transport.
type Option func(*Transport)

// WithChannelPrefix sets a prefix prepended to every channel name.
func WithChannelPrefix(prefix string) Option {
	return func(t *Transport) {
		t.prefix = prefix
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

// New creates a Redis Transport on top of client.
func New(client redis.UniversalClient, opts ...Option) *Transport {
	t := &Transport{
		Config:    transport.NewConfig(),
		client:    client,
		pubsubs:   make(map[string]*redis.PubSub),
		consumers: transport.NewConsumers(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns "redis".
func (t *Transport) Name() string {
	return "redis"
}

func (t *Transport) channel(topic string) string {
	return t.prefix + topic
}

// Connect pings the server and subscribes every registered integration name
// when auto-subscribe is on.
func (t *Transport) Connect(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return relay.NewTransportError(t.Name(), "connect", err)
	}
	t.connected.Store(true)
	t.Logger.Info("Redis transport connected")
	return t.AutoSubscribeAll(ctx, t.Subscribe)
}

// HandleEvent publishes env on the channel of topic.
func (t *Transport) HandleEvent(ctx context.Context, env *relay.Integration, topic string) error {
	if !t.connected.Load() {
		return relay.NewTransportError(t.Name(), "publish", transport.ErrNotConnected)
	}

	body, err := t.Codec.Encode(env)
	if err != nil {
		return relay.NewTransportError(t.Name(), "encode", err)
	}

	receivers, err := t.client.Publish(ctx, t.channel(topic), body).Result()
	if err != nil {
		return relay.NewTransportError(t.Name(), "publish to "+topic, err)
	}

	t.Logger.Debug("Published event", "topic", topic, "key", env.Key(), "receivers", receivers)
	t.Published(env)
	return nil
}

// Subscribe subscribes to the channel of topic and dispatches every message
// received on it. handler is optional and runs after the registered
// integration handlers.
func (t *Transport) Subscribe(ctx context.Context, topic string, handler relay.IntegrationHandler) error {
	if !t.connected.Load() {
		return relay.NewTransportError(t.Name(), "subscribe", transport.ErrNotConnected)
	}
	if t.consumers.Has(topic) {
		t.Logger.Warn("Already subscribed", "topic", topic)
		return nil
	}

	ps := t.client.Subscribe(ctx, t.channel(topic))
	// Wait for the subscription confirmation so messages published right
	// after Subscribe returns are not missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return relay.NewTransportError(t.Name(), "subscribe "+topic, err)
	}

	t.mu.Lock()
	if _, exists := t.pubsubs[topic]; exists {
		t.mu.Unlock()
		_ = ps.Close()
		t.Logger.Warn("Already subscribed", "topic", topic)
		return nil
	}
	t.pubsubs[topic] = ps
	t.mu.Unlock()

	messages := ps.Channel()
	t.consumers.Start(topic, func(ctx context.Context) {
		t.consume(ctx, topic, messages, handler)
	})
	t.Logger.Info("Subscribed", "topic", topic, "channel", t.channel(topic))
	return nil
}

func (t *Transport) consume(ctx context.Context, topic string, messages <-chan *redis.Message, handler relay.IntegrationHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			env, err := t.Deliver(ctx, []byte(msg.Payload), handler)
			switch {
			case err == nil:
			case transport.IsPoison(err):
				t.Logger.Error("Dropping malformed message", "topic", topic, "error", err)
			default:
				t.Logger.Error("Failed to process message", "topic", topic, "key", transport.KeyOf(env), "error", err)
			}
		}
	}
}

// Unsubscribe closes the subscription of topic.
func (t *Transport) Unsubscribe(ctx context.Context, topic string) error {
	t.mu.Lock()
	ps, ok := t.pubsubs[topic]
	delete(t.pubsubs, topic)
	t.mu.Unlock()

	if !ok {
		t.Logger.Warn("No active subscription found", "topic", topic)
		return nil
	}

	t.consumers.Stop(topic)
	if err := ps.Close(); err != nil {
		return relay.NewTransportError(t.Name(), "unsubscribe "+topic, err)
	}
	t.Logger.Info("Unsubscribed", "topic", topic)
	return nil
}

// Topics returns the subscribed topics.
func (t *Transport) Topics() []string {
	return t.consumers.Topics()
}

// Close closes every subscription. The client stays open; its owner closes it.
func (t *Transport) Close() error {
	for _, topic := range t.consumers.Topics() {
		_ = t.Unsubscribe(context.Background(), topic)
	}
	t.connected.Store(false)
	return nil
}
