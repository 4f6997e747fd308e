// Package transport holds what the broker-backed relay transports share:
// their configuration, the decode-and-dispatch step of a consumer loop, and
// the bookkeeping of running consumers per topic.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/AshkanYarmoradi/go-relay"
)

// DefaultEnv is the environment name used in consumer tags and group ids.
const DefaultEnv = "development"

// ErrNotConnected is returned when a transport is used before Connect.
var ErrNotConnected = errors.New("relay/transport: not connected")

// Config is the configuration every broker transport embeds.
type Config struct {
	// Dispatcher runs registered integration handlers for received envelopes.
	Dispatcher *relay.IntegrationDispatcher

	// Codec encodes outgoing and decodes incoming envelopes.
	Codec relay.Codec

	// Logger receives transport logs.
	Logger relay.Logger

	// AutoSubscribe subscribes every registered integration name on Connect.
	AutoSubscribe bool

	// Env is appended to consumer tags and group ids.
	Env string

	// EmitOnPublish emits published envelopes on the local sink.
	EmitOnPublish bool
}

// Option configures a Config.
type Option func(*Config)

// WithDispatcher sets the dispatcher used by consumer loops.
func WithDispatcher(d *relay.IntegrationDispatcher) Option {
	return func(c *Config) {
		c.Dispatcher = d
	}
}

// WithMediator is shorthand for WithDispatcher(m.Integrations()).
func WithMediator(m *relay.Mediator) Option {
	return func(c *Config) {
		c.Dispatcher = m.Integrations()
	}
}

// WithCodec sets the wire codec.
func WithCodec(codec relay.Codec) Option {
	return func(c *Config) {
		if codec != nil {
			c.Codec = codec
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l relay.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithAutoSubscribe enables subscribing every registered integration name on Connect.
func WithAutoSubscribe(enabled bool) Option {
	return func(c *Config) {
		c.AutoSubscribe = enabled
	}
}

// WithEnv sets the environment name used in consumer tags.
func WithEnv(env string) Option {
	return func(c *Config) {
		if env != "" {
			c.Env = env
		}
	}
}

// WithEmitOnPublish controls whether published envelopes are also emitted
// on the local sink of the publishing process.
func WithEmitOnPublish(enabled bool) Option {
	return func(c *Config) {
		c.EmitOnPublish = enabled
	}
}

// NewConfig applies opts over the defaults: JSON codec, no-op logger,
// auto-subscribe on, emit-on-publish on, env "development".
func NewConfig(opts ...Option) Config {
	c := Config{
		Codec:         relay.JSONCodec{},
		Logger:        relay.NopLogger(),
		AutoSubscribe: true,
		EmitOnPublish: true,
		Env:           DefaultEnv,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// ConsumerTag returns the consumer identity for topic, "<topic>-consumer-<env>".
func (c Config) ConsumerTag(topic string) string {
	return fmt.Sprintf("%s-consumer-%s", topic, c.Env)
}

// Deliver decodes body and runs it through the dispatcher, then extra.
// Decode failures wrap relay.ErrInvalidEnvelope; callers should drop such
// messages instead of redelivering them.
func (c Config) Deliver(ctx context.Context, body []byte, extra relay.IntegrationHandler) (*relay.Integration, error) {
	env, err := c.Codec.Decode(body)
	if err != nil {
		return nil, err
	}
	if c.Dispatcher == nil {
		return env, fmt.Errorf("relay/transport: no dispatcher configured")
	}
	return env, c.Dispatcher.Dispatch(ctx, env, extra)
}

// Published emits (name, data, env) on the local sink after a successful
// publish when EmitOnPublish is on.
func (c Config) Published(env *relay.Integration) {
	if !c.EmitOnPublish || c.Dispatcher == nil {
		return
	}
	c.Dispatcher.Emitter().Emit(env.Name(), env.Data(), env)
}

// IsPoison reports whether err means the message can never be delivered.
func IsPoison(err error) bool {
	return errors.Is(err, relay.ErrInvalidEnvelope)
}

// SubscribeFunc is a transport's Subscribe method.
type SubscribeFunc func(ctx context.Context, topic string, handler relay.IntegrationHandler) error

// AutoSubscribeAll subscribes every registered integration name when
// AutoSubscribe is on. It returns the first failure.
func (c Config) AutoSubscribeAll(ctx context.Context, subscribe SubscribeFunc) error {
	if !c.AutoSubscribe || c.Dispatcher == nil {
		return nil
	}
	for _, name := range c.Dispatcher.Registry().IntegrationHandlerNames() {
		if err := subscribe(ctx, name, nil); err != nil {
			return err
		}
	}
	return nil
}

type consumer struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Consumers tracks one running consumer loop per topic.
type Consumers struct {
	mu        sync.Mutex
	consumers map[string]*consumer
}

// NewConsumers creates an empty Consumers.
func NewConsumers() *Consumers {
	return &Consumers{consumers: make(map[string]*consumer)}
}

// Start runs loop for topic in a new goroutine. It returns false and starts
// nothing when topic already has a consumer.
func (s *Consumers) Start(topic string, loop func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.consumers[topic]; exists {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &consumer{cancel: cancel, done: make(chan struct{})}
	s.consumers[topic] = c

	go func() {
		defer close(c.done)
		loop(ctx)
	}()
	return true
}

// Has reports whether topic has a consumer.
func (s *Consumers) Has(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.consumers[topic]
	return ok
}

// Stop cancels the consumer of topic and waits for its loop to return.
func (s *Consumers) Stop(topic string) bool {
	s.mu.Lock()
	c, ok := s.consumers[topic]
	delete(s.consumers, topic)
	s.mu.Unlock()

	if !ok {
		return false
	}
	c.cancel()
	<-c.done
	return true
}

// StopAll stops every consumer.
func (s *Consumers) StopAll() {
	for _, topic := range s.Topics() {
		s.Stop(topic)
	}
}

// Topics returns the topics with a consumer, sorted.
func (s *Consumers) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	topics := make([]string, 0, len(s.consumers))
	for topic := range s.consumers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// KeyOf returns env.Key(), or "" for a nil envelope.
func KeyOf(env *relay.Integration) string {
	if env == nil {
		return ""
	}
	return env.Key()
}
