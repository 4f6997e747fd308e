package relay

import (
	"context"
	"sync"
)

// LocalTransport delivers integration events in-process: HandleEvent runs
// the registered handlers directly, and subscriptions are listeners on the
// local emission sink.
type LocalTransport struct {
	dispatcher *IntegrationDispatcher
	logger     Logger

	mu   sync.Mutex
	subs map[string]ListenerID
}

var _ Transport = (*LocalTransport)(nil)

// LocalTransportOption configures a LocalTransport.
type LocalTransportOption func(*LocalTransport)

// WithLocalLogger sets a custom logger.
func WithLocalLogger(l Logger) LocalTransportOption {
	return func(t *LocalTransport) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewLocalTransport creates an in-process transport.
func NewLocalTransport(dispatcher *IntegrationDispatcher, opts ...LocalTransportOption) *LocalTransport {
	t := &LocalTransport{
		dispatcher: dispatcher,
		logger:     &noopLogger{},
		subs:       make(map[string]ListenerID),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewLocalBus is shorthand for a Bus over a LocalTransport that shares the
// mediator's registry and sink.
func NewLocalBus(m *Mediator, opts ...BusOption) *Bus {
	return NewBus(NewLocalTransport(m.Integrations(), WithLocalLogger(m.logger)), append([]BusOption{WithBusLogger(m.logger)}, opts...)...)
}

// Name returns "local".
func (t *LocalTransport) Name() string {
	return "local"
}

// HandleEvent runs the integration handlers for env. The topic is not used
// in-process.
func (t *LocalTransport) HandleEvent(ctx context.Context, env *Integration, topic string) error {
	return t.dispatcher.Dispatch(ctx, env, nil)
}

// Subscribe attaches handler to emissions of topic. Handler errors are
// logged; emission has no caller to return them to.
func (t *LocalTransport) Subscribe(ctx context.Context, topic string, handler IntegrationHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.subs[topic]; exists {
		t.logger.Warn("Already subscribed", "topic", topic)
		return nil
	}
	if handler == nil {
		return nil
	}

	t.subs[topic] = t.dispatcher.Emitter().On(topic, func(args ...interface{}) {
		env, ok := EnvelopeFromArgs(args...)
		if !ok {
			return
		}
		if err := handler.Handle(context.Background(), env); err != nil {
			t.logger.Error("Subscriber failed", "topic", topic, "key", env.Key(), "error", err)
		}
	})
	return nil
}

// Unsubscribe detaches the listener added by Subscribe.
func (t *LocalTransport) Unsubscribe(ctx context.Context, topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.subs[topic]
	if !ok {
		return nil
	}
	t.dispatcher.Emitter().Off(topic, id)
	delete(t.subs, topic)
	return nil
}

// Close detaches every listener.
func (t *LocalTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for topic, id := range t.subs {
		t.dispatcher.Emitter().Off(topic, id)
	}
	t.subs = make(map[string]ListenerID)
	return nil
}
