package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/AshkanYarmoradi/go-relay"
	"github.com/AshkanYarmoradi/go-relay/transport"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWriter records written messages.
type fakeWriter struct {
	mu       sync.Mutex
	messages []kafkago.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// fakeReader serves messages from a channel and records commits.
type fakeReader struct {
	mu        sync.Mutex
	messages  chan kafkago.Message
	committed []kafkago.Message
	closed    bool
}

func newFakeReader() *fakeReader {
	return &fakeReader{messages: make(chan kafkago.Message, 16)}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	select {
	case <-ctx.Done():
		return kafkago.Message{}, ctx.Err()
	case m := <-r.messages:
		return m, nil
	}
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafkago.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commitOffsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	offsets := make([]int64, 0, len(r.committed))
	for _, m := range r.committed {
		offsets = append(offsets, m.Offset)
	}
	return offsets
}

func (r *fakeReader) commitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type testSetup struct {
	mediator  *relay.Mediator
	transport *Transport
	writers   map[string]*fakeWriter
	readers   map[string]*fakeReader
	groups    map[string]string
	mu        sync.Mutex
}

func newTestSetup(t *testing.T, autoSubscribe bool, opts ...Option) *testSetup {
	t.Helper()
	s := &testSetup{
		mediator: relay.NewMediator(),
		writers:  make(map[string]*fakeWriter),
		readers:  make(map[string]*fakeReader),
		groups:   make(map[string]string),
	}
	s.transport = New(append([]Option{
		WithConfig(transport.WithMediator(s.mediator), transport.WithAutoSubscribe(autoSubscribe), transport.WithEnv("test")),
		WithWriterFactory(func(topic string) Writer {
			s.mu.Lock()
			defer s.mu.Unlock()
			w := &fakeWriter{}
			s.writers[topic] = w
			return w
		}),
		WithReaderFactory(func(topic, groupID string) Reader {
			s.mu.Lock()
			defer s.mu.Unlock()
			r := newFakeReader()
			s.readers[topic] = r
			s.groups[topic] = groupID
			return r
		}),
	}, opts...)...)
	t.Cleanup(func() { _ = s.transport.Close() })
	return s
}

func (s *testSetup) reader(topic string) *fakeReader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readers[topic]
}

func TestNew_Defaults(t *testing.T) {
	tr := New()
	assert.Equal(t, "kafka", tr.Name())
	assert.Equal(t, []string{"localhost:9092"}, tr.brokers)
	assert.NotNil(t, tr.balancer)
	assert.Equal(t, 10*time.Millisecond, tr.batchTimeout)
}

func TestNew_Options(t *testing.T) {
	balancer := &kafkago.RoundRobin{}
	tr := New(WithBrokers("b1:9092", "b2:9092"), WithBalancer(balancer), WithBatchTimeout(time.Second), WithRetryBackoff(time.Minute))
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, tr.brokers)
	assert.Equal(t, balancer, tr.balancer)
	assert.Equal(t, time.Second, tr.batchTimeout)
	assert.Equal(t, time.Minute, tr.retryBackoff)
}

func TestTransport_HandleEvent(t *testing.T) {
	t.Run("requires connect", func(t *testing.T) {
		tr := New()
		err := tr.HandleEvent(context.Background(), relay.NewIntegration("OrderPlaced", nil), "orders")
		assert.ErrorIs(t, err, relay.ErrTransport)
		assert.ErrorIs(t, err, transport.ErrNotConnected)
	})

	t.Run("writes encoded envelope with headers", func(t *testing.T) {
		s := newTestSetup(t, false)
		require.NoError(t, s.transport.Connect(context.Background()))

		env := relay.NewIntegrationWithID("OrderPlaced", "order-abc", map[string]interface{}{"orderId": "abc"})
		require.NoError(t, s.transport.HandleEvent(context.Background(), env, "orders"))

		w := s.writers["orders"]
		require.NotNil(t, w)
		require.Len(t, w.messages, 1)
		msg := w.messages[0]
		assert.Equal(t, []byte("order-abc"), msg.Key)
		assert.JSONEq(t, `{"name":"OrderPlaced","eventId":"order-abc","data":{"orderId":"abc"}}`, string(msg.Value))

		headers := map[string]string{}
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		assert.Equal(t, "OrderPlaced", headers[HeaderName])
		assert.Equal(t, "order-abc", headers[HeaderEventID])
		assert.Equal(t, "json", headers[HeaderContentType])
	})

	t.Run("reuses writer per topic", func(t *testing.T) {
		s := newTestSetup(t, false)
		require.NoError(t, s.transport.Connect(context.Background()))
		require.NoError(t, s.transport.HandleEvent(context.Background(), relay.NewIntegration("A", nil), "orders"))
		require.NoError(t, s.transport.HandleEvent(context.Background(), relay.NewIntegration("B", nil), "orders"))
		assert.Len(t, s.writers["orders"].messages, 2)
		assert.Len(t, s.writers, 1)
	})

	t.Run("write failure is a transport error", func(t *testing.T) {
		tr := New(WithWriterFactory(func(topic string) Writer { return &fakeWriter{err: assert.AnError} }))
		require.NoError(t, tr.Connect(context.Background()))
		defer tr.Close()

		err := tr.HandleEvent(context.Background(), relay.NewIntegration("OrderPlaced", nil), "orders")
		var terr *relay.TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, "kafka", terr.Transport)
		assert.ErrorIs(t, err, assert.AnError)
	})
}

func TestTransport_Subscribe(t *testing.T) {
	t.Run("consumes, dispatches and commits", func(t *testing.T) {
		s := newTestSetup(t, false)
		require.NoError(t, s.transport.Connect(context.Background()))

		received := make(chan *relay.Integration, 1)
		s.mediator.Registry().RegisterIntegration("OrderPlaced", relay.IntegrationHandlerFunc(func(ctx context.Context, env *relay.Integration) error {
			received <- env
			return nil
		}))

		var extra int
		require.NoError(t, s.transport.Subscribe(context.Background(), "orders", relay.IntegrationHandlerFunc(func(ctx context.Context, env *relay.Integration) error {
			extra++
			return nil
		})))
		assert.Equal(t, "orders-consumer-test", s.groups["orders"])

		s.reader("orders").messages <- kafkago.Message{Value: []byte(`{"name":"OrderPlaced","eventId":"1","data":{}}`)}

		select {
		case env := <-received:
			assert.Equal(t, "OrderPlaced:1", env.Key())
		case <-time.After(time.Second):
			t.Fatal("message was not dispatched")
		}
		assert.Eventually(t, func() bool { return s.reader("orders").commitCount() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("failed message is not committed", func(t *testing.T) {
		s := newTestSetup(t, false)
		require.NoError(t, s.transport.Connect(context.Background()))

		attempted := make(chan struct{}, 1)
		s.mediator.Registry().RegisterIntegration("OrderPlaced", relay.IntegrationHandlerFunc(func(ctx context.Context, env *relay.Integration) error {
			select {
			case attempted <- struct{}{}:
			default:
			}
			return assert.AnError
		}))
		require.NoError(t, s.transport.Subscribe(context.Background(), "orders", nil))

		s.reader("orders").messages <- kafkago.Message{Value: []byte(`{"name":"OrderPlaced","eventId":"1","data":{}}`)}
		<-attempted
		require.NoError(t, s.transport.Unsubscribe(context.Background(), "orders"))
		assert.Equal(t, 0, s.reader("orders").commitCount())
	})

	t.Run("failed message is retried before later offsets commit", func(t *testing.T) {
		s := newTestSetup(t, false, WithRetryBackoff(time.Millisecond))
		require.NoError(t, s.transport.Connect(context.Background()))

		var mu sync.Mutex
		var order []string
		failures := 2
		s.mediator.Registry().RegisterIntegration("OrderPlaced", relay.IntegrationHandlerFunc(func(ctx context.Context, env *relay.Integration) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, env.EventID())
			if env.EventID() == "1" && failures > 0 {
				failures--
				return assert.AnError
			}
			return nil
		}))
		require.NoError(t, s.transport.Subscribe(context.Background(), "orders", nil))

		r := s.reader("orders")
		r.messages <- kafkago.Message{Offset: 10, Value: []byte(`{"name":"OrderPlaced","eventId":"1","data":{}}`)}
		r.messages <- kafkago.Message{Offset: 11, Value: []byte(`{"name":"OrderPlaced","eventId":"2","data":{}}`)}

		assert.Eventually(t, func() bool { return r.commitCount() == 2 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, []int64{10, 11}, r.commitOffsets())

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"1", "1", "1", "2"}, order)
	})

	t.Run("malformed message is committed and dropped", func(t *testing.T) {
		s := newTestSetup(t, false)
		require.NoError(t, s.transport.Connect(context.Background()))
		require.NoError(t, s.transport.Subscribe(context.Background(), "orders", nil))

		s.reader("orders").messages <- kafkago.Message{Value: []byte(`garbage`)}
		assert.Eventually(t, func() bool { return s.reader("orders").commitCount() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("duplicate subscribe is a no-op", func(t *testing.T) {
		s := newTestSetup(t, false)
		require.NoError(t, s.transport.Connect(context.Background()))
		require.NoError(t, s.transport.Subscribe(context.Background(), "orders", nil))
		first := s.reader("orders")
		require.NoError(t, s.transport.Subscribe(context.Background(), "orders", nil))
		assert.Same(t, first, s.reader("orders"))
	})

	t.Run("concurrent subscribes start one consumer", func(t *testing.T) {
		var mu sync.Mutex
		var readers []*fakeReader
		s := newTestSetup(t, false, WithReaderFactory(func(topic, groupID string) Reader {
			mu.Lock()
			defer mu.Unlock()
			r := newFakeReader()
			readers = append(readers, r)
			return r
		}))
		require.NoError(t, s.transport.Connect(context.Background()))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.transport.Subscribe(context.Background(), "orders", nil))
			}()
		}
		wg.Wait()
		assert.Equal(t, []string{"orders"}, s.transport.Topics())

		mu.Lock()
		open := 0
		for _, r := range readers {
			r.mu.Lock()
			if !r.closed {
				open++
			}
			r.mu.Unlock()
		}
		mu.Unlock()
		assert.Equal(t, 1, open)
	})

	t.Run("unsubscribe closes the reader", func(t *testing.T) {
		s := newTestSetup(t, false)
		require.NoError(t, s.transport.Connect(context.Background()))
		require.NoError(t, s.transport.Subscribe(context.Background(), "orders", nil))
		require.NoError(t, s.transport.Unsubscribe(context.Background(), "orders"))

		r := s.reader("orders")
		r.mu.Lock()
		defer r.mu.Unlock()
		assert.True(t, r.closed)
		assert.Empty(t, s.transport.Topics())
	})

	t.Run("requires connect", func(t *testing.T) {
		tr := New()
		err := tr.Subscribe(context.Background(), "orders", nil)
		assert.ErrorIs(t, err, transport.ErrNotConnected)
	})
}

func TestTransport_Connect_AutoSubscribe(t *testing.T) {
	s := newTestSetup(t, true)
	noop := relay.IntegrationHandlerFunc(func(ctx context.Context, env *relay.Integration) error { return nil })
	s.mediator.Registry().RegisterIntegration("OrderPlaced", noop)
	s.mediator.Registry().RegisterIntegration("UserDeleted", noop)

	require.NoError(t, s.transport.Connect(context.Background()))
	assert.Equal(t, []string{"OrderPlaced", "UserDeleted"}, s.transport.Topics())
}

func TestTransport_Close(t *testing.T) {
	s := newTestSetup(t, false)
	require.NoError(t, s.transport.Connect(context.Background()))
	require.NoError(t, s.transport.HandleEvent(context.Background(), relay.NewIntegration("A", nil), "orders"))
	require.NoError(t, s.transport.Subscribe(context.Background(), "orders", nil))

	require.NoError(t, s.transport.Close())
	assert.True(t, s.writers["orders"].closed)
	assert.Empty(t, s.transport.Topics())

	err := s.transport.HandleEvent(context.Background(), relay.NewIntegration("A", nil), "orders")
	assert.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestTransport_WithBus(t *testing.T) {
	s := newTestSetup(t, false)
	require.NoError(t, s.transport.Connect(context.Background()))
	bus := relay.NewBus(s.transport, relay.WithCleanupInterval(0))
	defer bus.Close()

	env := relay.NewIntegrationWithID("OrderPlaced", "order-abc", nil)
	require.NoError(t, bus.Publish(context.Background(), env))
	require.NoError(t, bus.Publish(context.Background(), env))
	assert.Len(t, s.writers["OrderPlaced"].messages, 1)
}

func TestTransport_HandleEvent_EmitsLocally(t *testing.T) {
	s := newTestSetup(t, false)
	require.NoError(t, s.transport.Connect(context.Background()))

	var emitted interface{}
	s.mediator.Emitter().On("OrderPlaced", func(args ...interface{}) { emitted = args[0] })

	require.NoError(t, s.transport.HandleEvent(context.Background(), relay.NewIntegration("OrderPlaced", "data"), "orders"))
	assert.Equal(t, "data", emitted)
}
