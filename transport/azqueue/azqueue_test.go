package azqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AshkanYarmoradi/go-relay"
	"github.com/AshkanYarmoradi/go-relay/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue is an in-memory Queue. Dequeued messages stay invisible until
// deleted or released.
type fakeQueue struct {
	mu       sync.Mutex
	created  int
	visible  []Message
	inflight map[string]Message
	deleted  []string
	released []string
	nextID   int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{inflight: make(map[string]Message)}
}

func (q *fakeQueue) Create(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.created++
	return nil
}

func (q *fakeQueue) Enqueue(ctx context.Context, text string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	q.visible = append(q.visible, Message{ID: fmt.Sprintf("m%d", q.nextID), Text: text})
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context, max int32, visibility time.Duration) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := int(max)
	if n > len(q.visible) {
		n = len(q.visible)
	}
	out := make([]Message, 0, n)
	for _, m := range q.visible[:n] {
		m.DequeueCount++
		m.PopReceipt = fmt.Sprintf("%s-r%d", m.ID, m.DequeueCount)
		q.inflight[m.ID] = m
		out = append(out, m)
	}
	q.visible = q.visible[n:]
	return out, nil
}

func (q *fakeQueue) Delete(ctx context.Context, id, popReceipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, id)
	q.deleted = append(q.deleted, id)
	return nil
}

func (q *fakeQueue) Release(ctx context.Context, m Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	held := q.inflight[m.ID]
	delete(q.inflight, m.ID)
	q.visible = append(q.visible, held)
	q.released = append(q.released, m.ID)
	return nil
}

func (q *fakeQueue) counts() (deleted, released int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.deleted), len(q.released)
}

type testSetup struct {
	mediator  *relay.Mediator
	transport *Transport
	mu        sync.Mutex
	queues    map[string]*fakeQueue
}

func newTestSetup(t *testing.T, opts ...Option) *testSetup {
	t.Helper()
	s := &testSetup{mediator: relay.NewMediator(), queues: make(map[string]*fakeQueue)}
	opts = append([]Option{
		WithConfig(transport.WithMediator(s.mediator), transport.WithAutoSubscribe(false)),
		WithPollInterval(5 * time.Millisecond),
		WithQueueFactory(func(name string) (Queue, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			q := newFakeQueue()
			s.queues[name] = q
			return q, nil
		}),
	}, opts...)
	s.transport = New(opts...)
	t.Cleanup(func() { _ = s.transport.Close() })
	return s
}

func (s *testSetup) queue(name string) *fakeQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queues[name]
}

func TestNew_Defaults(t *testing.T) {
	tr := New(WithBatchSize(0), WithBatchSize(64))
	assert.Equal(t, "azqueue", tr.Name())
	assert.Equal(t, int32(16), tr.batchSize)
	assert.Equal(t, 30*time.Second, tr.visibility)
	assert.Equal(t, int64(5), tr.maxDequeue)
}

func TestTransport_QueueName(t *testing.T) {
	tr := New(WithQueuePrefix("prod-"))
	assert.Equal(t, "prod-orderplaced", tr.QueueName("OrderPlaced"))
	assert.Equal(t, "prod-user-deleted", tr.QueueName("user.deleted"))
	assert.Equal(t, "orders", New().QueueName("_orders_"))
}

func TestTransport_Connect(t *testing.T) {
	err := New().Connect(context.Background())
	assert.ErrorIs(t, err, relay.ErrTransport)
}

func TestTransport_HandleEvent(t *testing.T) {
	t.Run("requires connect", func(t *testing.T) {
		s := newTestSetup(t)
		err := s.transport.HandleEvent(context.Background(), relay.NewIntegration("OrderPlaced", nil), "OrderPlaced")
		assert.ErrorIs(t, err, transport.ErrNotConnected)
	})

	t.Run("enqueues json text and creates queue once", func(t *testing.T) {
		s := newTestSetup(t)
		require.NoError(t, s.transport.Connect(context.Background()))

		env := relay.NewIntegrationWithID("OrderPlaced", "order-abc", map[string]interface{}{"orderId": "abc"})
		require.NoError(t, s.transport.HandleEvent(context.Background(), env, "OrderPlaced"))
		require.NoError(t, s.transport.HandleEvent(context.Background(), env, "OrderPlaced"))

		q := s.queue("orderplaced")
		require.NotNil(t, q)
		assert.Equal(t, 1, q.created)
		require.Len(t, q.visible, 2)
		assert.JSONEq(t, `{"name":"OrderPlaced","eventId":"order-abc","data":{"orderId":"abc"}}`, q.visible[0].Text)
	})
}

func TestTransport_Subscribe(t *testing.T) {
	t.Run("dispatches and deletes", func(t *testing.T) {
		s := newTestSetup(t)
		require.NoError(t, s.transport.Connect(context.Background()))

		received := make(chan string, 1)
		s.mediator.Registry().RegisterIntegration("OrderPlaced", relay.IntegrationHandlerFunc(func(ctx context.Context, env *relay.Integration) error {
			received <- env.Key()
			return nil
		}))
		require.NoError(t, s.transport.Subscribe(context.Background(), "OrderPlaced", nil))
		require.NoError(t, s.transport.HandleEvent(context.Background(), relay.NewIntegrationWithID("OrderPlaced", "order-abc", nil), "OrderPlaced"))

		select {
		case key := <-received:
			assert.Equal(t, "OrderPlaced:order-abc", key)
		case <-time.After(time.Second):
			t.Fatal("message was not dispatched")
		}
		assert.Eventually(t, func() bool {
			deleted, _ := s.queue("orderplaced").counts()
			return deleted == 1
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("failed message is released until max deliveries", func(t *testing.T) {
		s := newTestSetup(t, WithMaxDequeueCount(3))
		require.NoError(t, s.transport.Connect(context.Background()))

		var mu sync.Mutex
		var attempts int
		s.mediator.Registry().RegisterIntegration("OrderPlaced", relay.IntegrationHandlerFunc(func(ctx context.Context, env *relay.Integration) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			return assert.AnError
		}))
		require.NoError(t, s.transport.Subscribe(context.Background(), "OrderPlaced", nil))
		require.NoError(t, s.transport.HandleEvent(context.Background(), relay.NewIntegrationWithID("OrderPlaced", "1", nil), "OrderPlaced"))

		assert.Eventually(t, func() bool {
			deleted, _ := s.queue("orderplaced").counts()
			return deleted == 1
		}, time.Second, 5*time.Millisecond)

		_, released := s.queue("orderplaced").counts()
		assert.Equal(t, 2, released)
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 3, attempts)
	})

	t.Run("malformed message is deleted", func(t *testing.T) {
		s := newTestSetup(t)
		require.NoError(t, s.transport.Connect(context.Background()))
		require.NoError(t, s.transport.Subscribe(context.Background(), "OrderPlaced", nil))

		require.NoError(t, s.queue("orderplaced").Enqueue(context.Background(), "garbage"))
		assert.Eventually(t, func() bool {
			deleted, released := s.queue("orderplaced").counts()
			return deleted == 1 && released == 0
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("duplicate subscribe and unsubscribe", func(t *testing.T) {
		s := newTestSetup(t)
		require.NoError(t, s.transport.Connect(context.Background()))
		require.NoError(t, s.transport.Subscribe(context.Background(), "OrderPlaced", nil))
		require.NoError(t, s.transport.Subscribe(context.Background(), "OrderPlaced", nil))
		assert.Equal(t, []string{"OrderPlaced"}, s.transport.Topics())

		require.NoError(t, s.transport.Unsubscribe(context.Background(), "OrderPlaced"))
		require.NoError(t, s.transport.Unsubscribe(context.Background(), "OrderPlaced"))
		assert.Empty(t, s.transport.Topics())
	})

	t.Run("concurrent subscribes start one poller", func(t *testing.T) {
		s := newTestSetup(t)
		require.NoError(t, s.transport.Connect(context.Background()))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.transport.Subscribe(context.Background(), "OrderPlaced", nil))
			}()
		}
		wg.Wait()
		assert.Equal(t, []string{"OrderPlaced"}, s.transport.Topics())

		require.NoError(t, s.transport.Unsubscribe(context.Background(), "OrderPlaced"))
		assert.Empty(t, s.transport.Topics())
	})

	t.Run("auto-subscribes on connect", func(t *testing.T) {
		s := newTestSetup(t, WithConfig(transport.WithAutoSubscribe(true)))
		noop := relay.IntegrationHandlerFunc(func(ctx context.Context, env *relay.Integration) error { return nil })
		s.mediator.Registry().RegisterIntegration("OrderPlaced", noop)
		require.NoError(t, s.transport.Connect(context.Background()))
		assert.Equal(t, []string{"OrderPlaced"}, s.transport.Topics())
	})
}

func TestTransport_WithBus(t *testing.T) {
	s := newTestSetup(t)
	require.NoError(t, s.transport.Connect(context.Background()))
	bus := relay.NewBus(s.transport, relay.WithCleanupInterval(0))
	defer bus.Close()

	env := relay.NewIntegrationWithID("OrderPlaced", "order-abc", nil)
	require.NoError(t, bus.Publish(context.Background(), env))
	require.NoError(t, bus.Publish(context.Background(), env))
	assert.Len(t, s.queue("orderplaced").visible, 1)
}
