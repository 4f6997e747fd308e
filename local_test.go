package relay

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalTransport_Subscribe(t *testing.T) {
	t.Run("subscriber receives delivered envelopes", func(t *testing.T) {
		m := NewMediator()
		bus := NewLocalBus(m, WithCleanupInterval(0))
		defer bus.Close()

		var got *Integration
		require.NoError(t, bus.Subscribe(context.Background(), "OrderPlaced", IntegrationHandlerFunc(func(ctx context.Context, env *Integration) error {
			got = env
			return nil
		})))

		require.NoError(t, bus.Publish(context.Background(), NewIntegrationWithID("OrderPlaced", "order-abc", orderPlaced{OrderID: "abc"})))
		require.NotNil(t, got)
		assert.Equal(t, "order-abc", got.EventID())
	})

	t.Run("duplicate subscription warns and keeps the first", func(t *testing.T) {
		logger := newTestLogger()
		m := NewMediator()
		transport := NewLocalTransport(m.Integrations(), WithLocalLogger(logger))

		var first, second atomic.Int32
		require.NoError(t, transport.Subscribe(context.Background(), "OrderPlaced", IntegrationHandlerFunc(func(ctx context.Context, env *Integration) error {
			first.Add(1)
			return nil
		})))
		require.NoError(t, transport.Subscribe(context.Background(), "OrderPlaced", IntegrationHandlerFunc(func(ctx context.Context, env *Integration) error {
			second.Add(1)
			return nil
		})))
		assert.True(t, logger.has("warn", "Already subscribed"))

		require.NoError(t, transport.HandleEvent(context.Background(), NewIntegration("OrderPlaced", nil), "OrderPlaced"))
		assert.Equal(t, int32(1), first.Load())
		assert.Equal(t, int32(0), second.Load())
	})

	t.Run("subscriber errors are logged", func(t *testing.T) {
		logger := newTestLogger()
		m := NewMediator()
		transport := NewLocalTransport(m.Integrations(), WithLocalLogger(logger))

		require.NoError(t, transport.Subscribe(context.Background(), "OrderPlaced", IntegrationHandlerFunc(func(ctx context.Context, env *Integration) error {
			return errBoom
		})))
		require.NoError(t, transport.HandleEvent(context.Background(), NewIntegration("OrderPlaced", nil), "OrderPlaced"))
		assert.True(t, logger.has("error", "Subscriber failed"))
	})

	t.Run("unsubscribe removes only its own listener", func(t *testing.T) {
		m := NewMediator()
		transport := NewLocalTransport(m.Integrations())

		var other atomic.Int32
		m.Emitter().On("OrderPlaced", func(args ...interface{}) { other.Add(1) })

		var mine atomic.Int32
		require.NoError(t, transport.Subscribe(context.Background(), "OrderPlaced", IntegrationHandlerFunc(func(ctx context.Context, env *Integration) error {
			mine.Add(1)
			return nil
		})))
		require.NoError(t, transport.Unsubscribe(context.Background(), "OrderPlaced"))
		require.NoError(t, transport.Unsubscribe(context.Background(), "OrderPlaced"))

		require.NoError(t, transport.HandleEvent(context.Background(), NewIntegration("OrderPlaced", nil), "OrderPlaced"))
		assert.Equal(t, int32(0), mine.Load())
		assert.Equal(t, int32(1), other.Load())
	})

	t.Run("close detaches every listener", func(t *testing.T) {
		m := NewMediator()
		emitter := m.Emitter().(*LocalEmitter)
		transport := NewLocalTransport(m.Integrations())
		noop := IntegrationHandlerFunc(func(ctx context.Context, env *Integration) error { return nil })

		require.NoError(t, transport.Subscribe(context.Background(), "A", noop))
		require.NoError(t, transport.Subscribe(context.Background(), "B", noop))
		require.NoError(t, transport.Close())

		assert.Equal(t, 0, emitter.ListenerCount("A"))
		assert.Equal(t, 0, emitter.ListenerCount("B"))
	})
}

func TestLocalTransport_Name(t *testing.T) {
	assert.Equal(t, "local", NewLocalTransport(NewMediator().Integrations()).Name())
}
