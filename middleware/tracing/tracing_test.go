package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/AshkanYarmoradi/go-relay"
	"github.com/AshkanYarmoradi/go-relay/adapters/memory"
	relaytest "github.com/AshkanYarmoradi/go-relay/testing/testutil"
)

// =============================================================================
// Test Helpers
// =============================================================================

type getOrder struct {
	ID string
}

func (getOrder) QueryType() string { return "GetOrder" }

type orderShipped struct {
	relay.EventBase
}

func (orderShipped) EventType() string { return "OrderShipped" }

func setupTestTracer(t *testing.T) (*Tracer, *tracetest.InMemoryExporter) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})

	tracer := NewTracer(WithTracerProvider(tp), WithServiceName("orders"))
	return tracer, exporter
}

func attr(span tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func spanNamed(t *testing.T, exporter *tracetest.InMemoryExporter, name string) tracetest.SpanStub {
	t.Helper()
	for _, s := range exporter.GetSpans() {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no span named %s", name)
	return tracetest.SpanStub{}
}

// =============================================================================
// Tracer Tests
// =============================================================================

func TestNewTracer(t *testing.T) {
	t.Run("creates tracer with defaults", func(t *testing.T) {
		tracer := NewTracer()

		assert.NotNil(t, tracer)
		assert.Equal(t, DefaultServiceName, tracer.ServiceName())
		assert.NotNil(t, tracer.Tracer())
	})

	t.Run("with custom service name", func(t *testing.T) {
		tracer := NewTracer(WithServiceName("custom-service"))

		assert.Equal(t, "custom-service", tracer.ServiceName())
	})
}

func TestTracer_StartSpan(t *testing.T) {
	tracer, exporter := setupTestTracer(t)

	_, span := tracer.StartSpan(context.Background(), "test-span")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "test-span", spans[0].Name)
}

// =============================================================================
// Dispatch Middleware Tests
// =============================================================================

func TestMiddleware(t *testing.T) {
	t.Run("traces successful query through the mediator", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		m := relay.NewMediator(relay.WithMiddleware(Middleware(tracer)))
		relay.HandleQuery(m.Registry(), func(ctx context.Context, q getOrder) (string, error) {
			return q.ID, nil
		})

		ctx := relay.WithCorrelationID(context.Background(), "corr-1")
		result, err := m.SendQuery(ctx, getOrder{ID: "o-1"})
		require.NoError(t, err)
		assert.Equal(t, "o-1", result)

		span := spanNamed(t, exporter, "query.GetOrder")
		assert.Equal(t, codes.Ok, span.Status.Code)

		v, ok := attr(span, "relay.correlation_id")
		require.True(t, ok)
		assert.Equal(t, "corr-1", v.AsString())

		v, _ = attr(span, "relay.service")
		assert.Equal(t, "orders", v.AsString())
	})

	t.Run("records handler errors", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		handler := Middleware(tracer)(func(ctx context.Context, req relay.Request) (interface{}, error) {
			return nil, errors.New("no stock")
		})

		_, err := handler(context.Background(), relay.Request{Kind: relay.KindCommand, Type: "PlaceOrder"})
		require.Error(t, err)

		span := spanNamed(t, exporter, "command.PlaceOrder")
		assert.Equal(t, codes.Error, span.Status.Code)
		assert.Equal(t, "no stock", span.Status.Description)
		require.Len(t, span.Events, 1)
		assert.Equal(t, "exception", span.Events[0].Name)
	})

	t.Run("passes the span context to the handler", func(t *testing.T) {
		tracer, _ := setupTestTracer(t)
		var inner trace.SpanContext
		handler := Middleware(tracer)(func(ctx context.Context, req relay.Request) (interface{}, error) {
			inner = SpanFromContext(ctx).SpanContext()
			return nil, nil
		})

		_, _ = handler(context.Background(), relay.Request{Kind: relay.KindCommand, Type: "PlaceOrder"})
		assert.True(t, inner.IsValid())
	})
}

// =============================================================================
// Transport Middleware Tests
// =============================================================================

func TestTransportMiddleware(t *testing.T) {
	t.Run("traces deliveries behind a bus", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		inner := relaytest.NewRecordingTransport()
		bus := relay.NewBus(NewTransportMiddleware(inner, tracer), relay.WithCleanupInterval(0))
		defer bus.Close()

		require.NoError(t, bus.Publish(context.Background(), relaytest.NewOrderPlaced("1")))
		require.NoError(t, bus.Publish(context.Background(), relaytest.NewOrderPlaced("1")))

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "transport.handle_event", spans[0].Name)
		assert.Equal(t, trace.SpanKindProducer, spans[0].SpanKind)

		v, _ := attr(spans[0], "relay.integration.event_id")
		assert.Equal(t, "1", v.AsString())
		v, _ = attr(spans[0], "relay.topic")
		assert.Equal(t, "OrderPlaced", v.AsString())

		assert.False(t, inner.IsClosed())
	})

	t.Run("records transport failures", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		inner := relaytest.NewRecordingTransport()
		inner.SetError(errors.New("down"))
		mw := NewTransportMiddleware(inner, tracer)

		err := mw.HandleEvent(context.Background(), relaytest.NewOrderPlaced("1"), "orders")
		require.Error(t, err)
		assert.Equal(t, codes.Error, spanNamed(t, exporter, "transport.handle_event").Status.Code)
	})

	t.Run("delegates the rest", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		inner := relaytest.NewRecordingTransport()
		mw := NewTransportMiddleware(inner, tracer)

		assert.Equal(t, "recording", mw.Name())
		assert.Same(t, inner, mw.Unwrap())

		require.NoError(t, mw.Subscribe(context.Background(), "orders", nil))
		assert.Equal(t, []string{"orders"}, inner.Topics())
		spanNamed(t, exporter, "transport.subscribe")

		require.NoError(t, mw.Unsubscribe(context.Background(), "orders"))
		assert.Empty(t, inner.Topics())

		require.NoError(t, mw.Close())
		assert.True(t, inner.IsClosed())
	})
}

// =============================================================================
// Store Middleware Tests
// =============================================================================

func TestStoreMiddleware(t *testing.T) {
	tracer, exporter := setupTestTracer(t)
	store := NewStoreMiddleware(memory.NewProcessedStore(), tracer)
	ctx := context.Background()

	seen, err := store.Seen(ctx, "OrderPlaced:1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.MarkProcessed(ctx, "OrderPlaced:1", time.Hour))

	seen, err = store.Seen(ctx, "OrderPlaced:1")
	require.NoError(t, err)
	assert.True(t, seen)

	_, err = store.Sweep(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Clear(ctx))

	names := make([]string, 0)
	for _, s := range exporter.GetSpans() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"processed.seen", "processed.mark", "processed.seen", "processed.sweep", "processed.clear"}, names)

	v, ok := attr(exporter.GetSpans()[2], "relay.seen")
	require.True(t, ok)
	assert.True(t, v.AsBool())
}

func TestStoreMiddleware_WithBus(t *testing.T) {
	tracer, exporter := setupTestTracer(t)
	bus := relay.NewBus(relaytest.NewRecordingTransport(),
		relay.WithProcessedStore(NewStoreMiddleware(memory.NewProcessedStore(), tracer)),
		relay.WithCleanupInterval(0),
	)
	defer bus.Close()

	require.NoError(t, bus.Publish(context.Background(), relaytest.NewOrderPlaced("1")))
	spanNamed(t, exporter, "processed.seen")
	spanNamed(t, exporter, "processed.mark")
}

// =============================================================================
// Handler Wrapper Tests
// =============================================================================

func TestWrapIntegrationHandler(t *testing.T) {
	tracer, exporter := setupTestTracer(t)
	handler := WrapIntegrationHandler(tracer, relay.IntegrationHandlerFunc(func(ctx context.Context, env *relay.Integration) error {
		return errors.New("rejected")
	}))

	require.Error(t, handler.Handle(context.Background(), relaytest.NewOrderPlaced("9")))

	span := spanNamed(t, exporter, "integration.OrderPlaced")
	assert.Equal(t, trace.SpanKindConsumer, span.SpanKind)
	assert.Equal(t, codes.Error, span.Status.Code)
}

func TestWrapEventHandler(t *testing.T) {
	tracer, exporter := setupTestTracer(t)
	m := relay.NewMediator()
	m.Registry().RegisterEventHandler("OrderShipped", WrapEventHandler(tracer, relay.EventHandlerFunc(func(ctx context.Context, event relay.DomainEvent) error {
		return nil
	})))

	require.NoError(t, m.PublishEvent(context.Background(), orderShipped{EventBase: relay.NewEventBase()}))

	assert.Eventually(t, func() bool {
		return len(exporter.GetSpans()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "event.OrderShipped", exporter.GetSpans()[0].Name)
}

// =============================================================================
// Span Helper Tests
// =============================================================================

func TestSpanHelpers(t *testing.T) {
	tracer, exporter := setupTestTracer(t)

	ctx, span := tracer.StartSpan(context.Background(), "helpers")
	AddEvent(ctx, "checkpoint")
	SetAttributes(ctx, attribute.String("relay.custom", "yes"))
	SetError(ctx, errors.New("bad"))
	span.End()

	s := spanNamed(t, exporter, "helpers")
	assert.Equal(t, codes.Error, s.Status.Code)
	v, _ := attr(s, "relay.custom")
	assert.Equal(t, "yes", v.AsString())
	assert.Len(t, s.Events, 2)
}
