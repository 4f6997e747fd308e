// Package tracing provides OpenTelemetry integration for relay.
//
// This package traces command and query dispatch, integration publishing
// through a transport, processed-store lookups and integration handlers.
//
// Basic usage with the mediator:
//
//	tp := sdktrace.NewTracerProvider(...)
//	otel.SetTracerProvider(tp)
//
//	tracer := tracing.NewTracer()
//	m := relay.NewMediator(relay.WithMiddleware(tracing.Middleware(tracer)))
//	bus := relay.NewBus(tracing.NewTransportMiddleware(transport, tracer))
//
// The dispatch middleware captures:
//   - Command or query type and execution duration
//   - Success/failure status
//   - Error details when handlers fail
//   - Correlation and causation IDs
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AshkanYarmoradi/go-relay"
	"github.com/AshkanYarmoradi/go-relay/adapters"
)

const (
	// TracerName is the name of the relay tracer.
	TracerName = "github.com/AshkanYarmoradi/go-relay"

	// DefaultServiceName is the default service name for spans.
	DefaultServiceName = "relay"
)

// Tracer wraps OpenTelemetry tracer for relay operations.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name for spans.
func WithServiceName(name string) TracerOption {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a new Tracer with the global TracerProvider.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Tracer returns the underlying OpenTelemetry tracer.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// ServiceName returns the configured service name.
func (t *Tracer) ServiceName() string {
	return t.serviceName
}

func (t *Tracer) service() attribute.KeyValue {
	return attribute.String("relay.service", t.serviceName)
}

// end records err on span, or marks it Ok.
func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// =============================================================================
// Dispatch Middleware
// =============================================================================

// Middleware creates middleware that traces SendCommand and SendQuery.
// Spans are named "command.<Type>" or "query.<Type>".
func Middleware(tracer *Tracer) relay.Middleware {
	return func(next relay.MiddlewareFunc) relay.MiddlewareFunc {
		return func(ctx context.Context, req relay.Request) (interface{}, error) {
			ctx, span := tracer.StartSpan(ctx, fmt.Sprintf("%s.%s", req.Kind, req.Type),
				trace.WithSpanKind(trace.SpanKindInternal),
			)

			span.SetAttributes(
				tracer.service(),
				attribute.String("relay.kind", string(req.Kind)),
				attribute.String("relay.type", req.Type),
			)

			if id := relay.CorrelationIDFromContext(ctx); id != "" {
				span.SetAttributes(attribute.String("relay.correlation_id", id))
			}
			if id := relay.CausationIDFromContext(ctx); id != "" {
				span.SetAttributes(attribute.String("relay.causation_id", id))
			}

			result, err := next(ctx, req)
			end(span, err)
			return result, err
		}
	}
}

// =============================================================================
// Transport Middleware
// =============================================================================

// TransportMiddleware wraps a relay.Transport with tracing.
type TransportMiddleware struct {
	transport relay.Transport
	tracer    *Tracer
}

var _ relay.Transport = (*TransportMiddleware)(nil)

// NewTransportMiddleware wraps a transport with tracing.
func NewTransportMiddleware(transport relay.Transport, tracer *Tracer) *TransportMiddleware {
	return &TransportMiddleware{
		transport: transport,
		tracer:    tracer,
	}
}

// Name returns the wrapped transport's name.
func (m *TransportMiddleware) Name() string {
	return m.transport.Name()
}

// Unwrap returns the wrapped transport.
func (m *TransportMiddleware) Unwrap() relay.Transport {
	return m.transport
}

// HandleEvent delivers env with tracing.
func (m *TransportMiddleware) HandleEvent(ctx context.Context, env *relay.Integration, topic string) error {
	ctx, span := m.tracer.StartSpan(ctx, "transport.handle_event",
		trace.WithSpanKind(trace.SpanKindProducer),
	)

	span.SetAttributes(
		m.tracer.service(),
		attribute.String("relay.transport", m.transport.Name()),
		attribute.String("relay.topic", topic),
		attribute.String("relay.integration.name", env.Name()),
		attribute.String("relay.integration.event_id", env.EventID()),
	)

	err := m.transport.HandleEvent(ctx, env, topic)
	end(span, err)
	return err
}

// Subscribe starts receiving topic with tracing.
func (m *TransportMiddleware) Subscribe(ctx context.Context, topic string, handler relay.IntegrationHandler) error {
	ctx, span := m.tracer.StartSpan(ctx, "transport.subscribe",
		trace.WithSpanKind(trace.SpanKindClient),
	)

	span.SetAttributes(
		m.tracer.service(),
		attribute.String("relay.transport", m.transport.Name()),
		attribute.String("relay.topic", topic),
	)

	err := m.transport.Subscribe(ctx, topic, handler)
	end(span, err)
	return err
}

// Unsubscribe stops receiving topic.
func (m *TransportMiddleware) Unsubscribe(ctx context.Context, topic string) error {
	return m.transport.Unsubscribe(ctx, topic)
}

// Close closes the wrapped transport.
func (m *TransportMiddleware) Close() error {
	return m.transport.Close()
}

// =============================================================================
// Processed Store Middleware
// =============================================================================

// StoreMiddleware wraps an adapters.ProcessedStore with tracing.
type StoreMiddleware struct {
	store  adapters.ProcessedStore
	tracer *Tracer
}

var _ adapters.ProcessedStore = (*StoreMiddleware)(nil)

// NewStoreMiddleware wraps a processed store with tracing.
func NewStoreMiddleware(store adapters.ProcessedStore, tracer *Tracer) *StoreMiddleware {
	return &StoreMiddleware{
		store:  store,
		tracer: tracer,
	}
}

// Seen looks up key with tracing.
func (m *StoreMiddleware) Seen(ctx context.Context, key string) (bool, error) {
	ctx, span := m.tracer.StartSpan(ctx, "processed.seen",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(m.tracer.service(), attribute.String("relay.key", key))

	seen, err := m.store.Seen(ctx, key)
	if err == nil {
		span.SetAttributes(attribute.Bool("relay.seen", seen))
	}
	end(span, err)
	return seen, err
}

// MarkProcessed records key with tracing.
func (m *StoreMiddleware) MarkProcessed(ctx context.Context, key string, ttl time.Duration) error {
	ctx, span := m.tracer.StartSpan(ctx, "processed.mark",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		m.tracer.service(),
		attribute.String("relay.key", key),
		attribute.Int64("relay.ttl_ms", ttl.Milliseconds()),
	)

	err := m.store.MarkProcessed(ctx, key, ttl)
	end(span, err)
	return err
}

// Sweep removes expired keys with tracing.
func (m *StoreMiddleware) Sweep(ctx context.Context) (int64, error) {
	ctx, span := m.tracer.StartSpan(ctx, "processed.sweep",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(m.tracer.service())

	n, err := m.store.Sweep(ctx)
	if err == nil {
		span.SetAttributes(attribute.Int64("relay.swept", n))
	}
	end(span, err)
	return n, err
}

// Clear removes every key with tracing.
func (m *StoreMiddleware) Clear(ctx context.Context) error {
	ctx, span := m.tracer.StartSpan(ctx, "processed.clear",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(m.tracer.service())

	err := m.store.Clear(ctx)
	end(span, err)
	return err
}

// =============================================================================
// Handler Wrappers
// =============================================================================

// WrapIntegrationHandler traces each envelope a consumer handles.
func WrapIntegrationHandler(tracer *Tracer, handler relay.IntegrationHandler) relay.IntegrationHandler {
	return relay.IntegrationHandlerFunc(func(ctx context.Context, env *relay.Integration) error {
		ctx, span := tracer.StartSpan(ctx, fmt.Sprintf("integration.%s", env.Name()),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		span.SetAttributes(
			tracer.service(),
			attribute.String("relay.integration.name", env.Name()),
			attribute.String("relay.integration.event_id", env.EventID()),
		)

		err := handler.Handle(ctx, env)
		end(span, err)
		return err
	})
}

// WrapEventHandler traces each domain event a handler receives.
func WrapEventHandler(tracer *Tracer, handler relay.EventHandler) relay.EventHandler {
	return relay.EventHandlerFunc(func(ctx context.Context, event relay.DomainEvent) error {
		ctx, span := tracer.StartSpan(ctx, fmt.Sprintf("event.%s", event.EventType()),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		span.SetAttributes(
			tracer.service(),
			attribute.String("relay.event.type", event.EventType()),
		)

		err := handler.Handle(ctx, event)
		end(span, err)
		return err
	})
}

// =============================================================================
// Span Helpers
// =============================================================================

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, opts...)
}

// SetError sets an error on the current span.
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
}
