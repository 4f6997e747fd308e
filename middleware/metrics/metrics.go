// Package metrics provides Prometheus metrics integration for relay.
//
// This package enables observability through Prometheus metrics for
// command and query dispatch, domain event handling and integration
// event publishing and consumption.
//
// Basic usage:
//
//	metrics := metrics.New()
//	// Register with Prometheus
//	prometheus.MustRegister(metrics.Collectors()...)
//
//	// Use with the mediator
//	m := relay.NewMediator(relay.WithMiddleware(metrics.Middleware()))
//
//	// Use with the event bus
//	bus := relay.NewBus(t, relay.WithPublishObserver(metrics))
//
// The metrics collected include:
//   - Command and query counts, durations and in-flight gauges
//   - Integration publish outcomes (delivered, deduplicated, failed)
//   - Domain event and integration handler counts
//   - Error counts by type
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AshkanYarmoradi/go-relay"
	"github.com/AshkanYarmoradi/go-relay/adapters"
)

// Default metric labels.
const (
	LabelKind      = "kind"
	LabelType      = "type"
	LabelEventType = "event_type"
	LabelName      = "name"
	LabelOutcome   = "outcome"
	LabelStatus    = "status"
	LabelErrorType = "error_type"
	LabelService   = "service"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics holds all Prometheus metrics for relay.
type Metrics struct {
	namespace   string
	subsystem   string
	serviceName string

	// Dispatch metrics
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	// Event bus metrics
	publishedTotal  *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec

	// Handler metrics
	domainEventsHandledTotal *prometheus.CounterVec
	integrationsHandledTotal *prometheus.CounterVec

	// Processed store
	processedKeys *prometheus.GaugeVec

	// Error metrics
	errorsTotal *prometheus.CounterVec
}

var (
	_ relay.PublishObserver  = (*Metrics)(nil)
	_ relay.MetricsCollector = (*Metrics)(nil)
)

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithNamespace sets the Prometheus namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithSubsystem sets the Prometheus subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(m *Metrics) {
		m.subsystem = subsystem
	}
}

// WithMetricsServiceName sets the service name label.
func WithMetricsServiceName(name string) MetricsOption {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates a new Metrics instance with default settings.
func New(opts ...MetricsOption) *Metrics {
	m := &Metrics{
		namespace:   "relay",
		subsystem:   "",
		serviceName: "unknown",
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initMetrics()
	return m
}

// initMetrics initializes all Prometheus metrics.
func (m *Metrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "requests_total",
			Help:      "Total number of commands and queries dispatched.",
		},
		[]string{LabelService, LabelKind, LabelType, LabelStatus},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "request_duration_seconds",
			Help:      "Duration of command and query dispatch in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelKind, LabelType},
	)

	m.requestsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "requests_in_flight",
			Help:      "Number of commands and queries currently being dispatched.",
		},
		[]string{LabelService, LabelKind, LabelType},
	)

	m.publishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "integrations_published_total",
			Help:      "Total number of integration publishes by outcome.",
		},
		[]string{LabelService, LabelName, LabelOutcome},
	)

	m.publishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "integration_publish_duration_seconds",
			Help:      "Duration of integration publishes in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelName},
	)

	m.domainEventsHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "domain_events_handled_total",
			Help:      "Total number of domain event handler invocations.",
		},
		[]string{LabelService, LabelEventType, LabelStatus},
	)

	m.integrationsHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "integrations_handled_total",
			Help:      "Total number of integration handler invocations.",
		},
		[]string{LabelService, LabelName, LabelStatus},
	)

	m.processedKeys = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "processed_keys",
			Help:      "Number of keys in the processed-key store.",
		},
		[]string{LabelService},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors by type.",
		},
		[]string{LabelService, LabelErrorType},
	)
}

// Collectors returns all Prometheus collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.requestsInFlight,
		m.publishedTotal,
		m.publishDuration,
		m.domainEventsHandledTotal,
		m.integrationsHandledTotal,
		m.processedKeys,
		m.errorsTotal,
	}
}

// MustRegister registers all collectors with the default registry.
// Panics if registration fails.
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(m.Collectors()...)
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, collector := range m.Collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Dispatch Middleware
// =============================================================================

// Middleware returns middleware that records command and query metrics.
func (m *Metrics) Middleware() relay.Middleware {
	return func(next relay.MiddlewareFunc) relay.MiddlewareFunc {
		return func(ctx context.Context, req relay.Request) (interface{}, error) {
			kind := string(req.Kind)

			// Track in-flight
			m.requestsInFlight.WithLabelValues(m.serviceName, kind, req.Type).Inc()
			defer m.requestsInFlight.WithLabelValues(m.serviceName, kind, req.Type).Dec()

			start := time.Now()
			result, err := next(ctx, req)
			m.RecordRequest(req.Kind, req.Type, time.Since(start), err)

			return result, err
		}
	}
}

// RecordRequest records one finished dispatch. It makes Metrics usable with
// relay.MetricsMiddleware.
func (m *Metrics) RecordRequest(kind relay.Kind, msgType string, duration time.Duration, err error) {
	m.requestDuration.WithLabelValues(m.serviceName, string(kind), msgType).Observe(duration.Seconds())

	status := StatusSuccess
	if err != nil {
		status = StatusError
		m.recordError(err)
	}
	m.requestsTotal.WithLabelValues(m.serviceName, string(kind), msgType, status).Inc()
}

// recordError records an error metric.
func (m *Metrics) recordError(err error) {
	m.errorsTotal.WithLabelValues(m.serviceName, errorTypeName(err)).Inc()
}

// errorTypeName extracts the error type name based on sentinel errors.
func errorTypeName(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, relay.ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, relay.ErrHandlerNotFound):
		return "handler_not_found"
	case errors.Is(err, relay.ErrHandlerPanicked):
		return "handler_panicked"
	case errors.Is(err, relay.ErrNilMessage):
		return "nil_message"
	case errors.Is(err, relay.ErrDuplicateEntity):
		return "duplicate_entity"
	case errors.Is(err, relay.ErrEntityNotFound):
		return "entity_not_found"
	case errors.Is(err, relay.ErrTransport):
		return "transport"
	case errors.Is(err, relay.ErrBusClosed):
		return "bus_closed"
	case errors.Is(err, relay.ErrInvalidEnvelope):
		return "invalid_envelope"
	case errors.Is(err, relay.ErrUnexpectedType):
		return "unexpected_type"
	case errors.Is(err, adapters.ErrAdapterClosed):
		return "adapter_closed"
	case errors.Is(err, adapters.ErrEmptyKey):
		return "empty_key"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unknown"
	}
}

// =============================================================================
// Event Bus Observer
// =============================================================================

// ObservePublish records one Publish outcome. Pass Metrics to
// relay.WithPublishObserver.
func (m *Metrics) ObservePublish(name string, outcome relay.PublishOutcome, duration time.Duration) {
	m.publishedTotal.WithLabelValues(m.serviceName, name, string(outcome)).Inc()
	m.publishDuration.WithLabelValues(m.serviceName, name).Observe(duration.Seconds())
	if outcome == relay.OutcomeFailed {
		m.errorsTotal.WithLabelValues(m.serviceName, "publish_failed").Inc()
	}
}

// =============================================================================
// Handler Wrappers
// =============================================================================

// WrapEventHandler wraps a domain event handler with metrics collection.
func (m *Metrics) WrapEventHandler(handler relay.EventHandler) relay.EventHandler {
	return relay.EventHandlerFunc(func(ctx context.Context, event relay.DomainEvent) error {
		err := handler.Handle(ctx, event)
		status := StatusSuccess
		if err != nil {
			status = StatusError
			m.recordError(err)
		}
		m.domainEventsHandledTotal.WithLabelValues(m.serviceName, event.EventType(), status).Inc()
		return err
	})
}

// WrapIntegrationHandler wraps an integration handler with metrics collection.
func (m *Metrics) WrapIntegrationHandler(handler relay.IntegrationHandler) relay.IntegrationHandler {
	return relay.IntegrationHandlerFunc(func(ctx context.Context, env *relay.Integration) error {
		err := handler.Handle(ctx, env)
		status := StatusSuccess
		if err != nil {
			status = StatusError
			m.recordError(err)
		}
		m.integrationsHandledTotal.WithLabelValues(m.serviceName, env.Name(), status).Inc()
		return err
	})
}

// =============================================================================
// Manual Metric Recording
// =============================================================================

// RecordProcessedKeys records the size of the processed-key store.
func (m *Metrics) RecordProcessedKeys(count int64) {
	m.processedKeys.WithLabelValues(m.serviceName).Set(float64(count))
}

// ObserveStore records the size of store when it can count its keys.
func (m *Metrics) ObserveStore(ctx context.Context, store adapters.ProcessedStore) error {
	counter, ok := store.(adapters.Counter)
	if !ok {
		return nil
	}
	n, err := counter.Count(ctx)
	if err != nil {
		m.recordError(err)
		return err
	}
	m.RecordProcessedKeys(n)
	return nil
}

// RecordError records a custom error.
func (m *Metrics) RecordError(errorType string) {
	m.errorsTotal.WithLabelValues(m.serviceName, errorType).Inc()
}

// =============================================================================
// Getters for testing
// =============================================================================

// RequestsTotal returns the requests counter.
func (m *Metrics) RequestsTotal() *prometheus.CounterVec {
	return m.requestsTotal
}

// RequestDuration returns the request duration histogram.
func (m *Metrics) RequestDuration() *prometheus.HistogramVec {
	return m.requestDuration
}

// RequestsInFlight returns the in-flight requests gauge.
func (m *Metrics) RequestsInFlight() *prometheus.GaugeVec {
	return m.requestsInFlight
}

// PublishedTotal returns the integration publish counter.
func (m *Metrics) PublishedTotal() *prometheus.CounterVec {
	return m.publishedTotal
}

// ErrorsTotal returns the errors counter.
func (m *Metrics) ErrorsTotal() *prometheus.CounterVec {
	return m.errorsTotal
}
