package relay

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// Kind tells commands and queries apart inside the pipeline.
type Kind string

const (
	// KindCommand marks a command dispatch.
	KindCommand Kind = "command"

	// KindQuery marks a query dispatch.
	KindQuery Kind = "query"
)

// Request is what flows through the middleware pipeline of SendCommand and SendQuery.
type Request struct {
	Kind Kind

	// Type is the CommandType or QueryType of Message.
	Type string

	// Message is the Command or Query being dispatched.
	Message interface{}
}

// MiddlewareFunc is the function signature for dispatch middleware.
type MiddlewareFunc func(ctx context.Context, req Request) (interface{}, error)

// Middleware wraps a dispatch function with additional functionality.
type Middleware func(next MiddlewareFunc) MiddlewareFunc

// ChainMiddleware creates a single middleware from multiple middleware.
func ChainMiddleware(middleware ...Middleware) Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		for i := len(middleware) - 1; i >= 0; i-- {
			next = middleware[i](next)
		}
		return next
	}
}

// RecoveryMiddleware recovers from panics in handlers and returns them as *PanicError.
func RecoveryMiddleware() Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, req Request) (result interface{}, err error) {
			defer func() {
				if r := recover(); r != nil {
					result = nil
					err = NewPanicError(req.Type, r, string(debug.Stack()))
				}
			}()
			return next(ctx, req)
		}
	}
}

// LoggingMiddleware logs dispatch outcome and duration.
type LoggingMiddleware struct {
	logger Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware(logger Logger) *LoggingMiddleware {
	if logger == nil {
		logger = &noopLogger{}
	}
	return &LoggingMiddleware{logger: logger}
}

// Middleware returns the middleware function.
func (m *LoggingMiddleware) Middleware() Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, req Request) (interface{}, error) {
			start := time.Now()

			result, err := next(ctx, req)

			duration := time.Since(start)
			if err != nil {
				m.logger.Error("Dispatch failed",
					"kind", string(req.Kind),
					"type", req.Type,
					"duration", duration,
					"error", err,
				)
			} else {
				m.logger.Info("Dispatch completed",
					"kind", string(req.Kind),
					"type", req.Type,
					"duration", duration,
				)
			}

			return result, err
		}
	}
}

// TimeoutMiddleware bounds handler execution with a context deadline.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, req Request) (interface{}, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// MetricsCollector receives one observation per dispatch.
type MetricsCollector interface {
	RecordRequest(kind Kind, msgType string, duration time.Duration, err error)
}

// MetricsMiddleware creates middleware that records metrics.
func MetricsMiddleware(collector MetricsCollector) Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, req Request) (interface{}, error) {
			start := time.Now()
			result, err := next(ctx, req)
			collector.RecordRequest(req.Kind, req.Type, time.Since(start), err)
			return result, err
		}
	}
}

type correlationIDKey struct{}

// CorrelationIDFromContext returns the correlation ID from context.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID returns a context with the correlation ID set.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationIDMiddleware ensures every dispatch runs with a correlation ID.
// It keeps one already in ctx, then tries the message, then generates one.
func CorrelationIDMiddleware(generator func() string) Middleware {
	if generator == nil {
		generator = uuid.NewString
	}

	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, req Request) (interface{}, error) {
			if CorrelationIDFromContext(ctx) != "" {
				return next(ctx, req)
			}

			var correlationID string
			if base, ok := req.Message.(interface{ GetCorrelationID() string }); ok {
				correlationID = base.GetCorrelationID()
			}
			if correlationID == "" {
				correlationID = generator()
			}

			return next(WithCorrelationID(ctx, correlationID), req)
		}
	}
}

type causationIDKey struct{}

// CausationIDFromContext returns the causation ID from context.
func CausationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(causationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCausationID returns a context with the causation ID set.
func WithCausationID(ctx context.Context, causationID string) context.Context {
	return context.WithValue(ctx, causationIDKey{}, causationID)
}

// CausationIDMiddleware puts the message's causation (or command) ID in ctx
// so events raised while handling it can point back at it.
func CausationIDMiddleware() Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, req Request) (interface{}, error) {
			if CausationIDFromContext(ctx) != "" {
				return next(ctx, req)
			}

			var causationID string
			if base, ok := req.Message.(interface{ GetCausationID() string }); ok {
				causationID = base.GetCausationID()
			}
			if causationID == "" {
				if base, ok := req.Message.(interface{ GetCommandID() string }); ok {
					causationID = base.GetCommandID()
				}
			}

			if causationID != "" {
				ctx = WithCausationID(ctx, causationID)
			}
			return next(ctx, req)
		}
	}
}

// ConditionalMiddleware applies middleware only if the condition is true.
func ConditionalMiddleware(condition func(Request) bool, middleware Middleware) Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		wrapped := middleware(next)
		return func(ctx context.Context, req Request) (interface{}, error) {
			if condition(req) {
				return wrapped(ctx, req)
			}
			return next(ctx, req)
		}
	}
}

// CommandsOnly restricts middleware to commands.
func CommandsOnly(middleware Middleware) Middleware {
	return ConditionalMiddleware(func(req Request) bool { return req.Kind == KindCommand }, middleware)
}
