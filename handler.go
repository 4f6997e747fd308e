package relay

import (
	"context"
	"fmt"
	"reflect"
)

// CommandHandler processes one command type and returns its result.
type CommandHandler interface {
	Handle(ctx context.Context, cmd Command) (interface{}, error)
}

// CommandHandlerFunc is a function type that implements CommandHandler.
type CommandHandlerFunc func(ctx context.Context, cmd Command) (interface{}, error)

// Handle calls f.
func (f CommandHandlerFunc) Handle(ctx context.Context, cmd Command) (interface{}, error) {
	return f(ctx, cmd)
}

// QueryHandler processes one query type and returns its result.
type QueryHandler interface {
	Handle(ctx context.Context, q Query) (interface{}, error)
}

// QueryHandlerFunc is a function type that implements QueryHandler.
type QueryHandlerFunc func(ctx context.Context, q Query) (interface{}, error)

// Handle calls f.
func (f QueryHandlerFunc) Handle(ctx context.Context, q Query) (interface{}, error) {
	return f(ctx, q)
}

// EventHandler reacts to a domain event.
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
}

// EventHandlerFunc is a function type that implements EventHandler.
type EventHandlerFunc func(ctx context.Context, event DomainEvent) error

// Handle calls f.
func (f EventHandlerFunc) Handle(ctx context.Context, event DomainEvent) error {
	return f(ctx, event)
}

// IntegrationHandler reacts to an integration envelope.
type IntegrationHandler interface {
	Handle(ctx context.Context, env *Integration) error
}

// IntegrationHandlerFunc is a function type that implements IntegrationHandler.
type IntegrationHandlerFunc func(ctx context.Context, env *Integration) error

// Handle calls f.
func (f IntegrationHandlerFunc) Handle(ctx context.Context, env *Integration) error {
	return f(ctx, env)
}

// HandleCommand registers a type-safe command handler. The command type is
// taken from the zero value of C, so CommandType must not depend on fields.
func HandleCommand[C Command, R any](r *HandlerRegistry, fn func(ctx context.Context, cmd C) (R, error)) {
	r.RegisterCommandHandler(zeroOf[C]().CommandType(), CommandHandlerFunc(func(ctx context.Context, cmd Command) (interface{}, error) {
		typed, ok := cmd.(C)
		if !ok {
			return nil, unexpectedType(*new(C), cmd)
		}
		return fn(ctx, typed)
	}))
}

// HandleQuery registers a type-safe query handler.
func HandleQuery[Q Query, R any](r *HandlerRegistry, fn func(ctx context.Context, q Q) (R, error)) {
	r.RegisterQueryHandler(zeroOf[Q]().QueryType(), QueryHandlerFunc(func(ctx context.Context, q Query) (interface{}, error) {
		typed, ok := q.(Q)
		if !ok {
			return nil, unexpectedType(*new(Q), q)
		}
		return fn(ctx, typed)
	}))
}

// OnEvent registers a type-safe domain event handler.
func OnEvent[E DomainEvent](r *HandlerRegistry, fn func(ctx context.Context, event E) error) {
	r.RegisterEventHandler(zeroOf[E]().EventType(), EventHandlerFunc(func(ctx context.Context, event DomainEvent) error {
		typed, ok := event.(E)
		if !ok {
			return unexpectedType(*new(E), event)
		}
		return fn(ctx, typed)
	}))
}

// OnIntegration registers an integration handler that receives the payload
// bound to T.
func OnIntegration[T any](r *HandlerRegistry, name string, fn func(ctx context.Context, data T, env *Integration) error) {
	r.RegisterIntegration(name, IntegrationHandlerFunc(func(ctx context.Context, env *Integration) error {
		var data T
		if err := env.Bind(&data); err != nil {
			return fmt.Errorf("relay: bind %s payload: %w", env.Name(), err)
		}
		return fn(ctx, data, env)
	}))
}

// zeroOf returns the zero value of T, or a pointer to a zero element when T
// is a pointer type, so identifier methods can be called safely.
func zeroOf[T any]() T {
	var zero T
	t := reflect.TypeOf(&zero).Elem()
	if t.Kind() == reflect.Ptr {
		return reflect.New(t.Elem()).Interface().(T)
	}
	return zero
}

func unexpectedType(want, got interface{}) error {
	return fmt.Errorf("%w: expected %T, got %T", ErrUnexpectedType, want, got)
}
