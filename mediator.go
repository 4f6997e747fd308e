package relay

import (
	"context"
	"sync"
)

// EventPublisher drains and publishes an entity's pending domain events.
// Repositories call it after every successful mutation.
type EventPublisher interface {
	PublishEvents(ctx context.Context, entity Entity) error
}

// Mediator validates and dispatches commands and queries to their single
// handler, and publishes domain events to every subscribed handler.
type Mediator struct {
	registry   *HandlerRegistry
	validator  Validator
	emitter    Emitter
	logger     Logger
	middleware []Middleware
	mu         sync.RWMutex
}

var _ EventPublisher = (*Mediator)(nil)

// MediatorOption configures a Mediator.
type MediatorOption func(*Mediator)

// WithRegistry sets the handler registry.
func WithRegistry(registry *HandlerRegistry) MediatorOption {
	return func(m *Mediator) {
		m.registry = registry
	}
}

// WithValidator sets the validator run before dispatch.
func WithValidator(v Validator) MediatorOption {
	return func(m *Mediator) {
		m.validator = v
	}
}

// WithEmitter sets the local emission sink.
func WithEmitter(e Emitter) MediatorOption {
	return func(m *Mediator) {
		m.emitter = e
	}
}

// WithLogger sets a custom logger.
func WithLogger(l Logger) MediatorOption {
	return func(m *Mediator) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMiddleware adds middleware around command and query dispatch.
func WithMiddleware(middleware ...Middleware) MediatorOption {
	return func(m *Mediator) {
		m.middleware = append(m.middleware, middleware...)
	}
}

// NewMediator creates a new Mediator with the given options.
func NewMediator(opts ...MediatorOption) *Mediator {
	m := &Mediator{
		registry:  NewHandlerRegistry(),
		validator: RuleValidator{},
		emitter:   NewLocalEmitter(),
		logger:    &noopLogger{},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Registry returns the handler registry.
func (m *Mediator) Registry() *HandlerRegistry {
	return m.registry
}

// Emitter returns the local emission sink.
func (m *Mediator) Emitter() Emitter {
	return m.emitter
}

// Use adds middleware. Middleware is executed in the order it was added.
func (m *Mediator) Use(middleware ...Middleware) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.middleware = append(m.middleware, middleware...)
}

// SendCommand validates cmd, finds its handler and returns the handler's
// result unchanged. Validation failures return *ValidationError without
// invoking anything; a missing handler returns *HandlerNotFoundError.
func (m *Mediator) SendCommand(ctx context.Context, cmd Command) (interface{}, error) {
	if cmd == nil {
		return nil, ErrNilMessage
	}
	return m.dispatch(ctx, Request{Kind: KindCommand, Type: cmd.CommandType(), Message: cmd})
}

// SendQuery is SendCommand for queries.
func (m *Mediator) SendQuery(ctx context.Context, q Query) (interface{}, error) {
	if q == nil {
		return nil, ErrNilMessage
	}
	return m.dispatch(ctx, Request{Kind: KindQuery, Type: q.QueryType(), Message: q})
}

func (m *Mediator) dispatch(ctx context.Context, req Request) (interface{}, error) {
	m.mu.RLock()
	middleware := make([]Middleware, len(m.middleware))
	copy(middleware, m.middleware)
	m.mu.RUnlock()

	// Apply middleware in reverse order so they execute in the order they were added
	chain := MiddlewareFunc(m.handle)
	for i := len(middleware) - 1; i >= 0; i-- {
		chain = middleware[i](chain)
	}

	return chain(ctx, req)
}

func (m *Mediator) handle(ctx context.Context, req Request) (interface{}, error) {
	if res := m.validator.Validate(req.Message); !res.IsValid {
		return nil, NewValidationError(req.Type, res.Errors)
	}

	var (
		result interface{}
		err    error
	)
	switch req.Kind {
	case KindQuery:
		handler, ok := m.registry.QueryHandler(req.Type)
		if !ok {
			return nil, NewHandlerNotFoundError(string(KindQuery), req.Type)
		}
		m.logger.Debug("Executing query", "type", req.Type)
		result, err = handler.Handle(ctx, req.Message.(Query))
	default:
		handler, ok := m.registry.CommandHandler(req.Type)
		if !ok {
			return nil, NewHandlerNotFoundError(string(KindCommand), req.Type)
		}
		m.logger.Debug("Executing command", "type", req.Type)
		result, err = handler.Handle(ctx, req.Message.(Command))
	}

	if err != nil {
		m.logger.Error("Handler failed", "kind", string(req.Kind), "type", req.Type, "error", err)
		return nil, err
	}
	return result, nil
}

// PublishEvent runs every handler of the event's type concurrently and
// returns the first failure without waiting for the rest. When all succeed
// the event is emitted on the local sink under its type.
func (m *Mediator) PublishEvent(ctx context.Context, event DomainEvent) error {
	if event == nil {
		return ErrNilMessage
	}

	eventType := event.EventType()
	handlers := m.registry.EventHandlers(eventType)
	m.logger.Debug("Publishing event", "type", eventType, "handlers", len(handlers))

	err := fanOut(ctx, len(handlers), eventType, func(ctx context.Context, i int) error {
		return handlers[i].Handle(ctx, event)
	})
	if err != nil {
		m.logger.Error("Event handler failed", "type", eventType, "error", err)
		return err
	}

	m.emitter.Emit(eventType, event)
	return nil
}

// PublishEvents starts PublishEvent for every pending event of entity,
// clears the entity's queue, then waits, returning the first failure.
// The queue is empty afterwards whether or not a handler failed.
func (m *Mediator) PublishEvents(ctx context.Context, entity Entity) error {
	if entity == nil {
		return ErrNilMessage
	}

	events := entity.DomainEvents()
	errCh := make(chan error, len(events))
	for _, event := range events {
		go func(event DomainEvent) {
			errCh <- m.PublishEvent(ctx, event)
		}(event)
	}
	entity.ClearDomainEvents()

	for range events {
		select {
		case err := <-errCh:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Send dispatches cmd and asserts the handler's result to R.
func Send[R any](ctx context.Context, m *Mediator, cmd Command) (R, error) {
	result, err := m.SendCommand(ctx, cmd)
	return castResult[R](result, err)
}

// Ask dispatches q and asserts the handler's result to R.
func Ask[R any](ctx context.Context, m *Mediator, q Query) (R, error) {
	result, err := m.SendQuery(ctx, q)
	return castResult[R](result, err)
}

func castResult[R any](result interface{}, err error) (R, error) {
	var zero R
	if err != nil || result == nil {
		return zero, err
	}
	typed, ok := result.(R)
	if !ok {
		return zero, unexpectedType(zero, result)
	}
	return typed, nil
}
