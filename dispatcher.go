package relay

import "context"

// IntegrationDispatcher runs the registered handlers of an envelope and
// emits it on the local sink. The local transport and every broker consumer
// loop share it.
type IntegrationDispatcher struct {
	registry *HandlerRegistry
	emitter  Emitter
	logger   Logger
}

// NewIntegrationDispatcher creates a dispatcher over registry and emitter.
func NewIntegrationDispatcher(registry *HandlerRegistry, emitter Emitter, logger Logger) *IntegrationDispatcher {
	if logger == nil {
		logger = &noopLogger{}
	}
	return &IntegrationDispatcher{registry: registry, emitter: emitter, logger: logger}
}

// Integrations returns a dispatcher sharing the mediator's registry, sink and logger.
func (m *Mediator) Integrations() *IntegrationDispatcher {
	return NewIntegrationDispatcher(m.registry, m.emitter, m.logger)
}

// Registry returns the handler registry.
func (d *IntegrationDispatcher) Registry() *HandlerRegistry {
	return d.registry
}

// Emitter returns the local emission sink.
func (d *IntegrationDispatcher) Emitter() Emitter {
	return d.emitter
}

// Dispatch runs the registered handlers of env.Name() concurrently, then
// extra when it is non-nil, then emits (name, data, env). The first failure
// stops the sequence and nothing is emitted.
func (d *IntegrationDispatcher) Dispatch(ctx context.Context, env *Integration, extra IntegrationHandler) error {
	if env == nil {
		return ErrNilMessage
	}

	name := env.Name()
	handlers := d.registry.IntegrationHandlers(name)
	d.logger.Debug("Dispatching integration event", "name", name, "eventId", env.EventID(), "handlers", len(handlers))

	err := fanOut(ctx, len(handlers), name, func(ctx context.Context, i int) error {
		return handlers[i].Handle(ctx, env)
	})
	if err != nil {
		return err
	}

	if extra != nil {
		if err := safeCall(name, func() error { return extra.Handle(ctx, env) }); err != nil {
			return err
		}
	}

	d.emitter.Emit(name, env.Data(), env)
	return nil
}

// EnvelopeFromArgs recovers the envelope from the arguments of an
// integration emission, as passed to a Listener.
func EnvelopeFromArgs(args ...interface{}) (*Integration, bool) {
	if len(args) < 2 {
		return nil, false
	}
	env, ok := args[1].(*Integration)
	return env, ok
}
