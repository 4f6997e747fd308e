package relay

import (
	"sort"
	"sync"
)

// HandlerRegistry is the directory from message type to handler(s).
// Commands and queries have one handler per type; registering again
// replaces the previous one. Events and integrations keep an ordered list
// and accept duplicates.
type HandlerRegistry struct {
	mu sync.RWMutex

	commands     map[string]CommandHandler
	queries      map[string]QueryHandler
	events       map[string][]EventHandler
	integrations map[string][]IntegrationHandler

	// integrationOrder keeps integration names in first-registration order.
	integrationOrder []string

	logger Logger
}

// RegistryOption configures a HandlerRegistry.
type RegistryOption func(*HandlerRegistry)

// WithRegistryLogger sets the logger used to report handler replacement.
func WithRegistryLogger(logger Logger) RegistryOption {
	return func(r *HandlerRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewHandlerRegistry creates an empty HandlerRegistry.
func NewHandlerRegistry(opts ...RegistryOption) *HandlerRegistry {
	r := &HandlerRegistry{
		commands:     make(map[string]CommandHandler),
		queries:      make(map[string]QueryHandler),
		events:       make(map[string][]EventHandler),
		integrations: make(map[string][]IntegrationHandler),
		logger:       &noopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterCommandHandler sets the handler for a command type.
func (r *HandlerRegistry) RegisterCommandHandler(cmdType string, handler CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[cmdType]; exists {
		r.logger.Debug("Replacing command handler", "type", cmdType)
	}
	r.commands[cmdType] = handler
}

// RegisterQueryHandler sets the handler for a query type.
func (r *HandlerRegistry) RegisterQueryHandler(queryType string, handler QueryHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.queries[queryType]; exists {
		r.logger.Debug("Replacing query handler", "type", queryType)
	}
	r.queries[queryType] = handler
}

// RegisterEventHandler appends a handler for a domain event type.
func (r *HandlerRegistry) RegisterEventHandler(eventType string, handler EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[eventType] = append(r.events[eventType], handler)
}

// RegisterIntegration appends a handler for an integration event name.
func (r *HandlerRegistry) RegisterIntegration(name string, handler IntegrationHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.integrations[name]; !exists {
		r.integrationOrder = append(r.integrationOrder, name)
	}
	r.integrations[name] = append(r.integrations[name], handler)
}

// CommandHandler returns the handler for a command type.
func (r *HandlerRegistry) CommandHandler(cmdType string) (CommandHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.commands[cmdType]
	return h, ok
}

// QueryHandler returns the handler for a query type.
func (r *HandlerRegistry) QueryHandler(queryType string) (QueryHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.queries[queryType]
	return h, ok
}

// EventHandlers returns a copy of the handlers for an event type, possibly empty.
func (r *HandlerRegistry) EventHandlers(eventType string) []EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handlers := make([]EventHandler, len(r.events[eventType]))
	copy(handlers, r.events[eventType])
	return handlers
}

// IntegrationHandlers returns a copy of the handlers for an integration name, possibly empty.
func (r *HandlerRegistry) IntegrationHandlers(name string) []IntegrationHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handlers := make([]IntegrationHandler, len(r.integrations[name]))
	copy(handlers, r.integrations[name])
	return handlers
}

// IntegrationHandlerNames returns every registered integration name in registration order.
func (r *HandlerRegistry) IntegrationHandlerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.integrationOrder))
	copy(names, r.integrationOrder)
	return names
}

// CommandTypes returns all registered command types, sorted.
func (r *HandlerRegistry) CommandTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.commands)
}

// QueryTypes returns all registered query types, sorted.
func (r *HandlerRegistry) QueryTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.queries)
}

// EventTypes returns all event types with at least one handler, sorted.
func (r *HandlerRegistry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.events)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
