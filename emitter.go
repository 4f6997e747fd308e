package relay

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Listener receives the arguments passed to Emit.
type Listener func(args ...interface{})

// ListenerID identifies a registration so it can be removed with Off.
type ListenerID uint64

// Emitter is the local emission sink. Every published domain event and every
// delivered integration event is emitted here under its type name.
type Emitter interface {
	// Emit calls the listeners of name and reports whether there were any.
	Emit(name string, args ...interface{}) bool

	// On registers a listener for name.
	On(name string, listener Listener) ListenerID

	// Off removes one listener.
	Off(name string, id ListenerID)

	// RemoveAllListeners removes the listeners of the given names, or of
	// every name when called without arguments.
	RemoveAllListeners(names ...string)
}

type listenerEntry struct {
	id ListenerID
	fn Listener
}

// LocalEmitter is an in-process Emitter. Listeners run synchronously on the
// emitting goroutine in registration order. A panicking listener is logged
// and does not stop the others.
type LocalEmitter struct {
	mu        sync.RWMutex
	listeners map[string][]listenerEntry
	nextID    atomic.Uint64
	logger    Logger
}

var _ Emitter = (*LocalEmitter)(nil)

// EmitterOption configures a LocalEmitter.
type EmitterOption func(*LocalEmitter)

// WithEmitterLogger sets the logger used to report listener panics.
func WithEmitterLogger(logger Logger) EmitterOption {
	return func(e *LocalEmitter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewLocalEmitter creates an empty LocalEmitter.
func NewLocalEmitter(opts ...EmitterOption) *LocalEmitter {
	e := &LocalEmitter{
		listeners: make(map[string][]listenerEntry),
		logger:    &noopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit calls every listener of name with args.
func (e *LocalEmitter) Emit(name string, args ...interface{}) bool {
	e.mu.RLock()
	entries := make([]listenerEntry, len(e.listeners[name]))
	copy(entries, e.listeners[name])
	e.mu.RUnlock()

	for _, entry := range entries {
		e.call(name, entry.fn, args)
	}
	return len(entries) > 0
}

func (e *LocalEmitter) call(name string, fn Listener, args []interface{}) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Listener panicked", "event", name, "panic", fmt.Sprint(r))
		}
	}()
	fn(args...)
}

// On registers a listener for name.
func (e *LocalEmitter) On(name string, listener Listener) ListenerID {
	id := ListenerID(e.nextID.Add(1))
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[name] = append(e.listeners[name], listenerEntry{id: id, fn: listener})
	return id
}

// Off removes the listener registered under id.
func (e *LocalEmitter) Off(name string, id ListenerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.listeners[name]
	for i, entry := range entries {
		if entry.id == id {
			e.listeners[name] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(e.listeners[name]) == 0 {
		delete(e.listeners, name)
	}
}

// RemoveAllListeners removes the listeners of names, or all listeners.
func (e *LocalEmitter) RemoveAllListeners(names ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(names) == 0 {
		e.listeners = make(map[string][]listenerEntry)
		return
	}
	for _, name := range names {
		delete(e.listeners, name)
	}
}

// ListenerCount returns the number of listeners for name.
func (e *LocalEmitter) ListenerCount(name string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[name])
}
