package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AshkanYarmoradi/go-relay"
)

// =============================================================================
// RecordingTransport
// =============================================================================

// Delivery is one envelope a RecordingTransport accepted.
type Delivery struct {
	Envelope *relay.Integration
	Topic    string
}

// RecordingTransport is an in-memory relay.Transport that records every
// HandleEvent call. It can be told to fail and, when given a dispatcher,
// runs the registered integration handlers like the local transport.
type RecordingTransport struct {
	mu         sync.Mutex
	deliveries []Delivery
	subs       map[string]relay.IntegrationHandler
	err        error
	dispatcher *relay.IntegrationDispatcher
	closed     bool
}

var _ relay.Transport = (*RecordingTransport)(nil)

// NewRecordingTransport creates an empty RecordingTransport.
func NewRecordingTransport() *RecordingTransport {
	return &RecordingTransport{subs: make(map[string]relay.IntegrationHandler)}
}

// WithDispatcher makes HandleEvent dispatch accepted envelopes.
func (t *RecordingTransport) WithDispatcher(d *relay.IntegrationDispatcher) *RecordingTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dispatcher = d
	return t
}

// Name returns "recording".
func (t *RecordingTransport) Name() string { return "recording" }

// HandleEvent records env, or returns the configured error.
func (t *RecordingTransport) HandleEvent(ctx context.Context, env *relay.Integration, topic string) error {
	t.mu.Lock()
	if t.err != nil {
		err := t.err
		t.mu.Unlock()
		return err
	}
	t.deliveries = append(t.deliveries, Delivery{Envelope: env, Topic: topic})
	dispatcher := t.dispatcher
	extra := t.subs[topic]
	t.mu.Unlock()

	if dispatcher != nil {
		return dispatcher.Dispatch(ctx, env, extra)
	}
	if extra != nil {
		return extra.Handle(ctx, env)
	}
	return nil
}

// Subscribe records handler for topic.
func (t *RecordingTransport) Subscribe(ctx context.Context, topic string, handler relay.IntegrationHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[topic] = handler
	return nil
}

// Unsubscribe forgets topic.
func (t *RecordingTransport) Unsubscribe(ctx context.Context, topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, topic)
	return nil
}

// Close marks the transport closed.
func (t *RecordingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// SetError makes every following HandleEvent fail with err; nil clears it.
func (t *RecordingTransport) SetError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

// Deliveries returns the accepted envelopes in order.
func (t *RecordingTransport) Deliveries() []Delivery {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Delivery(nil), t.deliveries...)
}

// Count returns how many envelopes with key were accepted.
func (t *RecordingTransport) Count(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, d := range t.deliveries {
		if d.Envelope.Key() == key {
			n++
		}
	}
	return n
}

// Topics returns the subscribed topics.
func (t *RecordingTransport) Topics() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	topics := make([]string, 0, len(t.subs))
	for topic := range t.subs {
		topics = append(topics, topic)
	}
	return topics
}

// IsClosed reports whether Close was called.
func (t *RecordingTransport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Reset forgets all deliveries and the configured error.
func (t *RecordingTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deliveries = nil
	t.err = nil
}

// =============================================================================
// RecordingLogger
// =============================================================================

// Entry is one logged message.
type Entry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// RecordingLogger is a relay.Logger that keeps every entry.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []Entry
}

var _ relay.Logger = (*RecordingLogger)(nil)

// NewRecordingLogger creates an empty RecordingLogger.
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{}
}

func (l *RecordingLogger) record(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Level: level, Msg: msg, Args: args})
}

// Debug implements relay.Logger.
func (l *RecordingLogger) Debug(msg string, args ...interface{}) { l.record("debug", msg, args) }

// Info implements relay.Logger.
func (l *RecordingLogger) Info(msg string, args ...interface{}) { l.record("info", msg, args) }

// Warn implements relay.Logger.
func (l *RecordingLogger) Warn(msg string, args ...interface{}) { l.record("warn", msg, args) }

// Error implements relay.Logger.
func (l *RecordingLogger) Error(msg string, args ...interface{}) { l.record("error", msg, args) }

// Entries returns the logged entries in order.
func (l *RecordingLogger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Has reports whether msg was logged at level.
func (l *RecordingLogger) Has(level, msg string) bool {
	for _, e := range l.Entries() {
		if e.Level == level && e.Msg == msg {
			return true
		}
	}
	return false
}

// =============================================================================
// RecordingObserver
// =============================================================================

// Observation is one Publish outcome.
type Observation struct {
	Name     string
	Outcome  relay.PublishOutcome
	Duration time.Duration
}

// RecordingObserver is a relay.PublishObserver that keeps every outcome.
type RecordingObserver struct {
	mu           sync.Mutex
	observations []Observation
}

var _ relay.PublishObserver = (*RecordingObserver)(nil)

// ObservePublish implements relay.PublishObserver.
func (o *RecordingObserver) ObservePublish(name string, outcome relay.PublishOutcome, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observations = append(o.observations, Observation{Name: name, Outcome: outcome, Duration: duration})
}

// Outcomes returns the recorded outcomes in order.
func (o *RecordingObserver) Outcomes() []relay.PublishOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]relay.PublishOutcome, len(o.observations))
	for i, obs := range o.observations {
		out[i] = obs.Outcome
	}
	return out
}

// String summarizes the recorded outcomes.
func (o *RecordingObserver) String() string {
	return fmt.Sprint(o.Outcomes())
}
