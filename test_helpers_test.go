package relay

// test_helpers_test.go contains shared test doubles and fixtures for relay package tests.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// =============================================================================
// Shared Test Logger
// =============================================================================

// testLogger records messages per level.
type testLogger struct {
	mu        sync.Mutex
	debugLogs []string
	infoLogs  []string
	warnLogs  []string
	errorLogs []string
}

func newTestLogger() *testLogger {
	return &testLogger{}
}

func (l *testLogger) Debug(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugLogs = append(l.debugLogs, msg)
}

func (l *testLogger) Info(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLogs = append(l.infoLogs, msg)
}

func (l *testLogger) Warn(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnLogs = append(l.warnLogs, msg)
}

func (l *testLogger) Error(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLogs = append(l.errorLogs, msg)
}

func (l *testLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	var logs []string
	switch level {
	case "debug":
		logs = l.debugLogs
	case "info":
		logs = l.infoLogs
	case "warn":
		logs = l.warnLogs
	case "error":
		logs = l.errorLogs
	}
	for _, m := range logs {
		if m == msg {
			return true
		}
	}
	return false
}

// =============================================================================
// Shared Domain Fixtures
// =============================================================================

type createUser struct {
	CommandBase
	Name  string
	Email string
}

func (c createUser) CommandType() string { return "CreateUser" }

func (c createUser) Rules() []FieldRule {
	return []FieldRule{
		Field("name", c.Name, Required()),
		Field("email", c.Email, Required(), Email()),
	}
}

type getUser struct {
	ID string
}

func (q getUser) QueryType() string { return "GetUser" }

func (q getUser) Rules() []FieldRule {
	return []FieldRule{Field("id", q.ID, Required())}
}

type userCreated struct {
	EventBase
	UserID string
	Name   string
}

func (e userCreated) EventType() string { return "UserCreated" }

type userRenamed struct {
	EventBase
	UserID string
	Name   string
}

func (e userRenamed) EventType() string { return "UserRenamed" }

type user struct {
	EntityBase
	Name  string `json:"name"`
	Email string `json:"email"`
	Age   int    `json:"age"`
}

func newUser(name, email string) *user {
	u := &user{EntityBase: NewEntityBase(), Name: name, Email: email}
	u.AddDomainEvent(userCreated{EventBase: NewEventBase(), UserID: u.ID(), Name: name})
	return u
}

func (u *user) Rename(name string) {
	u.Name = name
	u.Touch()
	u.AddDomainEvent(userRenamed{EventBase: NewEventBase(), UserID: u.ID(), Name: name})
}

// =============================================================================
// Shared Test Transport
// =============================================================================

// recordingTransport records HandleEvent calls and can be told to fail.
type recordingTransport struct {
	mu       sync.Mutex
	handled  []*Integration
	topics   []string
	subs     map[string]IntegrationHandler
	fail     error
	delay    time.Duration
	closed   bool
	onHandle func(env *Integration)
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{subs: make(map[string]IntegrationHandler)}
}

func (t *recordingTransport) Name() string { return "recording" }

func (t *recordingTransport) HandleEvent(ctx context.Context, env *Integration, topic string) error {
	if t.delay > 0 {
		time.Sleep(t.delay)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail != nil {
		return t.fail
	}
	t.handled = append(t.handled, env)
	t.topics = append(t.topics, topic)
	if t.onHandle != nil {
		t.onHandle(env)
	}
	return nil
}

func (t *recordingTransport) Subscribe(ctx context.Context, topic string, handler IntegrationHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[topic] = handler
	return nil
}

func (t *recordingTransport) Unsubscribe(ctx context.Context, topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, topic)
	return nil
}

func (t *recordingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *recordingTransport) setFail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail = err
}

func (t *recordingTransport) handledCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handled)
}

// failingStore is a processed store whose lookups or writes fail.
type failingStore struct {
	seenErr error
	markErr error
	marked  int
}

func (s *failingStore) Seen(ctx context.Context, key string) (bool, error) {
	return false, s.seenErr
}

func (s *failingStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) error {
	s.marked++
	return s.markErr
}

func (s *failingStore) Sweep(ctx context.Context) (int64, error) {
	return 0, nil
}

func (s *failingStore) Clear(ctx context.Context) error {
	return nil
}

var errBoom = errors.New("boom")

var timeZero time.Time
