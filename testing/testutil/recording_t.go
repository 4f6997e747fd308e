package testutil

import (
	"fmt"
	"runtime"
	"sync"
	"testing"
)

// RecordingT is a testing.TB that records failures instead of reporting
// them, for testing assertion helpers.
type RecordingT struct {
	testing.TB // embed to satisfy unexported methods

	mu       sync.Mutex
	failed   bool
	fatal    bool
	messages []string
}

// Helper implements testing.TB.
func (r *RecordingT) Helper() {}

// Errorf implements testing.TB.
func (r *RecordingT) Errorf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = true
	r.messages = append(r.messages, fmt.Sprintf(format, args...))
}

// Error implements testing.TB.
func (r *RecordingT) Error(args ...any) {
	r.Errorf("%s", fmt.Sprint(args...))
}

// Fatalf implements testing.TB. It stops the calling goroutine.
func (r *RecordingT) Fatalf(format string, args ...any) {
	r.Errorf(format, args...)
	r.mu.Lock()
	r.fatal = true
	r.mu.Unlock()
	runtime.Goexit()
}

// Fail implements testing.TB.
func (r *RecordingT) Fail() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = true
}

// FailNow implements testing.TB.
func (r *RecordingT) FailNow() {
	r.Fail()
	runtime.Goexit()
}

// Failed implements testing.TB.
func (r *RecordingT) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// Fataled reports whether Fatalf was called.
func (r *RecordingT) Fataled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

// Messages returns the recorded failure messages.
func (r *RecordingT) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// Run calls fn with a fresh RecordingT on its own goroutine and waits for
// it, so Fatalf and FailNow end fn without ending the caller.
func Run(fn func(t *RecordingT)) *RecordingT {
	rt := &RecordingT{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(rt)
	}()
	<-done
	return rt
}
