package testutil

import (
	"testing"
	"time"
)

// AssertDeliveredOnce fails t unless tr accepted exactly one envelope with key.
func AssertDeliveredOnce(t testing.TB, tr *RecordingTransport, key string) {
	t.Helper()
	if n := tr.Count(key); n != 1 {
		t.Errorf("expected %s to be delivered once, got %d", key, n)
	}
}

// AssertNotDelivered fails t if tr accepted any envelope with key.
func AssertNotDelivered(t testing.TB, tr *RecordingTransport, key string) {
	t.Helper()
	if n := tr.Count(key); n != 0 {
		t.Errorf("expected %s not to be delivered, got %d", key, n)
	}
}

// WaitForDeliveries waits until tr accepted at least n envelopes and stops
// the test if that does not happen within timeout.
func WaitForDeliveries(t testing.TB, tr *RecordingTransport, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if got := len(tr.Deliveries()); got >= n {
			return
		} else if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d deliveries, got %d", n, got)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// AssertLogged fails t unless l logged msg at level.
func AssertLogged(t testing.TB, l *RecordingLogger, level, msg string) {
	t.Helper()
	if !l.Has(level, msg) {
		t.Errorf("expected %s log %q", level, msg)
	}
}
