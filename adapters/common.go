package adapters

import (
	"strings"
	"time"
)

// KeySeparator joins an integration name and its event id into a dedup key.
const KeySeparator = ":"

// ProcessedKey builds the dedup key for an integration event.
//
// Behavior:
//   - ("OrderPlaced", "order-abc") returns "OrderPlaced:order-abc"
//   - ("", "x") returns ":x"
func ProcessedKey(name, eventID string) string {
	return name + KeySeparator + eventID
}

// SplitProcessedKey splits a dedup key back into name and event id.
// Event ids may contain the separator; names may not.
func SplitProcessedKey(key string) (name, eventID string, ok bool) {
	name, eventID, ok = strings.Cut(key, KeySeparator)
	return name, eventID, ok
}

// ValidateKey returns ErrEmptyKey for an empty key.
func ValidateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}

// ExpiryFor returns the expiry instant for a key recorded at now with ttl.
// A non-positive ttl yields the zero time, meaning no expiry.
func ExpiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// CopyProcessedRecord creates a copy of a ProcessedRecord.
func CopyProcessedRecord(record *ProcessedRecord) *ProcessedRecord {
	if record == nil {
		return nil
	}
	cp := *record
	return &cp
}
