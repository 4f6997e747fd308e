package memory

import (
	"github.com/AshkanYarmoradi/go-relay/adapters"
)

// Sentinel errors for the memory adapter.
// These are aliases to the adapters package errors for compatibility with errors.Is().
var (
	// ErrAdapterClosed is returned when an operation is attempted on a closed adapter.
	ErrAdapterClosed = adapters.ErrAdapterClosed

	// ErrEmptyKey is returned when an empty processed key is provided.
	ErrEmptyKey = adapters.ErrEmptyKey
)
