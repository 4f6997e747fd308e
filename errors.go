package relay

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AshkanYarmoradi/go-relay/adapters"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these errors.
var (
	// ErrValidationFailed indicates a command or query failed its field rules.
	ErrValidationFailed = errors.New("relay: validation failed")

	// ErrHandlerNotFound indicates no handler is registered for a message type.
	ErrHandlerNotFound = errors.New("relay: handler not found")

	// ErrHandlerPanicked indicates a handler panicked during execution.
	ErrHandlerPanicked = errors.New("relay: handler panicked")

	// ErrNilMessage indicates a nil command, query, event or envelope was passed.
	ErrNilMessage = errors.New("relay: nil message")

	// ErrDuplicateEntity indicates an insert for an id that already exists.
	ErrDuplicateEntity = errors.New("relay: entity already exists")

	// ErrEntityNotFound indicates the requested entity does not exist.
	ErrEntityNotFound = errors.New("relay: entity not found")

	// ErrTransport indicates a broker transport failed.
	ErrTransport = errors.New("relay: transport failure")

	// ErrBusClosed indicates the event bus has been closed.
	ErrBusClosed = errors.New("relay: event bus closed")

	// ErrInvalidEnvelope indicates an integration envelope could not be decoded or lacks name/eventId.
	ErrInvalidEnvelope = errors.New("relay: invalid integration envelope")

	// ErrUnexpectedType indicates a typed handler received a message of another type.
	ErrUnexpectedType = errors.New("relay: unexpected message type")

	// ErrAdapterClosed indicates the processed store has been closed.
	ErrAdapterClosed = adapters.ErrAdapterClosed
)

// ValidationError carries every failed field rule, keyed by field name.
type ValidationError struct {
	// MessageType is the command or query type that failed validation.
	MessageType string

	// Errors maps each field to its failure messages.
	Errors map[string][]string
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	fields := e.Fields()
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, strings.Join(e.Errors[f], ", ")))
	}
	return fmt.Sprintf("relay: validation failed for %q: %s", e.MessageType, strings.Join(parts, "; "))
}

// Is reports whether this error matches the target error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// Fields returns the failing field names in sorted order.
func (e *ValidationError) Fields() []string {
	fields := make([]string, 0, len(e.Errors))
	for f := range e.Errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// NewValidationError creates a new ValidationError.
func NewValidationError(msgType string, errs map[string][]string) *ValidationError {
	if errs == nil {
		errs = make(map[string][]string)
	}
	return &ValidationError{MessageType: msgType, Errors: errs}
}

// HandlerNotFoundError provides detailed information about a missing handler.
type HandlerNotFoundError struct {
	// Kind is "command" or "query".
	Kind        string
	MessageType string
}

// Error returns the error message.
func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("relay: no handler found for %s %q", e.Kind, e.MessageType)
}

// Is reports whether this error matches the target error.
func (e *HandlerNotFoundError) Is(target error) bool {
	return target == ErrHandlerNotFound
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *HandlerNotFoundError) Unwrap() error {
	return ErrHandlerNotFound
}

// NewHandlerNotFoundError creates a new HandlerNotFoundError.
func NewHandlerNotFoundError(kind, msgType string) *HandlerNotFoundError {
	return &HandlerNotFoundError{Kind: kind, MessageType: msgType}
}

// PanicError provides detailed information about a handler panic.
type PanicError struct {
	MessageType string
	Value       interface{}
	Stack       string
}

// Error returns the error message.
func (e *PanicError) Error() string {
	return fmt.Sprintf("relay: handler panicked while processing %q: %v", e.MessageType, e.Value)
}

// Is reports whether this error matches the target error.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanicked
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *PanicError) Unwrap() error {
	return ErrHandlerPanicked
}

// NewPanicError creates a new PanicError.
func NewPanicError(msgType string, value interface{}, stack string) *PanicError {
	return &PanicError{
		MessageType: msgType,
		Value:       value,
		Stack:       stack,
	}
}

// DuplicateEntityError is returned when inserting an id that is already stored.
type DuplicateEntityError struct {
	ID string
}

// Error returns the error message.
func (e *DuplicateEntityError) Error() string {
	return fmt.Sprintf("relay: entity with id %q already exists", e.ID)
}

// Is reports whether this error matches the target error.
func (e *DuplicateEntityError) Is(target error) bool {
	return target == ErrDuplicateEntity
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DuplicateEntityError) Unwrap() error {
	return ErrDuplicateEntity
}

// NewDuplicateEntityError creates a new DuplicateEntityError.
func NewDuplicateEntityError(id string) *DuplicateEntityError {
	return &DuplicateEntityError{ID: id}
}

// EntityNotFoundError is returned when a lookup or mutation targets a missing id.
type EntityNotFoundError struct {
	ID string
	// Op is the operation that failed: "find", "update" or "delete".
	Op string
}

// Error returns the error message.
func (e *EntityNotFoundError) Error() string {
	if e.Op == "" || e.Op == "find" {
		return fmt.Sprintf("relay: entity with id %q not found", e.ID)
	}
	return fmt.Sprintf("relay: entity with id %q not found for %s", e.ID, e.Op)
}

// Is reports whether this error matches the target error.
func (e *EntityNotFoundError) Is(target error) bool {
	return target == ErrEntityNotFound
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *EntityNotFoundError) Unwrap() error {
	return ErrEntityNotFound
}

// NewEntityNotFoundError creates a new EntityNotFoundError.
func NewEntityNotFoundError(id, op string) *EntityNotFoundError {
	return &EntityNotFoundError{ID: id, Op: op}
}

// TransportError wraps a broker failure with the transport name and the
// operation that failed (connect, publish, consume, ack, ...).
type TransportError struct {
	Transport string
	Op        string
	Err       error
}

// Error returns the error message.
func (e *TransportError) Error() string {
	return fmt.Sprintf("relay/%s: %s failed: %v", e.Transport, e.Op, e.Err)
}

// Is reports whether this error matches the target error.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new TransportError.
func NewTransportError(transport, op string, err error) *TransportError {
	return &TransportError{Transport: transport, Op: op, Err: err}
}
