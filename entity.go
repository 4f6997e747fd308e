package relay

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Entity is a persistent domain object that accumulates domain events until
// the publish pipeline drains them.
type Entity interface {
	// ID returns the entity's immutable unique identifier.
	ID() string

	// DomainEvents returns the pending events in the order they were added.
	DomainEvents() []DomainEvent

	// ClearDomainEvents empties the pending queue.
	ClearDomainEvents()
}

// EntityBase provides a default implementation of Entity.
// Embed it by value in your entity types and always use the entity by pointer.
// The event queue is not safe for concurrent mutation; an entity belongs to
// the goroutine handling the current command.
type EntityBase struct {
	EntityID  string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	domainEvents []DomainEvent
}

// NewEntityBase creates an EntityBase with a fresh UUID and both timestamps set to now.
func NewEntityBase() EntityBase {
	now := time.Now()
	return EntityBase{
		EntityID:  uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RestoreEntityBase rebuilds an EntityBase from stored values, e.g. in a hydrator.
func RestoreEntityBase(id string, createdAt, updatedAt time.Time) EntityBase {
	return EntityBase{
		EntityID:  id,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
}

// ID returns the entity's unique identifier.
func (e *EntityBase) ID() string {
	return e.EntityID
}

// Touch sets UpdatedAt to now.
func (e *EntityBase) Touch() {
	e.UpdatedAt = time.Now()
}

// AddDomainEvent appends an event to the pending queue.
func (e *EntityBase) AddDomainEvent(event DomainEvent) {
	if event == nil {
		return
	}
	e.domainEvents = append(e.domainEvents, event)
}

// RemoveDomainEvent removes the first pending event equal to event.
// It reports whether an event was removed.
func (e *EntityBase) RemoveDomainEvent(event DomainEvent) bool {
	for i, pending := range e.domainEvents {
		if sameEvent(pending, event) {
			e.domainEvents = append(e.domainEvents[:i:i], e.domainEvents[i+1:]...)
			return true
		}
	}
	return false
}

// DomainEvents returns a copy of the pending events.
func (e *EntityBase) DomainEvents() []DomainEvent {
	if len(e.domainEvents) == 0 {
		return nil
	}
	events := make([]DomainEvent, len(e.domainEvents))
	copy(events, e.domainEvents)
	return events
}

// HasDomainEvents returns true if events are waiting to be published.
func (e *EntityBase) HasDomainEvents() bool {
	return len(e.domainEvents) > 0
}

// ClearDomainEvents empties the pending queue.
func (e *EntityBase) ClearDomainEvents() {
	e.domainEvents = nil
}

// sameEvent compares events without panicking on non-comparable dynamic types.
func sameEvent(a, b DomainEvent) bool {
	if a == nil || b == nil {
		return a == b
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
