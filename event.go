package relay

import "time"

// DomainEvent is a timestamped fact recorded by one entity and delivered
// in-process when the entity's events are published.
type DomainEvent interface {
	// EventType returns the stable type identifier used to find handlers.
	EventType() string

	// OccurredAt returns when the fact happened.
	OccurredAt() time.Time
}

// EventBase stamps the occurrence time. Embed it in domain event structs and
// add an EventType method.
type EventBase struct {
	Timestamp time.Time `json:"occurredAt"`
}

// NewEventBase returns an EventBase stamped with the current time.
func NewEventBase() EventBase {
	return EventBase{Timestamp: time.Now()}
}

// OccurredAt returns when the event happened.
func (e EventBase) OccurredAt() time.Time {
	return e.Timestamp
}
