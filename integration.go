package relay

import (
	"fmt"
	"reflect"

	"github.com/AshkanYarmoradi/go-relay/adapters"
	"github.com/google/uuid"
)

// Integration is a cross-process event envelope {name, data, eventId}.
// It is immutable once created; name:eventId is its dedup key.
type Integration struct {
	name    string
	eventID string
	data    interface{}

	// raw holds the undecoded payload of an envelope read from a transport.
	raw       []byte
	unmarshal func([]byte, interface{}) error
}

// NewIntegration creates an envelope with a freshly generated event id.
func NewIntegration(name string, data interface{}) *Integration {
	return NewIntegrationWithID(name, uuid.NewString(), data)
}

// NewIntegrationWithID creates an envelope with a caller-chosen event id,
// for producers that derive ids from business keys.
func NewIntegrationWithID(name, eventID string, data interface{}) *Integration {
	return &Integration{name: name, eventID: eventID, data: data}
}

// NewRawIntegration creates an envelope around an encoded payload. The
// payload is decoded once into a generic value for Data; Bind decodes it
// again into a typed value with unmarshal.
func NewRawIntegration(name, eventID string, raw []byte, unmarshal func([]byte, interface{}) error) (*Integration, error) {
	env := &Integration{name: name, eventID: eventID, raw: raw, unmarshal: unmarshal}
	if len(raw) > 0 && unmarshal != nil {
		var generic interface{}
		if err := unmarshal(raw, &generic); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEnvelope, name, err)
		}
		env.data = generic
	}
	return env, nil
}

// Name returns the integration event name used for routing.
func (e *Integration) Name() string {
	return e.name
}

// EventID returns the per-envelope identifier.
func (e *Integration) EventID() string {
	return e.eventID
}

// Data returns the payload. Envelopes read from a transport carry the
// generic decoded form (maps, slices, float64, string, bool).
func (e *Integration) Data() interface{} {
	return e.data
}

// Raw returns the encoded payload for transport-read envelopes, or nil.
func (e *Integration) Raw() []byte {
	return e.raw
}

// Key returns the dedup key name:eventId.
func (e *Integration) Key() string {
	return adapters.ProcessedKey(e.name, e.eventID)
}

// Validate checks that the envelope can be routed and deduplicated.
func (e *Integration) Validate() error {
	if e.name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEnvelope)
	}
	if e.eventID == "" {
		return fmt.Errorf("%w: eventId is required", ErrInvalidEnvelope)
	}
	return nil
}

// Bind decodes the payload into v, which must be a non-nil pointer.
func (e *Integration) Bind(v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("relay: bind target must be a non-nil pointer, got %T", v)
	}

	if e.raw != nil && e.unmarshal != nil {
		return e.unmarshal(e.raw, v)
	}

	if e.data == nil {
		return nil
	}

	dv := reflect.ValueOf(e.data)
	target := rv.Elem()
	if dv.Type().AssignableTo(target.Type()) {
		target.Set(dv)
		return nil
	}
	if dv.Kind() == reflect.Ptr && !dv.IsNil() && dv.Elem().Type().AssignableTo(target.Type()) {
		target.Set(dv.Elem())
		return nil
	}

	b, err := jsonAPI.Marshal(e.data)
	if err != nil {
		return fmt.Errorf("relay: bind %s: %w", e.name, err)
	}
	return jsonAPI.Unmarshal(b, v)
}

// String returns the dedup key.
func (e *Integration) String() string {
	return e.Key()
}

// MarshalJSON encodes the envelope in its wire form.
func (e *Integration) MarshalJSON() ([]byte, error) {
	return JSONCodec{}.Encode(e)
}

// UnmarshalJSON decodes the wire form into e.
func (e *Integration) UnmarshalJSON(b []byte) error {
	decoded, err := JSONCodec{}.Decode(b)
	if err != nil {
		return err
	}
	*e = *decoded
	return nil
}
