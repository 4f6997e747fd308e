package relay

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec turns envelopes into transport payloads and back.
type Codec interface {
	// Name identifies the codec, e.g. in a content-type header.
	Name() string

	// Encode serializes the envelope.
	Encode(env *Integration) ([]byte, error)

	// Decode parses a payload produced by Encode.
	Decode(b []byte) (*Integration, error)
}

// wireEnvelope is the JSON wire form {name, data, eventId}.
type wireEnvelope struct {
	Name    string              `json:"name"`
	Data    jsoniter.RawMessage `json:"data"`
	EventID string              `json:"eventId"`
}

// JSONCodec is the default Codec.
type JSONCodec struct{}

var _ Codec = JSONCodec{}

// Name returns "json".
func (JSONCodec) Name() string {
	return "json"
}

// ContentType returns the MIME type of the encoded payload.
func (JSONCodec) ContentType() string {
	return "application/json"
}

// Encode serializes the envelope as JSON.
func (JSONCodec) Encode(env *Integration) ([]byte, error) {
	if env == nil {
		return nil, ErrNilMessage
	}

	var data []byte
	if env.raw != nil && env.unmarshal != nil && jsonAPI.Valid(env.raw) {
		data = env.raw
	} else {
		var err error
		data, err = jsonAPI.Marshal(env.data)
		if err != nil {
			return nil, fmt.Errorf("relay: encode %s: %w", env.name, err)
		}
	}

	return jsonAPI.Marshal(wireEnvelope{
		Name:    env.name,
		Data:    data,
		EventID: env.eventID,
	})
}

// Decode parses a JSON envelope. Name and eventId are required.
func (JSONCodec) Decode(b []byte) (*Integration, error) {
	var w wireEnvelope
	if err := jsonAPI.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	env, err := NewRawIntegration(w.Name, w.EventID, []byte(w.Data), jsonAPI.Unmarshal)
	if err != nil {
		return nil, err
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}
