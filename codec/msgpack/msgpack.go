// Package msgpack provides a MessagePack codec for relay integration envelopes.
//
// MessagePack produces smaller payloads than JSON while keeping the same
// schemaless shape, which suits high-throughput broker transports.
//
// Basic usage:
//
//	codec := msgpack.NewCodec()
//	t := kafka.New(kafka.WithConfig(transport.WithCodec(codec)))
//
// Payload structs are encoded with their json tags by default so the same
// types bind under both codecs.
package msgpack

import (
	"bytes"
	"fmt"

	"github.com/AshkanYarmoradi/go-relay"
	"github.com/vmihailenco/msgpack/v5"
)

// envelope is the MessagePack wire form {name, data, eventId}.
type envelope struct {
	Name    string             `msgpack:"name"`
	Data    msgpack.RawMessage `msgpack:"data"`
	EventID string             `msgpack:"eventId"`
}

// Codec is a MessagePack implementation of relay.Codec.
type Codec struct {
	structTag string
}

var _ relay.Codec = (*Codec)(nil)

// Option configures a Codec.
type Option func(*Codec)

// WithStructTag sets the struct tag used for field names. An empty tag
// falls back to the msgpack tag.
func WithStructTag(tag string) Option {
	return func(c *Codec) {
		c.structTag = tag
	}
}

// NewCodec creates a new MessagePack Codec that reads json struct tags.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{structTag: "json"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns "msgpack".
func (c *Codec) Name() string {
	return "msgpack"
}

// ContentType returns the MIME type of the encoded payload.
func (c *Codec) ContentType() string {
	return "application/msgpack"
}

// Encode serializes the envelope as MessagePack.
func (c *Codec) Encode(env *relay.Integration) ([]byte, error) {
	if env == nil {
		return nil, &CodecError{Name: "nil", Operation: "encode", Err: relay.ErrNilMessage}
	}

	data, err := c.marshal(env.Data())
	if err != nil {
		return nil, &CodecError{Name: env.Name(), Operation: "encode", Err: err}
	}

	b, err := c.marshal(envelope{Name: env.Name(), Data: data, EventID: env.EventID()})
	if err != nil {
		return nil, &CodecError{Name: env.Name(), Operation: "encode", Err: err}
	}
	return b, nil
}

// Decode parses a MessagePack envelope. Name and eventId are required.
func (c *Codec) Decode(b []byte) (*relay.Integration, error) {
	if len(b) == 0 {
		return nil, &CodecError{Operation: "decode", Err: fmt.Errorf("%w: empty payload", relay.ErrInvalidEnvelope)}
	}

	var w envelope
	if err := c.Unmarshal(b, &w); err != nil {
		return nil, &CodecError{Operation: "decode", Err: fmt.Errorf("%w: %v", relay.ErrInvalidEnvelope, err)}
	}

	env, err := relay.NewRawIntegration(w.Name, w.EventID, []byte(w.Data), c.Unmarshal)
	if err != nil {
		return nil, err
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

func (c *Codec) marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if c.structTag != "" {
		enc.SetCustomStructTag(c.structTag)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes MessagePack b into v using the codec's struct tag.
func (c *Codec) Unmarshal(b []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	if c.structTag != "" {
		dec.SetCustomStructTag(c.structTag)
	}
	return dec.Decode(v)
}

// CodecError represents an encoding or decoding failure.
type CodecError struct {
	Name      string
	Operation string // "encode" or "decode"
	Err       error
}

// Error implements the error interface.
func (e *CodecError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("relay/msgpack: failed to %s envelope: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("relay/msgpack: failed to %s envelope %s: %v", e.Operation, e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *CodecError) Unwrap() error {
	return e.Err
}
