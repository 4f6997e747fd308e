// Package protobuf provides a Protocol Buffers codec for relay integration
// envelopes.
//
// The envelope travels as a google.protobuf.Struct with the fields name,
// eventId and data, so consumers in any language can read it without a
// shared schema. Payloads that are proto.Message values are converted
// through their protojson form; anything else through its JSON form.
//
// Usage:
//
//	codec := protobuf.NewCodec()
//	t := rabbitmq.New(rabbitmq.WithConfig(transport.WithCodec(codec)))
package protobuf

import (
	"errors"
	"fmt"

	"github.com/AshkanYarmoradi/go-relay"
	jsoniter "github.com/json-iterator/go"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Envelope field names.
const (
	FieldName    = "name"
	FieldEventID = "eventId"
	FieldData    = "data"
)

// ErrNotStruct indicates the payload did not decode to a protobuf Struct.
var ErrNotStruct = errors.New("relay/protobuf: payload is not a google.protobuf.Struct")

// CodecError provides detailed error information for codec failures.
type CodecError struct {
	// Name is the envelope name, empty when it could not be read.
	Name string

	// Operation is either "encode" or "decode".
	Operation string

	// Cause is the underlying error.
	Cause error
}

// Error returns the error message.
func (e *CodecError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("relay/protobuf: failed to %s envelope: %v", e.Operation, e.Cause)
	}
	return fmt.Sprintf("relay/protobuf: failed to %s envelope %s: %v", e.Operation, e.Name, e.Cause)
}

// Unwrap returns the underlying error.
func (e *CodecError) Unwrap() error {
	return e.Cause
}

// Codec implements relay.Codec using Protocol Buffers.
type Codec struct{}

var _ relay.Codec = (*Codec)(nil)

// NewCodec creates a new Protocol Buffers codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Name returns "protobuf".
func (c *Codec) Name() string {
	return "protobuf"
}

// ContentType returns the MIME type of the encoded payload.
func (c *Codec) ContentType() string {
	return "application/x-protobuf"
}

// Encode serializes the envelope as a binary google.protobuf.Struct.
func (c *Codec) Encode(env *relay.Integration) ([]byte, error) {
	if env == nil {
		return nil, &CodecError{Operation: "encode", Cause: relay.ErrNilMessage}
	}

	data, err := toValue(env.Data())
	if err != nil {
		return nil, &CodecError{Name: env.Name(), Operation: "encode", Cause: err}
	}

	s := &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldName:    structpb.NewStringValue(env.Name()),
		FieldEventID: structpb.NewStringValue(env.EventID()),
		FieldData:    data,
	}}

	b, err := proto.Marshal(s)
	if err != nil {
		return nil, &CodecError{Name: env.Name(), Operation: "encode", Cause: err}
	}
	return b, nil
}

// Decode parses a binary google.protobuf.Struct envelope. Name and eventId
// are required. Bind on the result decodes data through its JSON form.
//
// Note: an empty payload decodes to an empty Struct, which then fails
// validation for lack of a name.
func (c *Codec) Decode(b []byte) (*relay.Integration, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, &CodecError{Operation: "decode", Cause: fmt.Errorf("%w: %v", relay.ErrInvalidEnvelope, err)}
	}

	name := s.Fields[FieldName].GetStringValue()
	eventID := s.Fields[FieldEventID].GetStringValue()

	var raw []byte
	if v, ok := s.Fields[FieldData]; ok {
		var err error
		raw, err = json.Marshal(v.AsInterface())
		if err != nil {
			return nil, &CodecError{Name: name, Operation: "decode", Cause: fmt.Errorf("%w: %v", relay.ErrInvalidEnvelope, err)}
		}
	}

	env, err := relay.NewRawIntegration(name, eventID, raw, json.Unmarshal)
	if err != nil {
		return nil, err
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// toValue converts a payload into a structpb.Value via its JSON form.
func toValue(data interface{}) (*structpb.Value, error) {
	if data == nil {
		return structpb.NewNullValue(), nil
	}

	var b []byte
	var err error
	if msg, ok := data.(proto.Message); ok {
		b, err = protojson.Marshal(msg)
	} else {
		b, err = json.Marshal(data)
	}
	if err != nil {
		return nil, err
	}

	var generic interface{}
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, err
	}
	return structpb.NewValue(generic)
}
