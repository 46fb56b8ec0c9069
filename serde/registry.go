package serde

import (
	"fmt"
	"reflect"

	"github.com/go-mbus/mbus/message"
)

// DecodeFunc is a function that decodes a raw payload into a Go value,
// which is passed here by reference (typically a pointer to a zero value).
type DecodeFunc func(data []byte, v interface{}) error

// Registry maps message type names to their Go types, so that a raw payload
// can be deserialized back into a concrete message.Message value knowing only
// its type name — the form in which messages come back from an outbox record.
//
// Given the current limitation of Go with generics, the only way to provide
// type information for deserialization by name is to use reflection over
// registered message prototypes.
type Registry struct {
	decode            DecodeFunc
	messageNameToType map[string]reflect.Type
}

// NewRegistry creates a new registry for deserializing message types, using
// the provided decode function (e.g. json.Unmarshal).
//
// An error is returned if the decode function is nil.
func NewRegistry(decode DecodeFunc) (*Registry, error) {
	if decode == nil {
		return nil, fmt.Errorf("serde.Registry: invalid decode function provided")
	}

	return &Registry{
		decode:            decode,
		messageNameToType: make(map[string]reflect.Type),
	}, nil
}

// Register adds the type information to this registry for all the provided
// message prototypes.
//
// An error is returned if any of the provided messages is nil, or if two
// different message types with the same name identifier have been provided.
func (r *Registry) Register(messages ...message.Message) error {
	for _, msg := range messages {
		if msg == nil {
			return fmt.Errorf("serde.Registry: expected message type, nil was provided instead")
		}

		name := msg.Name()
		typ := reflect.TypeOf(msg)

		if registeredType, ok := r.messageNameToType[name]; ok {
			if registeredType == typ {
				continue
			}

			return fmt.Errorf("serde.Registry: message '%s' has been already registered with a different type", name)
		}

		r.messageNameToType[name] = typ
	}

	return nil
}

// Deserialize attempts to deserialize a raw payload with the type referenced
// by the supplied message type name.
//
// Decoding failures, unregistered message names included, wrap serde.ErrDeserialize.
func (r *Registry) Deserialize(name string, payload []byte) (message.Message, error) {
	typ, ok := r.messageNameToType[name]
	if !ok {
		return nil, fmt.Errorf("serde.Registry: %w, unregistered message '%s'", ErrDeserialize, name)
	}

	vp := reflect.New(typ)
	if err := r.decode(payload, vp.Interface()); err != nil {
		return nil, fmt.Errorf("serde.Registry: %w, %w", ErrDeserialize, err)
	}

	msg, ok := vp.Elem().Interface().(message.Message)
	if !ok {
		return nil, fmt.Errorf("serde.Registry: %w, decoded value is not a message", ErrDeserialize)
	}

	return msg, nil
}
