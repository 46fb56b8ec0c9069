// Package outbox implements the durable staging area where messages are
// recorded before or during processing, enabling replay if processing is
// interrupted (at-least-once delivery).
//
// A Record is registered through a Repository before in-process dispatch
// side effects are committed, typically from within a handler, and is
// replayed later by the bus outbox sweep (see bus.Bus.ProcessOutbox).
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/go-mbus/mbus/message"
	"github.com/go-mbus/mbus/serde"
)

// Record is the durable envelope registered for a message.
//
// Processed is reported by the Repository: a Record stays unprocessed, and
// keeps being returned by Repository.ListUnprocessed, until every registered
// outbox handler has succeeded for it.
type Record struct {
	ID          uuid.UUID
	Kind        message.Kind
	MessageName string
	Payload     []byte
	Metadata    message.Metadata
	Processed   bool
	CreatedAt   time.Time
}

// RegisterOption can be used to change how Register builds a Record.
type RegisterOption func(*Record)

// WithID supplies the unique identifier for the Record, instead of
// generating a new one.
func WithID(id uuid.UUID) RegisterOption {
	return func(record *Record) { record.ID = id }
}

// WithMetadata attaches optional metadata to the Record.
func WithMetadata(metadata message.Metadata) RegisterOption {
	return func(record *Record) { record.Metadata = metadata }
}

// Register classifies the provided message, builds an outbox Record carrying
// its serialized payload, and hands it to the Repository.
//
// Register performs no dispatch of its own: it is meant to be callable from
// within a handler's execution, so that the Record is written in the same
// unit of work as the handler's other side effects and survives a later
// in-process dispatch failure.
//
// An error is returned if the message reports a Kind outside the
// Event/Command taxonomy, if serialization fails, or if the Repository
// refuses the Record.
func Register(
	ctx context.Context,
	repo Repository,
	serializer serde.Serializer[message.Message, []byte],
	msg message.Message,
	options ...RegisterOption,
) (*Record, error) {
	kind := msg.Kind()
	if kind != message.KindEvent && kind != message.KindCommand {
		return nil, fmt.Errorf("outbox.Register: message '%s' is not an Event or Command type", msg.Name())
	}

	payload, err := serializer.Serialize(msg)
	if err != nil {
		return nil, fmt.Errorf("outbox.Register: failed to serialize message payload, %w", err)
	}

	record := &Record{
		Kind:        kind,
		MessageName: msg.Name(),
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}

	for _, option := range options {
		option(record)
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if err := repo.Add(ctx, record); err != nil {
		return nil, fmt.Errorf("outbox.Register: failed to add record to repository, %w", err)
	}

	return record, nil
}
