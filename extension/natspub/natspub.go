// Package natspub provides a bus.OutboxHandler that publishes outbox
// records to a NATS subject.
package natspub

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/go-mbus/mbus/bus"
	"github.com/go-mbus/mbus/outbox"
)

// Header names attached to every published message.
const (
	HeaderRecordID    = "Mbus-Record-Id"
	HeaderMessageName = "Mbus-Message-Name"
	HeaderMessageKind = "Mbus-Message-Kind"
)

// DefaultSubject maps an outbox record to the subject
// "mbus.<kind>.<message name>", e.g. "mbus.event.order_placed".
func DefaultSubject(record *outbox.Record) string {
	return fmt.Sprintf("mbus.%s.%s", strings.ToLower(record.Kind.String()), record.MessageName)
}

var _ bus.OutboxHandler = Publisher{}

// Publisher is a bus.OutboxHandler implementation that publishes the
// payload of each outbox record to a NATS subject.
//
// Register it with bus.Bus.SetOutboxHandlers so that the outbox sweep
// hands records to the broker; a failed publish keeps the record
// unprocessed and redelivered on the next sweep.
type Publisher struct {
	Conn *nats.Conn

	// Subject maps a record to its target subject.
	// Defaults to DefaultSubject when nil.
	Subject func(record *outbox.Record) string
}

// Handle implements the bus.OutboxHandler interface.
func (p Publisher) Handle(_ context.Context, _ *bus.Shared, record *outbox.Record) error {
	subject := DefaultSubject
	if p.Subject != nil {
		subject = p.Subject
	}

	msg := &nats.Msg{
		Subject: subject(record),
		Data:    record.Payload,
		Header: nats.Header{
			HeaderRecordID:    []string{record.ID.String()},
			HeaderMessageName: []string{record.MessageName},
			HeaderMessageKind: []string{record.Kind.String()},
		},
	}

	for key, value := range record.Metadata {
		msg.Header.Add(key, value)
	}

	if err := p.Conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("natspub.Publisher: failed to publish record, %w", err)
	}

	if err := p.Conn.Flush(); err != nil {
		return fmt.Errorf("natspub.Publisher: failed to flush connection, %w", err)
	}

	return nil
}
