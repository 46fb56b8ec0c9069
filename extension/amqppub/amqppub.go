// Package amqppub provides a bus.OutboxHandler that publishes outbox
// records to an AMQP 0.9.1 exchange (e.g. RabbitMQ).
package amqppub

import (
	"context"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/go-mbus/mbus/bus"
	"github.com/go-mbus/mbus/outbox"
)

// Header names attached to every published message.
const (
	HeaderMessageName = "mbus-message-name"
	HeaderMessageKind = "mbus-message-kind"
)

// DefaultRoutingKey maps an outbox record to the routing key
// "mbus.<kind>.<message name>", e.g. "mbus.command.place_order".
func DefaultRoutingKey(record *outbox.Record) string {
	return fmt.Sprintf("mbus.%s.%s", strings.ToLower(record.Kind.String()), record.MessageName)
}

var _ bus.OutboxHandler = Publisher{}

// Publisher is a bus.OutboxHandler implementation that publishes the
// payload of each outbox record to an AMQP exchange.
//
// A failed publish keeps the record unprocessed, so the outbox sweep
// redelivers it on the next pass.
type Publisher struct {
	Channel *amqp.Channel

	// Exchange is the target exchange name. The empty string addresses
	// the AMQP default exchange.
	Exchange string

	// RoutingKey maps a record to its routing key.
	// Defaults to DefaultRoutingKey when nil.
	RoutingKey func(record *outbox.Record) string

	// ContentType advertised on published messages.
	// Defaults to "application/json".
	ContentType string
}

// Handle implements the bus.OutboxHandler interface.
func (p Publisher) Handle(ctx context.Context, _ *bus.Shared, record *outbox.Record) error {
	routingKey := DefaultRoutingKey
	if p.RoutingKey != nil {
		routingKey = p.RoutingKey
	}

	contentType := p.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	headers := amqp.Table{
		HeaderMessageName: record.MessageName,
		HeaderMessageKind: record.Kind.String(),
	}

	for key, value := range record.Metadata {
		headers[key] = value
	}

	err := p.Channel.PublishWithContext(
		ctx,
		p.Exchange,
		routingKey(record),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			MessageId:   record.ID.String(),
			Timestamp:   record.CreatedAt,
			ContentType: contentType,
			Headers:     headers,
			Body:        record.Payload,
		},
	)
	if err != nil {
		return fmt.Errorf("amqppub.Publisher: failed to publish record, %w", err)
	}

	return nil
}
