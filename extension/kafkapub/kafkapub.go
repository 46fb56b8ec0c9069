// Package kafkapub provides a bus.OutboxHandler that produces outbox
// records to a Kafka topic using franz-go.
package kafkapub

import (
	"context"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/go-mbus/mbus/bus"
	"github.com/go-mbus/mbus/outbox"
)

// Header names attached to every produced record.
const (
	HeaderMessageName = "mbus-message-name"
	HeaderMessageKind = "mbus-message-kind"
)

// DefaultTopic maps an outbox record to the topic
// "mbus.<kind>.<message name>", e.g. "mbus.event.order_placed".
func DefaultTopic(record *outbox.Record) string {
	return fmt.Sprintf("mbus.%s.%s", strings.ToLower(record.Kind.String()), record.MessageName)
}

var _ bus.OutboxHandler = Publisher{}

// Publisher is a bus.OutboxHandler implementation that produces the
// payload of each outbox record to a Kafka topic.
//
// Production is synchronous: Handle returns once the broker
// acknowledged the record, so a failed produce keeps the outbox record
// unprocessed and redelivered on the next sweep. The record identifier
// is used as the partitioning key, keeping redeliveries of the same
// record on one partition.
type Publisher struct {
	Client *kgo.Client

	// Topic maps a record to its target topic.
	// Defaults to DefaultTopic when nil.
	Topic func(record *outbox.Record) string
}

// Handle implements the bus.OutboxHandler interface.
func (p Publisher) Handle(ctx context.Context, _ *bus.Shared, record *outbox.Record) error {
	topic := DefaultTopic
	if p.Topic != nil {
		topic = p.Topic
	}

	headers := []kgo.RecordHeader{
		{Key: HeaderMessageName, Value: []byte(record.MessageName)},
		{Key: HeaderMessageKind, Value: []byte(record.Kind.String())},
	}

	for key, value := range record.Metadata {
		headers = append(headers, kgo.RecordHeader{Key: key, Value: []byte(value)})
	}

	kafkaRecord := &kgo.Record{
		Topic:   topic(record),
		Key:     []byte(record.ID.String()),
		Value:   record.Payload,
		Headers: headers,
	}

	if err := p.Client.ProduceSync(ctx, kafkaRecord).FirstErr(); err != nil {
		return fmt.Errorf("kafkapub.Publisher: failed to produce record, %w", err)
	}

	return nil
}
