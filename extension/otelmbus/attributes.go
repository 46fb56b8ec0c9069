package otelmbus

import "go.opentelemetry.io/otel/attribute"

// Span names used by the instrumented dispatcher.
const (
	HandleSpanName      = "Dispatcher.Handle"
	BatchHandleSpanName = "Dispatcher.BatchHandle"
)

var (
	// ErrorAttribute is used with a metric when an error is recorded.
	ErrorAttribute = attribute.Key("error")

	// MessageNameAttribute is the attribute identifier that contains
	// the name of the dispatched message.
	MessageNameAttribute = attribute.Key("message.name")

	// MessageKindAttribute is the attribute identifier that contains
	// the kind of the dispatched message (event or command).
	MessageKindAttribute = attribute.Key("message.kind")

	// BatchSizeAttribute is the attribute identifier that contains
	// the number of messages submitted in a batch dispatch.
	BatchSizeAttribute = attribute.Key("batch.size")

	// OutcomesAttribute is the attribute identifier that contains the number
	// of outcome entries produced by a dispatch cascade.
	OutcomesAttribute = attribute.Key("outcomes.count")
)
