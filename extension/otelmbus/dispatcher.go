// Package otelmbus provides OpenTelemetry instrumentation
// for the mbus dispatch engine.
package otelmbus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-mbus/mbus/bus"
	"github.com/go-mbus/mbus/message"
)

var _ bus.Dispatcher = &InstrumentedDispatcher{}

// InstrumentedDispatcher wraps a bus.Dispatcher instance to provide
// telemetry support using OpenTelemetry, and is compatible with the same
// interface to be used seamlessly in your pre-existing code.
//
// Use InstrumentDispatcher to create a new instance of this type.
type InstrumentedDispatcher struct {
	meter      metric.Meter
	tracer     trace.Tracer
	dispatcher bus.Dispatcher

	count    metric.Int64Counter
	duration metric.Int64Histogram
}

func (id *InstrumentedDispatcher) registerMetrics() error {
	var err error

	if id.count, err = id.meter.Int64Counter(
		"mbus.dispatch.count",
		metric.WithDescription("Count of dispatch operations performed"),
	); err != nil {
		return fmt.Errorf("otelmbus: failed to register metric: %w", err)
	}

	if id.duration, err = id.meter.Int64Histogram(
		"mbus.dispatch.duration.milliseconds",
		metric.WithUnit("ms"),
		metric.WithDescription("Duration in milliseconds of dispatch operations performed"),
	); err != nil {
		return fmt.Errorf("otelmbus: failed to register metric: %w", err)
	}

	return nil
}

// InstrumentDispatcher creates a new InstrumentedDispatcher instance.
func InstrumentDispatcher(dispatcher bus.Dispatcher, opts ...Option) (*InstrumentedDispatcher, error) {
	cfg := newConfig(opts...)

	instrumented := &InstrumentedDispatcher{
		meter:      cfg.meter(),
		tracer:     cfg.tracer(),
		dispatcher: dispatcher,
	}

	if err := instrumented.registerMetrics(); err != nil {
		return nil, err
	}

	return instrumented, nil
}

func (id *InstrumentedDispatcher) report(
	ctx context.Context,
	start time.Time,
	err error,
	attributes ...attribute.KeyValue,
) {
	id.duration.Record(ctx, time.Since(start).Milliseconds(), metric.WithAttributes(attributes...))
	id.count.Add(ctx, 1, metric.WithAttributes(
		append(attributes, ErrorAttribute.Bool(err != nil))...,
	))
}

// Handle delegates the call to the underlying Dispatcher and records
// a trace and metrics of the result.
func (id *InstrumentedDispatcher) Handle(ctx context.Context, msg message.Message) (_ []bus.Outcome, err error) {
	attributes := []attribute.KeyValue{
		MessageNameAttribute.String(msg.Name()),
		MessageKindAttribute.String(strings.ToLower(msg.Kind().String())),
	}

	start := time.Now()
	defer func() { id.report(ctx, start, err, attributes...) }()

	ctx, span := id.tracer.Start(ctx, HandleSpanName, trace.WithAttributes(attributes...))
	defer span.End()

	outcomes, err := id.dispatcher.Handle(ctx, msg)
	if err != nil {
		span.RecordError(err)
	} else {
		span.SetAttributes(OutcomesAttribute.Int(len(outcomes)))
	}

	return outcomes, err
}

// BatchHandle delegates the call to the underlying Dispatcher and records
// a trace and metrics of the result.
func (id *InstrumentedDispatcher) BatchHandle(
	ctx context.Context,
	msgs ...message.Message,
) (_ []bus.Outcome, err error) {
	attributes := []attribute.KeyValue{
		BatchSizeAttribute.Int(len(msgs)),
	}

	start := time.Now()
	defer func() { id.report(ctx, start, err, attributes...) }()

	ctx, span := id.tracer.Start(ctx, BatchHandleSpanName, trace.WithAttributes(attributes...))
	defer span.End()

	outcomes, err := id.dispatcher.BatchHandle(ctx, msgs...)
	if err != nil {
		span.RecordError(err)
	} else {
		span.SetAttributes(OutcomesAttribute.Int(len(outcomes)))
	}

	return outcomes, err
}
