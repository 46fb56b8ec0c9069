package bus

import (
	"context"

	"github.com/go-mbus/mbus/message"
	"github.com/go-mbus/mbus/outbox"
)

// EventHandler is the contract for event subscribers.
//
// Handle returns the handler's result together with the messages it chose
// to emit during its own execution. Emitted messages are appended to the
// tail of the dispatch queue by the engine after the call returns, never
// dispatched directly — see the Emitter helper for accumulating them.
type EventHandler interface {
	Handle(ctx context.Context, shared *Shared, event message.Message) (any, []message.Message, error)
}

// EventHandlerFunc allows a bare function to act as an EventHandler.
// Functional handlers have no lifecycle hooks and cannot emit messages.
type EventHandlerFunc func(ctx context.Context, shared *Shared, event message.Message) (any, error)

// Handle implements the bus.EventHandler interface.
func (fn EventHandlerFunc) Handle(
	ctx context.Context,
	shared *Shared,
	event message.Message,
) (any, []message.Message, error) {
	result, err := fn(ctx, shared, event)
	return result, nil, err
}

// CommandHandler is the contract for the single handler of a Command type.
//
// Handle returns the handler's result together with the messages it chose
// to emit during its own execution, like bus.EventHandler.
type CommandHandler interface {
	Handle(ctx context.Context, shared *Shared, cmd message.Message) (any, []message.Message, error)
}

// CommandHandlerFunc allows a bare function to act as a CommandHandler.
// Functional handlers have no lifecycle hooks and cannot emit messages.
type CommandHandlerFunc func(ctx context.Context, shared *Shared, cmd message.Message) (any, error)

// Handle implements the bus.CommandHandler interface.
func (fn CommandHandlerFunc) Handle(
	ctx context.Context,
	shared *Shared,
	cmd message.Message,
) (any, []message.Message, error) {
	result, err := fn(ctx, shared, cmd)
	return result, nil, err
}

// OutboxHandler processes one durable outbox Record during a sweep.
type OutboxHandler interface {
	Handle(ctx context.Context, shared *Shared, record *outbox.Record) error
}

// OutboxHandlerFunc allows a bare function to act as an OutboxHandler.
type OutboxHandlerFunc func(ctx context.Context, shared *Shared, record *outbox.Record) error

// Handle implements the bus.OutboxHandler interface.
func (fn OutboxHandlerFunc) Handle(ctx context.Context, shared *Shared, record *outbox.Record) error {
	return fn(ctx, shared, record)
}

// BeforeHandler is an optional handler capability, detected by the engine
// at call time. BeforeHandle runs before the handler's Handle method; an
// error returned here counts as a handler failure, and Handle is not called.
type BeforeHandler interface {
	BeforeHandle(ctx context.Context, shared *Shared) error
}

// AfterHandler is an optional handler capability, detected by the engine
// at call time. AfterHandle runs after the handler's Handle method returned,
// whether it failed or not (guaranteed-release semantics).
//
// AfterHandle does not run when a BeforeHandle hook failed first.
type AfterHandler interface {
	AfterHandle(ctx context.Context, shared *Shared)
}

// Emitter accumulates the messages a handler decides to emit during one
// invocation. Use a fresh Emitter per Handle call and return Messages() as
// the emitted sequence, so that no emission leaks across unrelated calls.
type Emitter struct {
	messages []message.Message
}

// Emit appends the provided messages to the emission buffer.
func (e *Emitter) Emit(msgs ...message.Message) {
	e.messages = append(e.messages, msgs...)
}

// Messages returns the accumulated emissions in emission order.
func (e *Emitter) Messages() []message.Message {
	return e.messages
}

// invokeEvent runs the full lifecycle of a single event handler invocation.
func invokeEvent(
	ctx context.Context,
	shared *Shared,
	handler EventHandler,
	event message.Message,
) (any, []message.Message, error) {
	if before, ok := handler.(BeforeHandler); ok {
		if err := before.BeforeHandle(ctx, shared); err != nil {
			return nil, nil, err
		}
	}

	if after, ok := handler.(AfterHandler); ok {
		defer after.AfterHandle(ctx, shared)
	}

	return handler.Handle(ctx, shared, event)
}

// invokeCommand runs the full lifecycle of a single command handler invocation.
func invokeCommand(
	ctx context.Context,
	shared *Shared,
	handler CommandHandler,
	cmd message.Message,
) (any, []message.Message, error) {
	if before, ok := handler.(BeforeHandler); ok {
		if err := before.BeforeHandle(ctx, shared); err != nil {
			return nil, nil, err
		}
	}

	if after, ok := handler.(AfterHandler); ok {
		defer after.AfterHandle(ctx, shared)
	}

	return handler.Handle(ctx, shared, cmd)
}

// invokeOutbox runs the full lifecycle of a single outbox handler invocation.
func invokeOutbox(
	ctx context.Context,
	shared *Shared,
	handler OutboxHandler,
	record *outbox.Record,
) error {
	if before, ok := handler.(BeforeHandler); ok {
		if err := before.BeforeHandle(ctx, shared); err != nil {
			return err
		}
	}

	if after, ok := handler.(AfterHandler); ok {
		defer after.AfterHandle(ctx, shared)
	}

	return handler.Handle(ctx, shared, record)
}
