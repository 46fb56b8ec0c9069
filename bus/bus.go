// Package bus implements an in-process message dispatch engine with
// Command/Event separation, cascading message emission and an outbox sweep
// for reliable hand-off to external processing.
//
// The engine routes a message to its registered handlers, collects the
// messages those handlers emit, and processes the whole cascade to
// exhaustion in FIFO order: emissions are appended to the tail of the
// processing queue, so cascades are breadth-first, never depth-first.
package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-mbus/mbus/logger"
	"github.com/go-mbus/mbus/message"
)

// ErrNoCommandHandler is returned by Handle when the dispatched Command
// type has no registered handler. Commands have exactly one handler, and
// dispatching one without it is fatal for the whole Handle call.
var ErrNoCommandHandler = errors.New("bus: no command handler registered")

// ErrUnknownMessageKind is returned when a dispatched or emitted message
// reports a Kind outside the closed Event/Command taxonomy.
var ErrUnknownMessageKind = errors.New("bus: message is not an Event or Command type")

// Outcome is the per-handler-invocation result entry returned by Handle.
type Outcome struct {
	// Message is the Event or Command the handler was invoked with.
	Message message.Message

	// Result is the value the handler returned.
	Result any
}

// Dispatcher routes messages to their registered handlers and processes
// the resulting cascade. Implemented by Bus and ConcurrentBus.
type Dispatcher interface {
	Handle(ctx context.Context, msg message.Message) ([]Outcome, error)
	BatchHandle(ctx context.Context, msgs ...message.Message) ([]Outcome, error)
}

var _ Dispatcher = &Bus{}

// Bus is the sequential, single-threaded dispatch engine.
//
// The handler registry must be built before dispatch begins: Handle only
// reads it. Use NewBus to create a new instance, then register handlers
// with SetEventHandlers, SetCommandHandler and SetOutboxHandlers.
type Bus struct {
	// Logger, when set, receives debug and error entries about dispatch
	// progress and isolated handler failures.
	Logger logger.Logger

	eventHandlers   map[string][]EventHandler
	commandHandlers map[string]CommandHandler
	outboxHandlers  []OutboxHandler
}

// NewBus returns a new Bus with an empty handler registry.
func NewBus() *Bus {
	return &Bus{
		eventHandlers:   make(map[string][]EventHandler),
		commandHandlers: make(map[string]CommandHandler),
	}
}

// SetEventHandlers registers the ordered handler list for the Event type
// of the provided message, replacing any previous registration.
// Registration order is significant: it drives both invocation order in the
// sequential engine and result ordering in both engines.
func (b *Bus) SetEventHandlers(event message.Message, handlers ...EventHandler) error {
	if event.Kind() != message.KindEvent {
		return fmt.Errorf("bus.Bus: message '%s' is not an Event type", event.Name())
	}

	b.eventHandlers[event.Name()] = handlers

	return nil
}

// EventHandlers returns the handlers registered for the Event type
// of the provided message, in registration order.
func (b *Bus) EventHandlers(event message.Message) []EventHandler {
	return b.eventHandlers[event.Name()]
}

// SetCommandHandler registers the single handler for the Command type of
// the provided message, replacing any previous registration. A Command type
// maps to at most one handler.
func (b *Bus) SetCommandHandler(cmd message.Message, handler CommandHandler) error {
	if cmd.Kind() != message.KindCommand {
		return fmt.Errorf("bus.Bus: message '%s' is not a Command type", cmd.Name())
	}

	b.commandHandlers[cmd.Name()] = handler

	return nil
}

// CommandHandler returns the handler registered for the Command type
// of the provided message, if any.
func (b *Bus) CommandHandler(cmd message.Message) (CommandHandler, bool) {
	handler, ok := b.commandHandlers[cmd.Name()]
	return handler, ok
}

// SetOutboxHandlers registers the ordered handler list the outbox sweep
// runs every unprocessed record through, replacing any previous registration.
func (b *Bus) SetOutboxHandlers(handlers ...OutboxHandler) {
	b.outboxHandlers = handlers
}

// Handle dispatches the provided message and processes the whole cascade it
// causes, returning one Outcome per handler invocation in processing order.
//
// Events with no registered handlers are logged and produce zero outcomes.
// A failing event handler is logged and skipped, and its sibling handlers
// still run. A Command with no registered handler, or a failing command
// handler, aborts the whole call: no outcomes are returned.
func (b *Bus) Handle(ctx context.Context, msg message.Message) ([]Outcome, error) {
	return b.dispatch(ctx, NewShared(), msg)
}

// HandleShared behaves like Handle, with the caller supplying the Shared
// store visible to every handler of the call. A nil shared is replaced by
// a fresh store.
func (b *Bus) HandleShared(ctx context.Context, shared *Shared, msg message.Message) ([]Outcome, error) {
	if shared == nil {
		shared = NewShared()
	}

	return b.dispatch(ctx, shared, msg)
}

// BatchHandle sequentially dispatches each provided message in order and
// concatenates the outcomes. One Shared store spans the whole batch.
//
// The batch is all-or-nothing: the first fatal failure (a failing command
// cascade, an unregistered command, an out-of-taxonomy message) aborts the
// remaining entries and is returned, with no outcomes. Compare with
// ConcurrentBus.BatchHandle, which deliberately favors partial progress.
func (b *Bus) BatchHandle(ctx context.Context, msgs ...message.Message) ([]Outcome, error) {
	shared := NewShared()

	var outcomes []Outcome

	for _, msg := range msgs {
		result, err := b.dispatch(ctx, shared, msg)
		if err != nil {
			return nil, err
		}

		outcomes = append(outcomes, result...)
	}

	return outcomes, nil
}

func (b *Bus) dispatch(ctx context.Context, shared *Shared, msg message.Message) ([]Outcome, error) {
	queue := []message.Message{msg}

	var outcomes []Outcome

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		switch next.Kind() {
		case message.KindEvent:
			stepOutcomes, emitted := b.handleEvent(ctx, shared, next)
			outcomes = append(outcomes, stepOutcomes...)
			queue = append(queue, emitted...)

		case message.KindCommand:
			outcome, emitted, err := b.handleCommand(ctx, shared, next)
			if err != nil {
				return nil, err
			}

			outcomes = append(outcomes, outcome)
			queue = append(queue, emitted...)

		case message.KindUnspecified:
			fallthrough
		default:
			return nil, fmt.Errorf("bus.Bus: %w, '%s'", ErrUnknownMessageKind, next.Name())
		}
	}

	return outcomes, nil
}

// handleEvent invokes every handler registered for the event in
// registration order. Failures are isolated per handler: one bad subscriber
// cannot block its siblings nor abort the cascade.
func (b *Bus) handleEvent(
	ctx context.Context,
	shared *Shared,
	event message.Message,
) ([]Outcome, []message.Message) {
	handlers := b.eventHandlers[event.Name()]
	if len(handlers) == 0 {
		logger.Error(b.Logger, "no handlers registered for event",
			logger.With("event", event.Name()))

		return nil, nil
	}

	var (
		outcomes []Outcome
		emitted  []message.Message
	)

	for _, handler := range handlers {
		logger.Debug(b.Logger, "handling event",
			logger.With("event", event.Name()))

		result, messages, err := invokeEvent(ctx, shared, handler, event)
		if err != nil {
			logger.Error(b.Logger, "event handler failed",
				logger.With("event", event.Name()),
				logger.With("error", err))

			continue
		}

		outcomes = append(outcomes, Outcome{Message: event, Result: result})
		emitted = append(emitted, messages...)
	}

	return outcomes, emitted
}

// handleCommand invokes the single handler registered for the command.
// Commands are not isolated: a failing command handler is a failing
// Handle call.
func (b *Bus) handleCommand(
	ctx context.Context,
	shared *Shared,
	cmd message.Message,
) (Outcome, []message.Message, error) {
	handler, ok := b.commandHandlers[cmd.Name()]
	if !ok {
		return Outcome{}, nil, fmt.Errorf("bus.Bus: %w for '%s'", ErrNoCommandHandler, cmd.Name())
	}

	logger.Debug(b.Logger, "handling command",
		logger.With("command", cmd.Name()))

	result, emitted, err := invokeCommand(ctx, shared, handler, cmd)
	if err != nil {
		logger.Error(b.Logger, "command handler failed",
			logger.With("command", cmd.Name()),
			logger.With("error", err))

		return Outcome{}, nil, fmt.Errorf("bus.Bus: failed to handle command '%s', %w", cmd.Name(), err)
	}

	return Outcome{Message: cmd, Result: result}, emitted, nil
}
