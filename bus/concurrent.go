package bus

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/go-mbus/mbus/logger"
	"github.com/go-mbus/mbus/message"
)

// DefaultMaxConcurrency is the bounded pool size used by
// ConcurrentBus.BatchHandle when MaxConcurrency is left unset.
const DefaultMaxConcurrency = 5

var _ Dispatcher = &ConcurrentBus{}

// ConcurrentBus is the parallel-execution variant of the dispatch engine,
// layered on the same registry and cascade semantics as Bus.
//
// Event fan-out within one queue step runs all registered handlers for that
// event concurrently, joining before the next queue entry is processed;
// FIFO ordering across queue steps stays exact. Batch submission runs a
// bounded pool of concurrent workers.
type ConcurrentBus struct {
	*Bus

	// MaxConcurrency bounds the number of in-flight cascades during
	// BatchHandle. Defaults to DefaultMaxConcurrency when zero.
	MaxConcurrency int
}

// NewConcurrentBus returns a new ConcurrentBus with an empty handler registry.
func NewConcurrentBus() *ConcurrentBus {
	return &ConcurrentBus{Bus: NewBus()}
}

// Handle dispatches the provided message like Bus.Handle, but runs the
// handlers of each event queue step concurrently. Result aggregation
// preserves handler registration order.
//
// If any handler of an event's fan-out group fails, the failure is logged
// and that event step yields no outcomes, while the queue loop continues.
// A session entry in the Shared store is closed at the end of every event
// fan-out step.
func (b *ConcurrentBus) Handle(ctx context.Context, msg message.Message) ([]Outcome, error) {
	return b.dispatchConcurrent(ctx, NewShared(), msg)
}

// HandleShared behaves like Handle, with the caller supplying the Shared
// store visible to every handler of the call. A nil shared is replaced by
// a fresh store.
func (b *ConcurrentBus) HandleShared(
	ctx context.Context,
	shared *Shared,
	msg message.Message,
) ([]Outcome, error) {
	if shared == nil {
		shared = NewShared()
	}

	return b.dispatchConcurrent(ctx, shared, msg)
}

// BatchHandle submits all provided messages to a bounded pool of concurrent
// workers (MaxConcurrency wide); each worker runs the full single-message
// cascade. One Shared store spans the whole batch.
//
// Differently from Bus.BatchHandle, per-entry failures are captured and
// logged, and the failed entries' outcomes are simply excluded from the
// returned results: one bad entry never aborts its siblings. Cancelling ctx
// stops new entries from being picked up, and in-flight cascades observe
// the cancellation through their handlers.
func (b *ConcurrentBus) BatchHandle(ctx context.Context, msgs ...message.Message) ([]Outcome, error) {
	maxConcurrency := b.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	shared := NewShared()
	results := make([][]Outcome, len(msgs))

	var group errgroup.Group
	group.SetLimit(maxConcurrency)

	for i, msg := range msgs {
		if ctx.Err() != nil {
			break
		}

		group.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			outcomes, err := b.dispatchConcurrent(ctx, shared, msg)
			if err != nil {
				logger.Error(b.Logger, "batch entry failed",
					logger.With("message", msg.Name()),
					logger.With("error", err))

				return nil
			}

			results[i] = outcomes

			return nil
		})
	}

	// Workers never return errors: failures are captured per entry.
	_ = group.Wait()

	var outcomes []Outcome
	for _, result := range results {
		outcomes = append(outcomes, result...)
	}

	return outcomes, nil
}

func (b *ConcurrentBus) dispatchConcurrent(
	ctx context.Context,
	shared *Shared,
	msg message.Message,
) ([]Outcome, error) {
	queue := []message.Message{msg}

	var outcomes []Outcome

	// Command handlers can stash a session too: release whatever is
	// still held once the whole cascade drained.
	defer func() {
		if err := shared.CloseSession(); err != nil {
			logger.Error(b.Logger, "failed to close shared session",
				logger.With("error", err))
		}
	}()

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		switch next.Kind() {
		case message.KindEvent:
			stepOutcomes, emitted := b.handleEventConcurrent(ctx, shared, next)
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
			return nil, fmt.Errorf("bus.ConcurrentBus: %w, '%s'", ErrUnknownMessageKind, next.Name())
		}
	}

	return outcomes, nil
}

// handleEventConcurrent launches every handler registered for the event
// together and waits for all of them to complete (structured join) before
// draining their combined emissions. Concurrency is scoped to the siblings
// of this one event, not across queue steps.
func (b *ConcurrentBus) handleEventConcurrent(
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

	results := make([]any, len(handlers))
	emissions := make([][]message.Message, len(handlers))

	group, groupCtx := errgroup.WithContext(ctx)

	for i, handler := range handlers {
		logger.Debug(b.Logger, "handling event",
			logger.With("event", event.Name()))

		group.Go(func() error {
			result, emitted, err := invokeEvent(groupCtx, shared, handler, event)
			if err != nil {
				return errors.Wrapf(err, "event handler %d failed", i)
			}

			results[i] = result
			emissions[i] = emitted

			return nil
		})
	}

	err := group.Wait()

	// Session-scoped resources are released at the end of each fan-out
	// step, not only at the end of the whole call.
	if closeErr := shared.CloseSession(); closeErr != nil {
		logger.Error(b.Logger, "failed to close shared session",
			logger.With("error", closeErr))
	}

	if err != nil {
		logger.Error(b.Logger, "event fan-out failed",
			logger.With("event", event.Name()),
			logger.With("error", err))

		return nil, nil
	}

	// The join reassembles both outcomes and emissions
	// in handler registration order.
	outcomes := make([]Outcome, 0, len(handlers))

	var emitted []message.Message

	for i := range handlers {
		outcomes = append(outcomes, Outcome{Message: event, Result: results[i]})
		emitted = append(emitted, emissions[i]...)
	}

	return outcomes, emitted
}
