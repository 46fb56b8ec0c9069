package bus_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-mbus/mbus/bus"
	"github.com/go-mbus/mbus/internal"
	"github.com/go-mbus/mbus/logger"
	"github.com/go-mbus/mbus/message"
)

type helloEvent struct{ Greeting string }

func (helloEvent) Name() string       { return "hello" }
func (helloEvent) Kind() message.Kind { return message.KindEvent }

type goodbyeEvent struct{}

func (goodbyeEvent) Name() string       { return "goodbye" }
func (goodbyeEvent) Kind() message.Kind { return message.KindEvent }

type farewellEvent struct{}

func (farewellEvent) Name() string       { return "farewell" }
func (farewellEvent) Kind() message.Kind { return message.KindEvent }

type chargeCommand struct{ Amount int64 }

func (chargeCommand) Name() string       { return "charge" }
func (chargeCommand) Kind() message.Kind { return message.KindCommand }

// staticEventHandler returns a fixed result and emits a fixed set of messages.
type staticEventHandler struct {
	result any
	emits  []message.Message
	calls  *int
}

func (h staticEventHandler) Handle(
	_ context.Context,
	_ *bus.Shared,
	_ message.Message,
) (any, []message.Message, error) {
	if h.calls != nil {
		*h.calls++
	}

	emitter := new(bus.Emitter)
	emitter.Emit(h.emits...)

	return h.result, emitter.Messages(), nil
}

type failingEventHandler struct{ calls *int }

func (h failingEventHandler) Handle(
	_ context.Context,
	_ *bus.Shared,
	_ message.Message,
) (any, []message.Message, error) {
	if h.calls != nil {
		*h.calls++
	}

	return nil, nil, errors.New("subscriber exploded")
}

// staticCommandHandler returns a fixed result and emits a fixed set of messages.
type staticCommandHandler struct {
	result any
	emits  []message.Message
	err    error
}

func (h staticCommandHandler) Handle(
	_ context.Context,
	_ *bus.Shared,
	_ message.Message,
) (any, []message.Message, error) {
	if h.err != nil {
		return nil, nil, h.err
	}

	return h.result, h.emits, nil
}

// hookedEventHandler records the order of its lifecycle invocations.
type hookedEventHandler struct {
	log        *[]string
	failBefore bool
	failHandle bool
}

func (h *hookedEventHandler) BeforeHandle(_ context.Context, _ *bus.Shared) error {
	*h.log = append(*h.log, "before")

	if h.failBefore {
		return errors.New("before failed")
	}

	return nil
}

func (h *hookedEventHandler) AfterHandle(_ context.Context, _ *bus.Shared) {
	*h.log = append(*h.log, "after")
}

func (h *hookedEventHandler) Handle(
	_ context.Context,
	_ *bus.Shared,
	_ message.Message,
) (any, []message.Message, error) {
	*h.log = append(*h.log, "handle")

	if h.failHandle {
		return nil, nil, errors.New("handle failed")
	}

	return "ok", nil, nil
}

func outcomeNames(outcomes []bus.Outcome) []string {
	names := make([]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		names = append(names, outcome.Message.Name())
	}

	return names
}

func TestBusHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("event cascades breadth-first through its emissions", func(t *testing.T) {
		b := bus.NewBus()
		b.Logger = logger.NewTest(t)

		require.NoError(t, b.SetEventHandlers(helloEvent{},
			staticEventHandler{result: "h1", emits: []message.Message{goodbyeEvent{}}},
			staticEventHandler{result: "h2"},
		))
		require.NoError(t, b.SetEventHandlers(goodbyeEvent{},
			staticEventHandler{result: "h3", emits: []message.Message{farewellEvent{}}},
		))
		require.NoError(t, b.SetEventHandlers(farewellEvent{},
			staticEventHandler{result: "h4"},
		))

		outcomes, err := b.Handle(ctx, helloEvent{Greeting: "hi"})
		require.NoError(t, err)

		assert.Equal(t, []string{"hello", "hello", "goodbye", "farewell"}, outcomeNames(outcomes))
		assert.Equal(t, "h1", outcomes[0].Result)
		assert.Equal(t, "h2", outcomes[1].Result)
		assert.Equal(t, "h3", outcomes[2].Result)
		assert.Equal(t, "h4", outcomes[3].Result)
	})

	t.Run("a failing event handler does not block its siblings", func(t *testing.T) {
		b := bus.NewBus()
		b.Logger = logger.NewTest(t)

		var first, failed, last int

		require.NoError(t, b.SetEventHandlers(helloEvent{},
			staticEventHandler{result: "first", calls: &first},
			failingEventHandler{calls: &failed},
			staticEventHandler{result: "last", calls: &last},
		))

		outcomes, err := b.Handle(ctx, helloEvent{})
		require.NoError(t, err)

		assert.Equal(t, 1, first)
		assert.Equal(t, 1, failed)
		assert.Equal(t, 1, last)

		require.Len(t, outcomes, 2)
		assert.Equal(t, "first", outcomes[0].Result)
		assert.Equal(t, "last", outcomes[1].Result)
	})

	t.Run("an unregistered event is a no-op", func(t *testing.T) {
		b := bus.NewBus()
		b.Logger = logger.NewTest(t)

		outcomes, err := b.Handle(ctx, helloEvent{})
		require.NoError(t, err)
		assert.Empty(t, outcomes)
	})

	t.Run("an unregistered command is fatal", func(t *testing.T) {
		b := bus.NewBus()
		b.Logger = logger.NewTest(t)

		outcomes, err := b.Handle(ctx, chargeCommand{Amount: 10})
		assert.ErrorIs(t, err, bus.ErrNoCommandHandler)
		assert.Nil(t, outcomes)
	})

	t.Run("a failing command handler aborts the whole call", func(t *testing.T) {
		b := bus.NewBus()
		b.Logger = logger.NewTest(t)

		expected := errors.New("charge declined")
		require.NoError(t, b.SetCommandHandler(chargeCommand{}, staticCommandHandler{err: expected}))

		outcomes, err := b.Handle(ctx, chargeCommand{Amount: 10})
		assert.ErrorIs(t, err, expected)
		assert.Nil(t, outcomes)
	})

	t.Run("a command cascade processes the emitted events", func(t *testing.T) {
		b := bus.NewBus()
		b.Logger = logger.NewTest(t)

		require.NoError(t, b.SetCommandHandler(chargeCommand{}, staticCommandHandler{
			result: "charged",
			emits:  []message.Message{goodbyeEvent{}},
		}))
		require.NoError(t, b.SetEventHandlers(goodbyeEvent{},
			staticEventHandler{result: "notified"},
		))

		outcomes, err := b.Handle(ctx, chargeCommand{Amount: 10})
		require.NoError(t, err)

		assert.Equal(t, []string{"charge", "goodbye"}, outcomeNames(outcomes))
		assert.Equal(t, "charged", outcomes[0].Result)
		assert.Equal(t, "notified", outcomes[1].Result)
	})

	t.Run("a message outside the taxonomy is fatal", func(t *testing.T) {
		b := bus.NewBus()
		b.Logger = logger.NewTest(t)

		_, err := b.Handle(ctx, internal.BrokenMessage{})
		assert.ErrorIs(t, err, bus.ErrUnknownMessageKind)
	})

	t.Run("functional handlers work for both variants", func(t *testing.T) {
		b := bus.NewBus()
		b.Logger = logger.NewTest(t)

		require.NoError(t, b.SetCommandHandler(chargeCommand{}, bus.CommandHandlerFunc(
			func(_ context.Context, _ *bus.Shared, cmd message.Message) (any, error) {
				return cmd.(chargeCommand).Amount * 2, nil
			},
		)))
		require.NoError(t, b.SetEventHandlers(helloEvent{}, bus.EventHandlerFunc(
			func(_ context.Context, _ *bus.Shared, event message.Message) (any, error) {
				return event.(helloEvent).Greeting, nil
			},
		)))

		outcomes, err := b.Handle(ctx, chargeCommand{Amount: 21})
		require.NoError(t, err)
		require.Len(t, outcomes, 1)
		assert.Equal(t, int64(42), outcomes[0].Result)

		outcomes, err = b.Handle(ctx, helloEvent{Greeting: "hey"})
		require.NoError(t, err)
		require.Len(t, outcomes, 1)
		assert.Equal(t, "hey", outcomes[0].Result)
	})

	t.Run("the shared store is visible across the whole cascade", func(t *testing.T) {
		b := bus.NewBus()
		b.Logger = logger.NewTest(t)

		require.NoError(t, b.SetEventHandlers(helloEvent{}, bus.EventHandlerFunc(
			func(_ context.Context, shared *bus.Shared, _ message.Message) (any, error) {
				shared.Set("seen", "hello")
				return nil, nil
			},
		)))

		shared := bus.NewShared()
		_, err := b.HandleShared(ctx, shared, helloEvent{})
		require.NoError(t, err)

		seen, ok := shared.Get("seen")
		require.True(t, ok)
		assert.Equal(t, "hello", seen)
	})
}

func TestBusLifecycleHooks(t *testing.T) {
	ctx := context.Background()

	t.Run("before and after wrap the handler invocation", func(t *testing.T) {
		b := bus.NewBus()
		b.Logger = logger.NewTest(t)

		var log []string
		require.NoError(t, b.SetEventHandlers(helloEvent{}, &hookedEventHandler{log: &log}))

		_, err := b.Handle(ctx, helloEvent{})
		require.NoError(t, err)
		assert.Equal(t, []string{"before", "handle", "after"}, log)
	})

	t.Run("after runs even when the handler fails", func(t *testing.T) {
		b := bus.NewBus()
		b.Logger = logger.NewTest(t)

		var log []string
		require.NoError(t, b.SetEventHandlers(helloEvent{}, &hookedEventHandler{log: &log, failHandle: true}))

		outcomes, err := b.Handle(ctx, helloEvent{})
		require.NoError(t, err)
		assert.Empty(t, outcomes)
		assert.Equal(t, []string{"before", "handle", "after"}, log)
	})

	t.Run("a failing before hook skips both handler and after hook", func(t *testing.T) {
		b := bus.NewBus()
		b.Logger = logger.NewTest(t)

		var log []string
		require.NoError(t, b.SetEventHandlers(helloEvent{}, &hookedEventHandler{log: &log, failBefore: true}))

		outcomes, err := b.Handle(ctx, helloEvent{})
		require.NoError(t, err)
		assert.Empty(t, outcomes)
		assert.Equal(t, []string{"before"}, log)
	})
}

func TestBusRegistry(t *testing.T) {
	b := bus.NewBus()

	t.Run("rejects a command message as event registration", func(t *testing.T) {
		err := b.SetEventHandlers(chargeCommand{}, staticEventHandler{})
		assert.Error(t, err)
	})

	t.Run("rejects an event message as command registration", func(t *testing.T) {
		err := b.SetCommandHandler(helloEvent{}, staticCommandHandler{})
		assert.Error(t, err)
	})

	t.Run("exposes registered handlers", func(t *testing.T) {
		require.NoError(t, b.SetEventHandlers(helloEvent{}, staticEventHandler{}, staticEventHandler{}))
		assert.Len(t, b.EventHandlers(helloEvent{}), 2)

		require.NoError(t, b.SetCommandHandler(chargeCommand{}, staticCommandHandler{}))

		_, ok := b.CommandHandler(chargeCommand{})
		assert.True(t, ok)

		_, ok = b.CommandHandler(internal.PlaceOrder{})
		assert.False(t, ok)
	})
}

func TestBusBatchHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("concatenates outcomes in submission order", func(t *testing.T) {
		b := bus.NewBus()
		b.Logger = logger.NewTest(t)

		require.NoError(t, b.SetEventHandlers(helloEvent{}, staticEventHandler{result: "hello"}))
		require.NoError(t, b.SetCommandHandler(chargeCommand{}, staticCommandHandler{result: "charged"}))

		outcomes, err := b.BatchHandle(ctx, helloEvent{}, chargeCommand{Amount: 1})
		require.NoError(t, err)

		assert.Equal(t, []string{"hello", "charge"}, outcomeNames(outcomes))
	})

	t.Run("is all-or-nothing on command failure", func(t *testing.T) {
		b := bus.NewBus()
		b.Logger = logger.NewTest(t)

		require.NoError(t, b.SetEventHandlers(helloEvent{}, staticEventHandler{result: "hello"}))

		outcomes, err := b.BatchHandle(ctx, chargeCommand{Amount: 1}, helloEvent{})
		assert.ErrorIs(t, err, bus.ErrNoCommandHandler)
		assert.Nil(t, outcomes)
	})
}
