package bus_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-mbus/mbus/bus"
	"github.com/go-mbus/mbus/internal"
	"github.com/go-mbus/mbus/logger"
	"github.com/go-mbus/mbus/message"
	"github.com/go-mbus/mbus/outbox"
	"github.com/go-mbus/mbus/serde"
)

var messageSerializer = serde.NewJSONSerializer[message.Message]()

// countingRepository wraps an outbox.Repository to count Save calls.
type countingRepository struct {
	outbox.Repository

	mx    sync.Mutex
	saves int
}

func (r *countingRepository) Save(ctx context.Context) error {
	r.mx.Lock()
	r.saves++
	r.mx.Unlock()

	return r.Repository.Save(ctx)
}

func (r *countingRepository) savedTimes() int {
	r.mx.Lock()
	defer r.mx.Unlock()

	return r.saves
}

// recordingOutboxHandler captures the records it has seen, optionally
// failing for a configured message name.
type recordingOutboxHandler struct {
	mx      sync.Mutex
	seen    []string
	failFor string
}

func (h *recordingOutboxHandler) Handle(_ context.Context, _ *bus.Shared, record *outbox.Record) error {
	h.mx.Lock()
	defer h.mx.Unlock()

	if record.MessageName == h.failFor {
		return errors.New("delivery failed")
	}

	h.seen = append(h.seen, record.MessageName)

	return nil
}

func (h *recordingOutboxHandler) seenNames() []string {
	h.mx.Lock()
	defer h.mx.Unlock()

	return append([]string(nil), h.seen...)
}

func (h *recordingOutboxHandler) setFailFor(name string) {
	h.mx.Lock()
	defer h.mx.Unlock()

	h.failFor = name
}

func registerRecords(t *testing.T, repo outbox.Repository, msgs ...message.Message) {
	t.Helper()

	for _, msg := range msgs {
		_, err := outbox.Register(context.Background(), repo, messageSerializer, msg)
		require.NoError(t, err)
	}
}

func TestBusProcessOutbox(t *testing.T) {
	ctx := context.Background()

	t.Run("is a no-op without registered outbox handlers", func(t *testing.T) {
		b := bus.NewBus()
		b.Logger = logger.NewTest(t)

		repo := outbox.NewInMemoryRepository()
		registerRecords(t, repo, internal.OrderPlaced{Total: 10})

		require.NoError(t, b.ProcessOutbox(ctx, repo))

		pending, err := repo.ListUnprocessed(ctx)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})

	t.Run("marks records processed once every handler succeeded", func(t *testing.T) {
		b := bus.NewBus()
		b.Logger = logger.NewTest(t)

		handler := new(recordingOutboxHandler)
		b.SetOutboxHandlers(handler)

		repo := outbox.NewInMemoryRepository()
		registerRecords(t, repo,
			internal.PlaceOrder{Total: 10},
			internal.OrderPlaced{Total: 10},
		)

		require.NoError(t, b.ProcessOutbox(ctx, repo))

		assert.Equal(t, []string{"place_order", "order_placed"}, handler.seenNames())

		pending, err := repo.ListUnprocessed(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("saves the repository after each successful handler", func(t *testing.T) {
		b := bus.NewBus()
		b.Logger = logger.NewTest(t)

		b.SetOutboxHandlers(new(recordingOutboxHandler), new(recordingOutboxHandler))

		repo := &countingRepository{Repository: outbox.NewInMemoryRepository()}
		registerRecords(t, repo, internal.OrderPlaced{Total: 10})

		require.NoError(t, b.ProcessOutbox(ctx, repo))

		// One Save per handler success, plus one after marking processed.
		assert.Equal(t, 3, repo.savedTimes())
	})

	t.Run("a failing record stays unprocessed while its siblings proceed", func(t *testing.T) {
		b := bus.NewBus()
		b.Logger = logger.NewTest(t)

		handler := &recordingOutboxHandler{failFor: "place_order"}
		b.SetOutboxHandlers(handler)

		repo := outbox.NewInMemoryRepository()
		registerRecords(t, repo,
			internal.PlaceOrder{Total: 10},
			internal.OrderPlaced{Total: 10},
		)

		require.NoError(t, b.ProcessOutbox(ctx, repo))

		pending, err := repo.ListUnprocessed(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "place_order", pending[0].MessageName)
	})

	t.Run("a record failure skips its remaining handlers", func(t *testing.T) {
		b := bus.NewBus()
		b.Logger = logger.NewTest(t)

		first := &recordingOutboxHandler{failFor: "order_placed"}
		second := new(recordingOutboxHandler)
		b.SetOutboxHandlers(first, second)

		repo := outbox.NewInMemoryRepository()
		registerRecords(t, repo, internal.OrderPlaced{Total: 10})

		require.NoError(t, b.ProcessOutbox(ctx, repo))

		assert.Empty(t, second.seenNames())
	})

	t.Run("a later sweep retries the failed record", func(t *testing.T) {
		b := bus.NewBus()
		b.Logger = logger.NewTest(t)

		handler := &recordingOutboxHandler{failFor: "order_placed"}
		b.SetOutboxHandlers(handler)

		repo := outbox.NewInMemoryRepository()
		registerRecords(t, repo, internal.OrderPlaced{Total: 10})

		require.NoError(t, b.ProcessOutbox(ctx, repo))

		pending, err := repo.ListUnprocessed(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)

		// The transient condition clears, and the next sweep delivers.
		handler.setFailFor("")
		require.NoError(t, b.ProcessOutbox(ctx, repo))

		pending, err = repo.ListUnprocessed(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}

func TestSweeper(t *testing.T) {
	b := bus.NewBus()
	b.Logger = logger.NewTest(t)

	handler := new(recordingOutboxHandler)
	b.SetOutboxHandlers(handler)

	repo := outbox.NewInMemoryRepository()
	registerRecords(t, repo, internal.OrderPlaced{Total: 10})

	sweeper := bus.Sweeper{
		Processor:  b,
		Repository: repo,
		Interval:   10 * time.Millisecond,
		Logger:     logger.NewTest(t),
	}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	assert.Eventually(t, func() bool {
		pending, err := repo.ListUnprocessed(context.Background())
		return err == nil && len(pending) == 0
	}, time.Second, 5*time.Millisecond)

	// A record registered while the sweeper is running gets picked
	// up by a subsequent tick.
	registerRecords(t, repo, internal.OrderShipped{})

	assert.Eventually(t, func() bool {
		pending, err := repo.ListUnprocessed(context.Background())
		return err == nil && len(pending) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)

	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}
