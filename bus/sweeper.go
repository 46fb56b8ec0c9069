package bus

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/go-mbus/mbus/logger"
	"github.com/go-mbus/mbus/outbox"
)

// DefaultSweepInterval is the cadence used by a Sweeper instance
// when Interval is left unset.
const DefaultSweepInterval = 10 * time.Second

// OutboxProcessor is the surface the Sweeper drives.
// Both Bus and ConcurrentBus satisfy it.
type OutboxProcessor interface {
	ProcessOutbox(ctx context.Context, repo outbox.Repository) error
}

// Sweeper is an infrastructural component that periodically replays
// unprocessed outbox records through the bus outbox handlers.
//
// Retry policy lives entirely in the sweep cadence: a record stays
// unprocessed until its handlers succeed, so every tick redelivers
// whatever is still pending.
type Sweeper struct {
	Processor  OutboxProcessor
	Repository outbox.Repository

	// Interval between sweeps. Defaults to DefaultSweepInterval.
	Interval time.Duration

	Logger logger.Logger
}

// Run sweeps the outbox once immediately, then on every Interval tick.
//
// Run is a blocking call. To stop the Sweeper, cancel the provided context:
// the error returned upon exit is context.Canceled in that case, which
// usually represents normal operation. Sweep failures (the repository not
// being able to list pending records) are logged and retried on the next
// tick rather than terminating the loop.
func (s Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval == 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.Processor.ProcessOutbox(ctx, s.Repository); err != nil {
			logger.Error(s.Logger, "outbox sweep failed",
				logger.With("error", err))
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "bus.Sweeper: context closed")

		case <-ticker.C:
		}
	}
}
