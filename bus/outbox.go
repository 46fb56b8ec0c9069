package bus

import (
	"fmt"

	"context"

	"github.com/go-mbus/mbus/logger"
	"github.com/go-mbus/mbus/outbox"
)

// ProcessOutbox sweeps all unprocessed outbox records through the handlers
// registered with SetOutboxHandlers, in registration order.
//
// The first handler failure for a record is logged and the remaining
// handlers for that record are skipped, but the sweep still proceeds to the
// next record; the failed record stays unprocessed and is retried on the
// next sweep (at-least-once delivery). Repository.Save runs after each
// successful handler invocation; once every handler succeeded for a record
// the record is marked processed.
//
// ProcessOutbox is a no-op when no outbox handlers are registered.
// An error is returned only when the repository cannot list its
// unprocessed records.
func (b *Bus) ProcessOutbox(ctx context.Context, repo outbox.Repository) error {
	if len(b.outboxHandlers) == 0 {
		return nil
	}

	records, err := repo.ListUnprocessed(ctx)
	if err != nil {
		return fmt.Errorf("bus.Bus: failed to list unprocessed outbox records, %w", err)
	}

	shared := NewShared()

	for _, record := range records {
		if !b.processOutboxRecord(ctx, repo, shared, record) {
			continue
		}

		if err := repo.MarkProcessed(ctx, record.ID); err != nil {
			logger.Error(b.Logger, "failed to mark outbox record as processed",
				logger.With("record_id", record.ID),
				logger.With("error", err))

			continue
		}

		if err := repo.Save(ctx); err != nil {
			logger.Error(b.Logger, "failed to save outbox repository state",
				logger.With("record_id", record.ID),
				logger.With("error", err))
		}
	}

	return nil
}

// processOutboxRecord runs one record through every registered outbox
// handler, reporting whether all of them succeeded.
func (b *Bus) processOutboxRecord(
	ctx context.Context,
	repo outbox.Repository,
	shared *Shared,
	record *outbox.Record,
) bool {
	for _, handler := range b.outboxHandlers {
		if err := invokeOutbox(ctx, shared, handler, record); err != nil {
			logger.Error(b.Logger, "outbox handler failed",
				logger.With("record_id", record.ID),
				logger.With("message", record.MessageName),
				logger.With("error", err))

			return false
		}

		if err := repo.Save(ctx); err != nil {
			logger.Error(b.Logger, "failed to save outbox repository state",
				logger.With("record_id", record.ID),
				logger.With("error", err))

			return false
		}
	}

	return true
}
