package outbox

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence contract behind the outbox.
//
// The core only requires this narrow surface; durability guarantees belong
// entirely to the implementation (a database table, a file, an in-memory
// store for tests). All methods are context-aware, which covers both
// blocking and asynchronous implementations with a single shape.
type Repository interface {
	// Add persists a new Record. The Record exposes its identifier, kind
	// discriminator, message type name and serialized payload.
	Add(ctx context.Context, record *Record) error

	// Get returns the Record with the given identifier.
	Get(ctx context.Context, id uuid.UUID) (*Record, error)

	// ListUnprocessed returns all Records not yet marked as processed,
	// in the order the implementation defines (usually insertion order).
	ListUnprocessed(ctx context.Context) ([]*Record, error)

	// MarkProcessed flags the Record with the given identifier as processed,
	// so that subsequent ListUnprocessed calls no longer return it.
	//
	// The bus outbox sweep calls this only after every registered outbox
	// handler has succeeded for the Record.
	MarkProcessed(ctx context.Context, id uuid.UUID) error

	// Save commits pending state. Implementations working in autocommit
	// mode can treat this as a no-op.
	Save(ctx context.Context) error
}
