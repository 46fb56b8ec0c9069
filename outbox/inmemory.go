package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrRecordNotFound is returned when the requested Record
// does not exist in the Repository.
var ErrRecordNotFound = errors.New("outbox: record not found")

var _ Repository = &InMemoryRepository{}

// InMemoryRepository is an in-memory Repository implementation,
// useful for testing purposes and example wiring.
//
// The zero value is ready to use. The implementation is thread-safe.
type InMemoryRepository struct {
	mx      sync.RWMutex
	order   []uuid.UUID
	records map[uuid.UUID]*Record
}

// NewInMemoryRepository returns a new empty InMemoryRepository instance.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{records: make(map[uuid.UUID]*Record)}
}

// Add implements the outbox.Repository interface.
func (r *InMemoryRepository) Add(_ context.Context, record *Record) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.records == nil {
		r.records = make(map[uuid.UUID]*Record)
	}

	if _, ok := r.records[record.ID]; ok {
		return fmt.Errorf("outbox.InMemoryRepository: record '%s' already registered", record.ID)
	}

	stored := *record
	r.records[record.ID] = &stored
	r.order = append(r.order, record.ID)

	return nil
}

// Get implements the outbox.Repository interface.
func (r *InMemoryRepository) Get(_ context.Context, id uuid.UUID) (*Record, error) {
	r.mx.RLock()
	defer r.mx.RUnlock()

	record, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("outbox.InMemoryRepository: %w, '%s'", ErrRecordNotFound, id)
	}

	found := *record

	return &found, nil
}

// ListUnprocessed implements the outbox.Repository interface.
// Records are returned in insertion order.
func (r *InMemoryRepository) ListUnprocessed(_ context.Context) ([]*Record, error) {
	r.mx.RLock()
	defer r.mx.RUnlock()

	var unprocessed []*Record

	for _, id := range r.order {
		if record := r.records[id]; !record.Processed {
			found := *record
			unprocessed = append(unprocessed, &found)
		}
	}

	return unprocessed, nil
}

// MarkProcessed implements the outbox.Repository interface.
func (r *InMemoryRepository) MarkProcessed(_ context.Context, id uuid.UUID) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	record, ok := r.records[id]
	if !ok {
		return fmt.Errorf("outbox.InMemoryRepository: %w, '%s'", ErrRecordNotFound, id)
	}

	record.Processed = true

	return nil
}

// Save implements the outbox.Repository interface. State changes performed
// by this implementation are immediately visible, so Save is a no-op.
func (r *InMemoryRepository) Save(_ context.Context) error { return nil }
