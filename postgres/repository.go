// Package postgres implements the durable outbox Repository
// on top of a PostgreSQL database.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/go-mbus/mbus/message"
	"github.com/go-mbus/mbus/outbox"
)

var _ outbox.Repository = Repository{}

// Repository is an outbox.Repository implementation targeted to
// PostgreSQL databases.
//
// The implementation uses "outbox_messages" as its operational table;
// use RunMigrations to create it. Every write is committed as it happens,
// so Save is a no-op.
type Repository struct {
	Conn *pgxpool.Pool
}

// Add implements the outbox.Repository interface.
func (r Repository) Add(ctx context.Context, record *outbox.Record) error {
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("postgres.Repository: failed to serialize record metadata, %w", err)
	}

	_, err = r.Conn.Exec(
		ctx,
		`INSERT INTO outbox_messages (id, kind, message_name, payload, metadata, processed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID, record.Kind.String(), record.MessageName,
		record.Payload, metadata, record.Processed, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres.Repository: failed to insert outbox record, %w", err)
	}

	return nil
}

// Get implements the outbox.Repository interface.
func (r Repository) Get(ctx context.Context, id uuid.UUID) (*outbox.Record, error) {
	row := r.Conn.QueryRow(
		ctx,
		`SELECT id, kind, message_name, payload, metadata, processed, created_at
		FROM outbox_messages WHERE id = $1`,
		id,
	)

	record, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres.Repository: %w, '%s'", outbox.ErrRecordNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("postgres.Repository: failed to get outbox record, %w", err)
	}

	return record, nil
}

// ListUnprocessed implements the outbox.Repository interface.
// Records are returned in insertion order.
func (r Repository) ListUnprocessed(ctx context.Context) ([]*outbox.Record, error) {
	rows, err := r.Conn.Query(
		ctx,
		`SELECT id, kind, message_name, payload, metadata, processed, created_at
		FROM outbox_messages WHERE NOT processed ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres.Repository: failed to query outbox table, %w", err)
	}

	defer rows.Close()

	var records []*outbox.Record

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres.Repository: failed to scan outbox record, %w", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres.Repository: failed to read outbox rows, %w", err)
	}

	return records, nil
}

// MarkProcessed implements the outbox.Repository interface.
func (r Repository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.Conn.Exec(
		ctx,
		"UPDATE outbox_messages SET processed = TRUE WHERE id = $1",
		id,
	)
	if err != nil {
		return fmt.Errorf("postgres.Repository: failed to mark outbox record as processed, %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres.Repository: %w, '%s'", outbox.ErrRecordNotFound, id)
	}

	return nil
}

// Save implements the outbox.Repository interface. Every state change
// performed by this implementation is committed immediately, so Save
// is a no-op.
func (r Repository) Save(_ context.Context) error { return nil }

func scanRecord(row pgx.Row) (*outbox.Record, error) {
	var (
		record      outbox.Record
		kind        string
		rawMetadata json.RawMessage
	)

	if err := row.Scan(
		&record.ID, &kind, &record.MessageName,
		&record.Payload, &rawMetadata, &record.Processed, &record.CreatedAt,
	); err != nil {
		return nil, err
	}

	parsed, ok := message.ParseKind(kind)
	if !ok {
		return nil, fmt.Errorf("unrecognized message kind, '%s'", kind)
	}

	record.Kind = parsed

	if err := json.Unmarshal(rawMetadata, &record.Metadata); err != nil {
		return nil, fmt.Errorf("failed to deserialize record metadata, %w", err)
	}

	return &record, nil
}
