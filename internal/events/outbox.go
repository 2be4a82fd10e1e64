package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// OutboxStore opens a transaction over unpublished outbox rows.
type OutboxStore interface {
	WithOutboxTx(ctx context.Context, fn func(ctx context.Context, tx OutboxTx) error) error
}

// OutboxTx claims and acknowledges outbox rows.
type OutboxTx interface {
	FetchUnpublished(ctx context.Context, limit int) ([]Envelope, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Execer is satisfied by pgx.Tx and pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// InsertOutbox appends env to event_outbox using the caller's transaction.
func InsertOutbox(ctx context.Context, q Execer, env Envelope) error {
	_, err := q.Exec(ctx, `INSERT INTO event_outbox (id, company_id, aggregate_type, aggregate_id, event_type, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, env.ID, env.CompanyID, env.AggregateType, env.AggregateID, env.Type, []byte(env.Payload), env.OccurredAt)
	return err
}

// PostgresOutbox reads event_outbox with SKIP LOCKED so several relays can run.
type PostgresOutbox struct {
	tx *db.Transactor
}

// NewPostgresOutbox builds the outbox store.
func NewPostgresOutbox(tx *db.Transactor) *PostgresOutbox {
	return &PostgresOutbox{tx: tx}
}

func (o *PostgresOutbox) WithOutboxTx(ctx context.Context, fn func(ctx context.Context, tx OutboxTx) error) error {
	return o.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, pgOutboxTx{tx: tx})
	})
}

type pgOutboxTx struct {
	tx pgx.Tx
}

func (t pgOutboxTx) FetchUnpublished(ctx context.Context, limit int) ([]Envelope, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, company_id, aggregate_type, aggregate_id, event_type, payload, created_at
FROM event_outbox WHERE published_at IS NULL ORDER BY created_at, id LIMIT $1 FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Envelope
	for rows.Next() {
		var env Envelope
		var payload []byte
		if err := rows.Scan(&env.ID, &env.CompanyID, &env.AggregateType, &env.AggregateID, &env.Type, &payload, &env.OccurredAt); err != nil {
			return nil, err
		}
		env.Payload = payload
		out = append(out, env)
	}
	return out, rows.Err()
}

func (t pgOutboxTx) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `UPDATE event_outbox SET published_at=$2 WHERE id = ANY($1)`, ids, at)
	return err
}
