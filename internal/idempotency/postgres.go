package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// PostgresStore keeps records in idempotency_keys.
type PostgresStore struct {
	tx *db.Transactor
}

// NewPostgresStore builds the store on the shared transactor so commands join its transaction.
func NewPostgresStore(tx *db.Transactor) *PostgresStore {
	return &PostgresStore{tx: tx}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &pgTxStore{tx: tx})
	})
}

func (s *PostgresStore) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.tx.Pool().Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type pgTxStore struct {
	tx pgx.Tx
}

func (s *pgTxStore) Reserve(ctx context.Context, rec Record) (bool, error) {
	tag, err := s.tx.Exec(ctx, `INSERT INTO idempotency_keys (company_id, key, operation, fingerprint, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (company_id, key) DO NOTHING`, rec.CompanyID, rec.Key, rec.Operation, rec.Fingerprint, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *pgTxStore) Get(ctx context.Context, companyID int64, key string) (Record, error) {
	var rec Record
	err := s.tx.QueryRow(ctx, `SELECT company_id, key, operation, fingerprint, response, created_at, completed_at, expires_at
FROM idempotency_keys WHERE company_id=$1 AND key=$2 FOR UPDATE`, companyID, key).
		Scan(&rec.CompanyID, &rec.Key, &rec.Operation, &rec.Fingerprint, &rec.Response, &rec.CreatedAt, &rec.CompletedAt, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, shared.ErrNotFound
	}
	return rec, err
}

func (s *pgTxStore) Reclaim(ctx context.Context, rec Record) error {
	_, err := s.tx.Exec(ctx, `UPDATE idempotency_keys
SET operation=$3, fingerprint=$4, response=NULL, created_at=$5, completed_at=NULL, expires_at=$6
WHERE company_id=$1 AND key=$2`, rec.CompanyID, rec.Key, rec.Operation, rec.Fingerprint, rec.CreatedAt, rec.ExpiresAt)
	return err
}

func (s *pgTxStore) Complete(ctx context.Context, companyID int64, key string, response []byte, at time.Time) error {
	tag, err := s.tx.Exec(ctx, `UPDATE idempotency_keys SET response=$3, completed_at=$4 WHERE company_id=$1 AND key=$2`,
		companyID, key, response, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
