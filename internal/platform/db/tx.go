package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txKey struct{}

// Transactor opens transactions on the pool and lets nested calls join the ambient one.
// A nested call runs inside a savepoint so its failure can be recovered by the caller;
// hooks registered inside a rolled back savepoint are discarded.
type Transactor struct {
	pool *pgxpool.Pool
	opts pgx.TxOptions
}

// NewTransactor builds a Transactor using READ COMMITTED; callers take row locks explicitly.
func NewTransactor(pool *pgxpool.Pool) *Transactor {
	return &Transactor{pool: pool, opts: pgx.TxOptions{IsoLevel: pgx.ReadCommitted}}
}

// Pool exposes the underlying pool for non transactional reads.
func (t *Transactor) Pool() *pgxpool.Pool {
	return t.pool
}

// TxFromContext returns the ambient transaction, if any.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

// WithTx runs fn in a transaction. Hooks registered through AfterCommit run once the
// outermost transaction commits, with the caller's context.
func (t *Transactor) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if outer, ok := TxFromContext(ctx); ok {
		nested, err := outer.Begin(ctx)
		if err != nil {
			return fmt.Errorf("platform/db: savepoint: %w", err)
		}
		nestedCtx, hooks := NestHooks(context.WithValue(ctx, txKey{}, nested))
		if err := fn(nestedCtx, nested); err != nil {
			_ = nested.Rollback(ctx)
			return err
		}
		if err := nested.Commit(ctx); err != nil {
			return fmt.Errorf("platform/db: release savepoint: %w", err)
		}
		hooks.Release()
		return nil
	}

	tx, err := t.pool.BeginTx(ctx, t.opts)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txCtx, hooks := WithHooks(context.WithValue(ctx, txKey{}, tx))
	if err := fn(txCtx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}
	hooks.Run(ctx)
	return nil
}

// WithTx executes fn within a standalone READ COMMITTED transaction.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return NewTransactor(pool).WithTx(ctx, func(_ context.Context, tx pgx.Tx) error {
		return fn(tx)
	})
}

// IsUniqueViolation reports whether err is a unique violation on the named constraint.
// An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}
