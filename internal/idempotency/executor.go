package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// DefaultTTL is how long a key stays bound to its first outcome.
const DefaultTTL = 24 * time.Hour

// Executor runs keyed commands at most once per key.
type Executor struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewExecutor builds an Executor. A non-positive ttl selects DefaultTTL.
func NewExecutor(store Store, ttl time.Duration, logger *slog.Logger) *Executor {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: store, ttl: ttl, logger: logger, now: time.Now}
}

// WithClock overrides the time source.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	if now != nil {
		e.now = now
	}
	return e
}

// Cleanup removes records that expired before now minus grace.
func (e *Executor) Cleanup(ctx context.Context, grace time.Duration) (int64, error) {
	return e.store.Cleanup(ctx, e.now().UTC().Add(-grace))
}

// Execute runs fn once for req.Key. A repeated identical request returns the stored
// result with replayed=true without calling fn. The key reservation, fn's writes and
// the stored snapshot commit or roll back together.
func Execute[T any](ctx context.Context, e *Executor, req Request, fn func(ctx context.Context) (T, error)) (result T, replayed bool, err error) {
	req.Key = strings.TrimSpace(req.Key)
	if req.CompanyID <= 0 || req.Key == "" || req.Operation == "" {
		return result, false, shared.Invalid("idempotency company, key and operation required")
	}
	fingerprint, err := Fingerprint(req.Operation, req.Payload)
	if err != nil {
		return result, false, err
	}
	now := e.now().UTC()
	fresh := Record{
		CompanyID:   req.CompanyID,
		Key:         req.Key,
		Operation:   req.Operation,
		Fingerprint: fingerprint,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.ttl),
	}
	err = e.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		inserted, err := tx.Reserve(ctx, fresh)
		if err != nil {
			return fmt.Errorf("idempotency: reserve: %w", err)
		}
		if !inserted {
			existing, err := tx.Get(ctx, req.CompanyID, req.Key)
			if err != nil {
				return fmt.Errorf("idempotency: load: %w", err)
			}
			switch {
			case existing.Expired(now):
				if err := tx.Reclaim(ctx, fresh); err != nil {
					return fmt.Errorf("idempotency: reclaim: %w", err)
				}
			case existing.Operation != req.Operation || existing.Fingerprint != fingerprint:
				return fmt.Errorf("key %q bound to %s: %w", req.Key, existing.Operation, shared.ErrKeyConflict)
			case existing.Pending():
				return fmt.Errorf("key %q: %w", req.Key, shared.ErrKeyInFlight)
			default:
				if err := json.Unmarshal(existing.Response, &result); err != nil {
					return fmt.Errorf("idempotency: decode snapshot: %w", err)
				}
				replayed = true
				return nil
			}
		}
		result, err = fn(ctx)
		if err != nil {
			return err
		}
		snapshot, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("idempotency: encode snapshot: %w", err)
		}
		return tx.Complete(ctx, req.CompanyID, req.Key, snapshot, e.now().UTC())
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	if replayed {
		e.logger.Debug("idempotent replay",
			slog.Int64("company_id", req.CompanyID),
			slog.String("operation", req.Operation),
			slog.String("key", req.Key))
	}
	return result, replayed, nil
}
