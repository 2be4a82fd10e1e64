package memory

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/idempotency"
)

type idemStore struct {
	s *Store
}

func (i idemStore) WithTx(ctx context.Context, fn func(context.Context, idempotency.TxStore) error) error {
	return i.s.WithTx(ctx, func(ctx context.Context) error {
		return fn(ctx, idemTx{s: i.s})
	})
}

func (i idemStore) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := i.s.WithTx(ctx, func(context.Context) error {
		for k, rec := range i.s.state.idempotency {
			if rec.ExpiresAt.Before(cutoff) {
				delete(i.s.state.idempotency, k)
				n++
			}
		}
		return nil
	})
	return n, err
}

type idemTx struct {
	s *Store
}

func (t idemTx) Reserve(_ context.Context, rec idempotency.Record) (bool, error) {
	k := idemKey{companyID: rec.CompanyID, key: rec.Key}
	if _, ok := t.s.state.idempotency[k]; ok {
		return false, nil
	}
	t.s.state.idempotency[k] = rec
	return true, nil
}

func (t idemTx) Get(_ context.Context, companyID int64, key string) (idempotency.Record, error) {
	rec, ok := t.s.state.idempotency[idemKey{companyID: companyID, key: key}]
	if !ok {
		return idempotency.Record{}, shared.ErrNotFound
	}
	return rec, nil
}

func (t idemTx) Reclaim(_ context.Context, rec idempotency.Record) error {
	rec.Response, rec.CompletedAt = nil, nil
	t.s.state.idempotency[idemKey{companyID: rec.CompanyID, key: rec.Key}] = rec
	return nil
}

func (t idemTx) Complete(_ context.Context, companyID int64, key string, response []byte, at time.Time) error {
	k := idemKey{companyID: companyID, key: key}
	rec, ok := t.s.state.idempotency[k]
	if !ok {
		return shared.ErrNotFound
	}
	rec.Response = append([]byte(nil), response...)
	stamp := at
	rec.CompletedAt = &stamp
	t.s.state.idempotency[k] = rec
	return nil
}

// IdempotencyRecord returns the stored record for key, if any.
func (s *Store) IdempotencyRecord(companyID int64, key string) (idempotency.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.state.idempotency[idemKey{companyID: companyID, key: key}]
	return rec, ok
}
