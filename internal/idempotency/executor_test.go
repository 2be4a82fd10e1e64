package idempotency_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/idempotency"
	"github.com/odyssey-erp/odyssey-ledger/internal/store/memory"
)

type posting struct {
	EntryID int64  `json:"entry_id"`
	Ref     string `json:"ref"`
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func newExecutor(t *testing.T) (*idempotency.Executor, *memory.Store, *clock) {
	t.Helper()
	store := memory.New()
	c := &clock{now: time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)}
	return idempotency.NewExecutor(store.Idempotency(), time.Hour, nil).WithClock(c.Now), store, c
}

func request(key string, payload any) idempotency.Request {
	return idempotency.Request{CompanyID: 1, Key: key, Operation: "journal.post", Payload: payload}
}

func TestExecuteReplaysStoredResult(t *testing.T) {
	exec, store, _ := newExecutor(t)
	ctx := context.Background()
	var calls atomic.Int32
	fn := func(context.Context) (posting, error) {
		return posting{EntryID: int64(calls.Add(1)), Ref: "JE-1"}, nil
	}

	first, replayed, err := idempotency.Execute(ctx, exec, request("k-1", map[string]any{"amount": "10.00"}), fn)
	require.NoError(t, err)
	require.False(t, replayed)
	require.Equal(t, posting{EntryID: 1, Ref: "JE-1"}, first)

	second, replayed, err := idempotency.Execute(ctx, exec, request(" k-1 ", map[string]any{"amount": "10.00"}), fn)
	require.NoError(t, err)
	require.True(t, replayed)
	require.Equal(t, first, second)
	require.Equal(t, int32(1), calls.Load())

	rec, ok := store.IdempotencyRecord(1, "k-1")
	require.True(t, ok)
	require.False(t, rec.Pending())
}

func TestExecuteRejectsKeyReuseWithDifferentPayload(t *testing.T) {
	exec, _, _ := newExecutor(t)
	ctx := context.Background()
	fn := func(context.Context) (posting, error) { return posting{EntryID: 7}, nil }

	_, _, err := idempotency.Execute(ctx, exec, request("k-2", map[string]any{"amount": "10.00"}), fn)
	require.NoError(t, err)

	_, _, err = idempotency.Execute(ctx, exec, request("k-2", map[string]any{"amount": "11.00"}), fn)
	require.ErrorIs(t, err, shared.ErrKeyConflict)

	other := request("k-2", map[string]any{"amount": "10.00"})
	other.Operation = "journal.void"
	_, _, err = idempotency.Execute(ctx, exec, other, fn)
	require.ErrorIs(t, err, shared.ErrKeyConflict)

	other = request("k-2", map[string]any{"amount": "10.00"})
	other.CompanyID = 2
	_, replayed, err := idempotency.Execute(ctx, exec, other, fn)
	require.NoError(t, err)
	require.False(t, replayed)
}

func TestExecuteFailureReleasesKey(t *testing.T) {
	exec, store, _ := newExecutor(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, _, err := idempotency.Execute(ctx, exec, request("k-3", 1), func(context.Context) (posting, error) {
		return posting{}, boom
	})
	require.ErrorIs(t, err, boom)
	_, ok := store.IdempotencyRecord(1, "k-3")
	require.False(t, ok)

	got, replayed, err := idempotency.Execute(ctx, exec, request("k-3", 1), func(context.Context) (posting, error) {
		return posting{EntryID: 9}, nil
	})
	require.NoError(t, err)
	require.False(t, replayed)
	require.Equal(t, int64(9), got.EntryID)
}

func TestExecuteReclaimsExpiredKey(t *testing.T) {
	exec, _, c := newExecutor(t)
	ctx := context.Background()
	var calls atomic.Int32
	fn := func(context.Context) (posting, error) {
		return posting{EntryID: int64(calls.Add(1))}, nil
	}

	_, _, err := idempotency.Execute(ctx, exec, request("k-4", "a"), fn)
	require.NoError(t, err)

	c.now = c.now.Add(2 * time.Hour)
	got, replayed, err := idempotency.Execute(ctx, exec, request("k-4", "b"), fn)
	require.NoError(t, err)
	require.False(t, replayed)
	require.Equal(t, int64(2), got.EntryID)
}

func TestExecuteConcurrentRetriesRunOnce(t *testing.T) {
	exec, _, _ := newExecutor(t)
	ctx := context.Background()
	var calls, replays atomic.Int32
	fn := func(context.Context) (posting, error) {
		calls.Add(1)
		return posting{EntryID: 42}, nil
	}

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			got, replayed, err := idempotency.Execute(ctx, exec, request("k-5", map[string]int{"n": 1}), fn)
			if err != nil {
				return err
			}
			if got.EntryID != 42 {
				return errors.New("unexpected result")
			}
			if replayed {
				replays.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, int32(15), replays.Load())
}

func TestExecuteValidatesRequest(t *testing.T) {
	exec, _, _ := newExecutor(t)
	fn := func(context.Context) (int, error) { return 1, nil }
	_, _, err := idempotency.Execute(context.Background(), exec, idempotency.Request{CompanyID: 1, Operation: "x"}, fn)
	require.ErrorIs(t, err, shared.ErrValidation)
	_, _, err = idempotency.Execute(context.Background(), exec, idempotency.Request{Key: "k", Operation: "x"}, fn)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCleanupRemovesExpiredRecords(t *testing.T) {
	exec, store, c := newExecutor(t)
	ctx := context.Background()
	fn := func(context.Context) (int, error) { return 1, nil }

	_, _, err := idempotency.Execute(ctx, exec, request("old", 1), fn)
	require.NoError(t, err)
	c.now = c.now.Add(90 * time.Minute)
	_, _, err = idempotency.Execute(ctx, exec, request("new", 1), fn)
	require.NoError(t, err)

	n, err := exec.Cleanup(ctx, 15*time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	_, ok := store.IdempotencyRecord(1, "old")
	require.False(t, ok)
	_, ok = store.IdempotencyRecord(1, "new")
	require.True(t, ok)
}

func TestFingerprintIgnoresKeyOrder(t *testing.T) {
	a, err := idempotency.Fingerprint("op", map[string]any{"a": 1, "b": []int{1, 2}})
	require.NoError(t, err)
	b, err := idempotency.Fingerprint("op", struct {
		B []int `json:"b"`
		A int   `json:"a"`
	}{B: []int{1, 2}, A: 1})
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := idempotency.Fingerprint("other", map[string]any{"a": 1, "b": []int{1, 2}})
	require.NoError(t, err)
	require.NotEqual(t, a, c)
	require.Len(t, a, 64)
}
