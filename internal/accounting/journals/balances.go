package journals

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// BalanceApplier keeps account debit/credit totals in step with posted entries.
// Each entry's effect is recorded in a marker row, so redelivered events are no-ops.
type BalanceApplier struct{}

// NewBalanceApplier returns the balance listener.
func NewBalanceApplier() *BalanceApplier {
	return &BalanceApplier{}
}

func (*BalanceApplier) Name() string { return "balances" }

func (*BalanceApplier) Criticality() shared.Criticality { return shared.Critical }

func (b *BalanceApplier) Handle(ctx context.Context, tx TxRepository, evt Event) error {
	switch evt.Type {
	case EventPosted:
		return b.Apply(ctx, tx, evt.Entry, evt.OccurredAt)
	case EventVoided:
		return b.Revert(ctx, tx, evt.Entry, evt.OccurredAt)
	}
	return nil
}

// Apply adds the entry's lines to account totals unless already applied.
// Reversing entries carry no balance effect of their own; the void they belong to reverted the original.
func (b *BalanceApplier) Apply(ctx context.Context, tx TxRepository, entry Entry, at time.Time) error {
	fresh, err := tx.RecordEffect(ctx, entry.ID, EffectApply)
	if err != nil {
		return err
	}
	if !fresh || entry.IsReversal() {
		return nil
	}
	return mutateBalances(ctx, tx, entry, 1, at)
}

// Revert removes the entry's lines from account totals. When the apply effect was
// never recorded both markers are written and totals stay untouched.
func (b *BalanceApplier) Revert(ctx context.Context, tx TxRepository, entry Entry, at time.Time) error {
	fresh, err := tx.RecordEffect(ctx, entry.ID, EffectRevert)
	if err != nil {
		return err
	}
	if !fresh {
		return nil
	}
	neverApplied, err := tx.RecordEffect(ctx, entry.ID, EffectApply)
	if err != nil {
		return err
	}
	if neverApplied || entry.IsReversal() {
		return nil
	}
	return mutateBalances(ctx, tx, entry, -1, at)
}

func mutateBalances(ctx context.Context, tx TxRepository, entry Entry, sign int, at time.Time) error {
	deltas := make(map[int64]*AccountTotals)
	for _, l := range entry.Lines {
		d, ok := deltas[l.AccountID]
		if !ok {
			d = &AccountTotals{Debit: decimal.Zero, Credit: decimal.Zero}
			deltas[l.AccountID] = d
		}
		d.Debit = d.Debit.Add(l.Debit)
		d.Credit = d.Credit.Add(l.Credit)
	}
	ids := make([]int64, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	locked, err := tx.LockAccounts(ctx, entry.CompanyID, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		acc, ok := locked[id]
		if !ok {
			return fmt.Errorf("account %d: %w", id, shared.ErrNotFound)
		}
		acc.ApplyDelta(deltas[id].Debit, deltas[id].Credit, sign, at)
		if err := tx.SaveAccountBalance(ctx, acc); err != nil {
			return err
		}
	}
	return nil
}
