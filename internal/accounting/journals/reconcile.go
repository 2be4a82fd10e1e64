package journals

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Drift reports an account whose stored totals disagree with its entries.
type Drift struct {
	AccountID      int64           `json:"account_id"`
	Code           string          `json:"code"`
	StoredDebit    decimal.Decimal `json:"stored_debit"`
	StoredCredit   decimal.Decimal `json:"stored_credit"`
	ExpectedDebit  decimal.Decimal `json:"expected_debit"`
	ExpectedCredit decimal.Decimal `json:"expected_credit"`
}

// Reconcile rebuilds account totals from posted, non-reversal entries and returns every mismatch.
func (s *Service) Reconcile(ctx context.Context, companyID int64) ([]Drift, error) {
	accts, err := s.repo.ListAccounts(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("journals: list accounts: %w", err)
	}
	totals, err := s.repo.PostedTotals(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("journals: posted totals: %w", err)
	}
	var drifts []Drift
	for _, acc := range accts {
		expected := totals[acc.ID]
		if acc.DebitBalance.Equal(expected.Debit) && acc.CreditBalance.Equal(expected.Credit) {
			continue
		}
		drifts = append(drifts, Drift{
			AccountID:      acc.ID,
			Code:           acc.Code,
			StoredDebit:    acc.DebitBalance,
			StoredCredit:   acc.CreditBalance,
			ExpectedDebit:  expected.Debit,
			ExpectedCredit: expected.Credit,
		})
	}
	return drifts, nil
}

// ApplyBalanceEvent replays the balance effect of a posted or voided entry in its own
// transaction. Used when balances are maintained asynchronously.
func (s *Service) ApplyBalanceEvent(ctx context.Context, companyID, entryID int64, typ EventType, at time.Time) error {
	applier := NewBalanceApplier()
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntry(ctx, companyID, entryID)
		if err != nil {
			return err
		}
		switch typ {
		case EventPosted:
			return applier.Apply(ctx, tx, entry, at)
		case EventVoided:
			return applier.Revert(ctx, tx, entry, at)
		}
		return shared.Invalid(fmt.Sprintf("event %s has no balance effect", typ))
	})
}
