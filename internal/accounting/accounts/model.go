package accounts

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// NormalBalance is the side on which an account increases.
type NormalBalance string

const (
	NormalDebit  NormalBalance = "DEBIT"
	NormalCredit NormalBalance = "CREDIT"
)

// NormalBalanceFor returns the conventional normal side of an account type.
func NormalBalanceFor(t AccountType) NormalBalance {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return NormalDebit
	default:
		return NormalCredit
	}
}

// Account models a chart of accounts node with running debit/credit totals.
type Account struct {
	ID             int64           `json:"id"`
	CompanyID      int64           `json:"company_id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	Type           AccountType     `json:"type"`
	NormalBalance  NormalBalance   `json:"normal_balance"`
	DebitBalance   decimal.Decimal `json:"debit_balance"`
	CreditBalance  decimal.Decimal `json:"credit_balance"`
	ParentID       *int64          `json:"parent_id,omitempty"`
	IsActive       bool            `json:"is_active"`
	LastActivityAt *time.Time      `json:"last_activity_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Balance is the signed balance on the account's normal side.
func (a Account) Balance() decimal.Decimal {
	if a.NormalBalance == NormalDebit {
		return a.DebitBalance.Sub(a.CreditBalance)
	}
	return a.CreditBalance.Sub(a.DebitBalance)
}

// ApplyDelta adds (sign=+1) or removes (sign=-1) debit and credit totals.
func (a *Account) ApplyDelta(debit, credit decimal.Decimal, sign int, at time.Time) {
	if sign < 0 {
		debit = debit.Neg()
		credit = credit.Neg()
	}
	a.DebitBalance = a.DebitBalance.Add(debit)
	a.CreditBalance = a.CreditBalance.Add(credit)
	stamp := at
	a.LastActivityAt = &stamp
	a.UpdatedAt = at
}

// CreateInput captures a new account.
type CreateInput struct {
	Code          string        `json:"code" validate:"required,max=32"`
	Name          string        `json:"name" validate:"required,max=160"`
	Type          AccountType   `json:"type" validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	NormalBalance NormalBalance `json:"normal_balance" validate:"omitempty,oneof=DEBIT CREDIT"`
	ParentID      *int64        `json:"parent_id"`
}
