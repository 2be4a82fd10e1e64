// Package seed installs a starter chart of accounts and the AR integration mappings.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Account is one row of the starter chart. Parent refers to another code.
type Account struct {
	Code   string
	Name   string
	Type   accounts.AccountType
	Parent string
	// Mapping, when set, binds the account to an AR integration key.
	Mapping string
}

// DefaultChart is a small trade-company chart. Parents precede children.
var DefaultChart = []Account{
	{Code: "1000", Name: "Assets", Type: accounts.AccountTypeAsset},
	{Code: "1100", Name: "Cash and Bank", Type: accounts.AccountTypeAsset, Parent: "1000"},
	{Code: "1200", Name: "Accounts Receivable", Type: accounts.AccountTypeAsset, Parent: "1000", Mapping: mappings.KeyARReceivable},
	{Code: "2000", Name: "Liabilities", Type: accounts.AccountTypeLiability},
	{Code: "2100", Name: "Accounts Payable", Type: accounts.AccountTypeLiability, Parent: "2000"},
	{Code: "2200", Name: "Output Tax Payable", Type: accounts.AccountTypeLiability, Parent: "2000", Mapping: mappings.KeyARTax},
	{Code: "3000", Name: "Equity", Type: accounts.AccountTypeEquity},
	{Code: "3100", Name: "Retained Earnings", Type: accounts.AccountTypeEquity, Parent: "3000"},
	{Code: "4000", Name: "Revenue", Type: accounts.AccountTypeRevenue},
	{Code: "4100", Name: "Sales Revenue", Type: accounts.AccountTypeRevenue, Parent: "4000", Mapping: mappings.KeyARRevenue},
	{Code: "5000", Name: "Expenses", Type: accounts.AccountTypeExpense},
	{Code: "5100", Name: "Cost of Goods Sold", Type: accounts.AccountTypeExpense, Parent: "5000"},
}

// Seeder writes the chart through the account service so codes are validated
// and the account cache is bumped.
type Seeder struct {
	accounts *accounts.Service
	mappings mappings.Repository
	logger   *slog.Logger
}

// NewSeeder builds a Seeder.
func NewSeeder(accountService *accounts.Service, mappingRepo mappings.Repository, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{accounts: accountService, mappings: mappingRepo, logger: logger}
}

// Result counts what a run changed.
type Result struct {
	Created  int
	Existing int
	Mapped   int
}

// Run installs chart for the scope's company. Accounts whose code already
// exists are kept as they are, so Run may be repeated.
func (s *Seeder) Run(ctx context.Context, scope shared.Scope, chart []Account) (Result, error) {
	var res Result
	current, err := s.accounts.List(ctx, scope)
	if err != nil {
		return res, err
	}
	ids := make(map[string]int64, len(current)+len(chart))
	for _, a := range current {
		ids[a.Code] = a.ID
	}

	for _, row := range chart {
		id, ok := ids[row.Code]
		if ok {
			res.Existing++
		} else {
			input := accounts.CreateInput{Code: row.Code, Name: row.Name, Type: row.Type}
			if row.Parent != "" {
				parentID, found := ids[row.Parent]
				if !found {
					return res, fmt.Errorf("seed: parent %s of %s not seeded", row.Parent, row.Code)
				}
				input.ParentID = &parentID
			}
			created, err := s.accounts.Create(ctx, scope, input)
			if err != nil {
				return res, fmt.Errorf("seed: account %s: %w", row.Code, err)
			}
			id = created.ID
			ids[row.Code] = id
			res.Created++
		}
		if row.Mapping == "" {
			continue
		}
		err := s.mappings.Upsert(ctx, mappings.AccountMapping{
			CompanyID: scope.CompanyID,
			Module:    mappings.ModuleAR,
			Key:       row.Mapping,
			AccountID: id,
		})
		if err != nil {
			return res, fmt.Errorf("seed: mapping %s: %w", row.Mapping, err)
		}
		res.Mapped++
	}
	s.logger.Info("chart seeded",
		slog.Int64("company_id", scope.CompanyID),
		slog.Int("created", res.Created),
		slog.Int("existing", res.Existing),
		slog.Int("mapped", res.Mapped))
	return res, nil
}
