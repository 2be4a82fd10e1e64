package seed_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/seed"
	"github.com/odyssey-erp/odyssey-ledger/internal/store/memory"
)

func TestSeederIsRepeatable(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := accounts.NewService(store.Accounts(), nil, nil)
	seeder := seed.NewSeeder(svc, store.Mappings(), nil)
	scope := shared.Scope{CompanyID: 3}

	res, err := seeder.Run(ctx, scope, seed.DefaultChart)
	require.NoError(t, err)
	require.Equal(t, seed.Result{Created: len(seed.DefaultChart), Mapped: 3}, res)

	res, err = seeder.Run(ctx, scope, seed.DefaultChart)
	require.NoError(t, err)
	require.Equal(t, seed.Result{Existing: len(seed.DefaultChart), Mapped: 3}, res)

	list, err := svc.List(ctx, scope)
	require.NoError(t, err)
	require.Len(t, list, len(seed.DefaultChart))
	byCode := map[string]accounts.Account{}
	for _, acc := range list {
		byCode[acc.Code] = acc
	}
	require.Equal(t, byCode["1000"].ID, *byCode["1200"].ParentID)
	require.Equal(t, accounts.NormalCredit, byCode["2200"].NormalBalance)

	m, err := store.Mappings().Get(ctx, 3, mappings.ModuleAR, mappings.KeyARReceivable)
	require.NoError(t, err)
	require.Equal(t, byCode["1200"].ID, m.AccountID)
}

func TestSeederRejectsOrphanRows(t *testing.T) {
	store := memory.New()
	seeder := seed.NewSeeder(accounts.NewService(store.Accounts(), nil, nil), store.Mappings(), nil)
	_, err := seeder.Run(context.Background(), shared.Scope{CompanyID: 1}, []seed.Account{
		{Code: "1100", Name: "Cash", Type: accounts.AccountTypeAsset, Parent: "1000"},
	})
	require.ErrorContains(t, err, "parent 1000")
}
