package accounts_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/store/memory"
)

type countingRepo struct {
	accounts.Repository
	lists atomic.Int32
}

func (r *countingRepo) List(ctx context.Context, companyID int64) ([]accounts.Account, error) {
	r.lists.Add(1)
	return r.Repository.List(ctx, companyID)
}

func newService(t *testing.T) (*accounts.Service, *countingRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	repo := &countingRepo{Repository: memory.New().Accounts()}
	return accounts.NewService(repo, cache.NewVersioned(client, "ledger:accounts", time.Minute), nil), repo
}

var scope = shared.Scope{CompanyID: 1, ActorID: 3}

func TestListIsCachedUntilCreate(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, scope, accounts.CreateInput{Code: "1100", Name: "Cash", Type: accounts.AccountTypeAsset})
	require.NoError(t, err)

	list, err := svc.List(ctx, scope)
	require.NoError(t, err)
	require.Len(t, list, 1)
	_, err = svc.List(ctx, scope)
	require.NoError(t, err)
	require.Equal(t, int32(1), repo.lists.Load())

	_, err = svc.Create(ctx, scope, accounts.CreateInput{Code: "4100", Name: "Sales", Type: accounts.AccountTypeRevenue})
	require.NoError(t, err)
	list, err = svc.List(ctx, scope)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, int32(2), repo.lists.Load())
	require.Equal(t, accounts.NormalCredit, list[1].NormalBalance)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, scope, accounts.CreateInput{Code: " ", Name: "Blank", Type: accounts.AccountTypeAsset})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Create(ctx, scope, accounts.CreateInput{Code: "9000", Name: "Odd", Type: "SUSPENSE"})
	require.ErrorIs(t, err, shared.ErrValidation)

	missing := int64(999)
	_, err = svc.Create(ctx, scope, accounts.CreateInput{Code: "1110", Name: "Petty cash", Type: accounts.AccountTypeAsset, ParentID: &missing})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, scope, accounts.CreateInput{Code: "1100", Name: "Cash", Type: accounts.AccountTypeAsset})
	require.NoError(t, err)
	_, err = svc.Create(ctx, scope, accounts.CreateInput{Code: "1100", Name: "Cash again", Type: accounts.AccountTypeAsset})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReparentRejectsCycles(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	root, err := svc.Create(ctx, scope, accounts.CreateInput{Code: "1000", Name: "Assets", Type: accounts.AccountTypeAsset})
	require.NoError(t, err)
	child, err := svc.Create(ctx, scope, accounts.CreateInput{Code: "1100", Name: "Cash", Type: accounts.AccountTypeAsset, ParentID: &root.ID})
	require.NoError(t, err)
	leaf, err := svc.Create(ctx, scope, accounts.CreateInput{Code: "1110", Name: "Petty cash", Type: accounts.AccountTypeAsset, ParentID: &child.ID})
	require.NoError(t, err)

	require.ErrorIs(t, svc.Reparent(ctx, scope, root.ID, &leaf.ID), shared.ErrValidation)
	require.ErrorIs(t, svc.Reparent(ctx, scope, root.ID, &root.ID), shared.ErrValidation)

	require.NoError(t, svc.Reparent(ctx, scope, leaf.ID, &root.ID))
	got, err := svc.Get(ctx, scope, leaf.ID)
	require.NoError(t, err)
	require.Equal(t, root.ID, *got.ParentID)

	require.NoError(t, svc.Reparent(ctx, scope, leaf.ID, nil))
	got, err = svc.Get(ctx, scope, leaf.ID)
	require.NoError(t, err)
	require.Nil(t, got.ParentID)
}

func TestAccountsAreTenantScoped(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	acc, err := svc.Create(ctx, scope, accounts.CreateInput{Code: "1100", Name: "Cash", Type: accounts.AccountTypeAsset})
	require.NoError(t, err)

	other := shared.Scope{CompanyID: 2}
	_, err = svc.Get(ctx, other, acc.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	list, err := svc.List(ctx, other)
	require.NoError(t, err)
	require.Empty(t, list)

	require.ErrorIs(t, svc.Reparent(ctx, other, acc.ID, nil), shared.ErrNotFound)
	_, err = svc.Create(ctx, other, accounts.CreateInput{Code: "1110", Name: "Petty cash", Type: accounts.AccountTypeAsset, ParentID: &acc.ID})
	require.ErrorIs(t, err, shared.ErrValidation)

	ids, err := svc.CompanyIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids)
}

func TestNilCacheFallsThrough(t *testing.T) {
	repo := &countingRepo{Repository: memory.New().Accounts()}
	svc := accounts.NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, scope, accounts.CreateInput{Code: "1100", Name: "Cash", Type: accounts.AccountTypeAsset})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		list, err := svc.List(ctx, scope)
		require.NoError(t, err)
		require.Len(t, list, 1)
	}
	require.Equal(t, int32(2), repo.lists.Load())
}
