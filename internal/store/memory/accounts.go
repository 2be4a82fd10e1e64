package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

type accountRepo struct {
	s *Store
}

func (r accountRepo) List(ctx context.Context, companyID int64) ([]accounts.Account, error) {
	var out []accounts.Account
	err := r.s.view(ctx, func(st *state) error {
		for _, a := range st.accounts {
			if a.CompanyID == companyID {
				out = append(out, a)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, err
}

func (r accountRepo) Get(ctx context.Context, companyID, id int64) (accounts.Account, error) {
	var out accounts.Account
	err := r.s.view(ctx, func(st *state) error {
		a, ok := st.accounts[id]
		if !ok || a.CompanyID != companyID {
			return shared.ErrNotFound
		}
		out = a
		return nil
	})
	return out, err
}

func (r accountRepo) Insert(ctx context.Context, a accounts.Account) (accounts.Account, error) {
	err := r.s.WithTx(ctx, func(context.Context) error {
		st := r.s.state
		for _, existing := range st.accounts {
			if existing.CompanyID == a.CompanyID && existing.Code == a.Code {
				return shared.Invalid(fmt.Sprintf("account code %s already exists", a.Code))
			}
		}
		a.ID = st.id()
		st.accounts[a.ID] = a
		return nil
	})
	if err != nil {
		return accounts.Account{}, err
	}
	return a, nil
}

func (r accountRepo) UpdateParent(ctx context.Context, companyID, id int64, parentID *int64) error {
	return r.s.WithTx(ctx, func(context.Context) error {
		a, ok := r.s.state.accounts[id]
		if !ok || a.CompanyID != companyID {
			return shared.ErrNotFound
		}
		a.ParentID = parentID
		r.s.state.accounts[id] = a
		return nil
	})
}

func (r accountRepo) ListCompanyIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.s.view(ctx, func(st *state) error {
		seen := map[int64]bool{}
		for _, a := range st.accounts {
			if !seen[a.CompanyID] {
				seen[a.CompanyID] = true
				ids = append(ids, a.CompanyID)
			}
		}
		return nil
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, err
}
