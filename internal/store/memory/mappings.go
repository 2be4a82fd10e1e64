package memory

import (
	"context"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

type mappingRepo struct {
	s *Store
}

func (r mappingRepo) Get(ctx context.Context, companyID int64, module, key string) (mappings.AccountMapping, error) {
	if module == "" || key == "" {
		return mappings.AccountMapping{}, shared.Invalid("mapping module and key required")
	}
	var out mappings.AccountMapping
	err := r.s.view(ctx, func(st *state) error {
		m, ok := st.mappings[mappingKey{companyID: companyID, module: strings.ToUpper(module), key: key}]
		if !ok {
			return shared.ErrMappingNotFound
		}
		out = m
		return nil
	})
	return out, err
}

func (r mappingRepo) Upsert(ctx context.Context, m mappings.AccountMapping) error {
	return r.s.WithTx(ctx, func(context.Context) error {
		m.Module = strings.ToUpper(m.Module)
		k := mappingKey{companyID: m.CompanyID, module: m.Module, key: m.Key}
		now := time.Now().UTC()
		if existing, ok := r.s.state.mappings[k]; ok {
			m.CreatedAt = existing.CreatedAt
		} else {
			m.CreatedAt = now
		}
		m.UpdatedAt = now
		r.s.state.mappings[k] = m
		return nil
	})
}
