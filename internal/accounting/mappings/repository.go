package mappings

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Repository resolves and maintains account mappings.
type Repository interface {
	Get(ctx context.Context, companyID int64, module, key string) (AccountMapping, error)
	Upsert(ctx context.Context, mapping AccountMapping) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the Postgres mapping repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// Get resolves an account mapping for the specified key.
func (r *repository) Get(ctx context.Context, companyID int64, module, key string) (AccountMapping, error) {
	if module == "" || key == "" {
		return AccountMapping{}, shared.Invalid("mapping module and key required")
	}
	var mapping AccountMapping
	err := r.db.QueryRow(ctx, `SELECT company_id, module, key, account_id, created_at, updated_at
FROM account_mappings WHERE company_id=$1 AND module=$2 AND key=$3`, companyID, strings.ToUpper(module), key).
		Scan(&mapping.CompanyID, &mapping.Module, &mapping.Key, &mapping.AccountID, &mapping.CreatedAt, &mapping.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountMapping{}, shared.ErrMappingNotFound
		}
		return AccountMapping{}, err
	}
	return mapping, nil
}

// Upsert binds module/key to an account, replacing any previous binding.
func (r *repository) Upsert(ctx context.Context, m AccountMapping) error {
	_, err := r.db.Exec(ctx, `INSERT INTO account_mappings (company_id, module, key, account_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (company_id, module, key) DO UPDATE SET account_id=EXCLUDED.account_id, updated_at=NOW()`,
		m.CompanyID, strings.ToUpper(m.Module), m.Key, m.AccountID)
	return err
}
