package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository persists accounts.
type Repository interface {
	List(ctx context.Context, companyID int64) ([]Account, error)
	Get(ctx context.Context, companyID, id int64) (Account, error)
	Insert(ctx context.Context, account Account) (Account, error)
	UpdateParent(ctx context.Context, companyID, id int64, parentID *int64) error
	ListCompanyIDs(ctx context.Context) ([]int64, error)
}

const accountColumns = `id, company_id, code, name, type, normal_balance, debit_balance, credit_balance, parent_id, is_active, last_activity_at, created_at, updated_at`

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the Postgres backed account repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) List(ctx context.Context, companyID int64) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE company_id=$1 ORDER BY code`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := ScanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, companyID, id int64) (Account, error) {
	a, err := ScanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE company_id=$1 AND id=$2`, companyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, shared.ErrNotFound
	}
	return a, err
}

func (r *repository) Insert(ctx context.Context, a Account) (Account, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO ledger_accounts (company_id, code, name, type, normal_balance, parent_id, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+accountColumns, a.CompanyID, a.Code, a.Name, a.Type, a.NormalBalance, a.ParentID, a.IsActive)
	inserted, err := ScanAccount(row)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_ledger_accounts_code") {
			return Account{}, shared.Invalid(fmt.Sprintf("account code %s already exists", a.Code))
		}
		return Account{}, err
	}
	return inserted, nil
}

func (r *repository) UpdateParent(ctx context.Context, companyID, id int64, parentID *int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE ledger_accounts SET parent_id=$3, updated_at=NOW() WHERE company_id=$1 AND id=$2`, companyID, id, parentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) ListCompanyIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT company_id FROM ledger_accounts ORDER BY company_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ScanAccount reads a row selected with the standard account column list.
func ScanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.CompanyID, &a.Code, &a.Name, &a.Type, &a.NormalBalance, &a.DebitBalance, &a.CreditBalance,
		&a.ParentID, &a.IsActive, &a.LastActivityAt, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// Columns is the select list understood by ScanAccount.
func Columns() string {
	return accountColumns
}
