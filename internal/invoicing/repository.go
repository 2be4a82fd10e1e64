package invoicing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/events"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

const invoiceColumns = `id, company_id, number, customer_id, status, currency, issue_date, due_date, subtotal, discount_total,
tax_total, total, paid_total, balance_due, sent_at, posted_at, paid_at, cancelled_at, cancellation_reason, metadata,
COALESCE(created_by, 0), created_at, updated_at`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	tx *db.Transactor
}

// NewRepository returns the Postgres invoice repository on the shared transactor.
func NewRepository(tx *db.Transactor) Repository {
	return &repository{tx: tx}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *repository) Get(ctx context.Context, companyID, id int64) (Invoice, error) {
	return loadInvoice(ctx, r.tx.Pool(), companyID, id, false)
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	meta, err := json.Marshal(nonNil(inv.Metadata))
	if err != nil {
		return Invoice{}, err
	}
	row := t.tx.QueryRow(ctx, `INSERT INTO invoices (company_id, number, customer_id, status, currency, issue_date, due_date,
subtotal, discount_total, tax_total, total, paid_total, balance_due, metadata, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NULLIF($15, 0), $16, $17)
RETURNING `+invoiceColumns,
		inv.CompanyID, inv.Number, inv.CustomerID, inv.Status, inv.Currency, inv.IssueDate, inv.DueDate,
		inv.Subtotal, inv.DiscountTotal, inv.TaxTotal, inv.Total, inv.PaidTotal, inv.BalanceDue, meta,
		inv.CreatedBy, inv.CreatedAt, inv.UpdatedAt)
	out, err := scanInvoice(row)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_invoices_number") {
			return Invoice{}, shared.Invalid(fmt.Sprintf("invoice number %s already exists", inv.Number))
		}
		return Invoice{}, err
	}
	return out, nil
}

func (t *txRepository) InsertItem(ctx context.Context, invoiceID int64, it Item) (Item, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO invoice_items (invoice_id, description, quantity, unit_price, discount_amount, tax_amount)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		invoiceID, it.Description, it.Quantity, it.UnitPrice, it.DiscountAmount, it.TaxAmount).Scan(&it.ID)
	if err != nil {
		return Item{}, err
	}
	it.InvoiceID = invoiceID
	return it, nil
}

func (t *txRepository) GetForUpdate(ctx context.Context, companyID, id int64) (Invoice, error) {
	return loadInvoice(ctx, t.tx, companyID, id, true)
}

func (t *txRepository) SaveInvoice(ctx context.Context, inv Invoice) error {
	tag, err := t.tx.Exec(ctx, `UPDATE invoices SET status=$3, subtotal=$4, discount_total=$5, tax_total=$6, total=$7,
paid_total=$8, balance_due=$9, sent_at=$10, posted_at=$11, paid_at=$12, cancelled_at=$13, cancellation_reason=$14, updated_at=$15
WHERE company_id=$1 AND id=$2`,
		inv.CompanyID, inv.ID, inv.Status, inv.Subtotal, inv.DiscountTotal, inv.TaxTotal, inv.Total,
		inv.PaidTotal, inv.BalanceDue, inv.SentAt, inv.PostedAt, inv.PaidAt, inv.CancelledAt, inv.CancellationReason, inv.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepository) InsertAllocation(ctx context.Context, invoiceID int64, a Allocation) (Allocation, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO payment_allocations (invoice_id, amount, status, reference, allocated_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`, invoiceID, a.Amount, a.Status, a.Reference, a.AllocatedAt).Scan(&a.ID)
	if err != nil {
		return Allocation{}, err
	}
	a.InvoiceID = invoiceID
	return a, nil
}

func (t *txRepository) SaveAllocation(ctx context.Context, a Allocation) error {
	_, err := t.tx.Exec(ctx, `UPDATE payment_allocations SET status=$2, voided_at=$3 WHERE id=$1`, a.ID, a.Status, a.VoidedAt)
	return err
}

func (t *txRepository) AppendOutbox(ctx context.Context, env events.Envelope) error {
	return events.InsertOutbox(ctx, t.tx, env)
}

func loadInvoice(ctx context.Context, q querier, companyID, id int64, lock bool) (Invoice, error) {
	sql := `SELECT ` + invoiceColumns + ` FROM invoices WHERE company_id=$1 AND id=$2`
	if lock {
		sql += ` FOR UPDATE`
	}
	inv, err := scanInvoice(q.QueryRow(ctx, sql, companyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, fmt.Errorf("invoice %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return Invoice{}, err
	}
	if inv.Items, err = loadItems(ctx, q, id); err != nil {
		return Invoice{}, err
	}
	if inv.Allocations, err = loadAllocations(ctx, q, id); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

func loadItems(ctx context.Context, q querier, invoiceID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, invoice_id, description, quantity, unit_price, discount_amount, tax_amount
FROM invoice_items WHERE invoice_id=$1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.Description, &it.Quantity, &it.UnitPrice, &it.DiscountAmount, &it.TaxAmount); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func loadAllocations(ctx context.Context, q querier, invoiceID int64) ([]Allocation, error) {
	rows, err := q.Query(ctx, `SELECT id, invoice_id, amount, status, reference, allocated_at, voided_at
FROM payment_allocations WHERE invoice_id=$1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.InvoiceID, &a.Amount, &a.Status, &a.Reference, &a.AllocatedAt, &a.VoidedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var meta []byte
	err := row.Scan(&inv.ID, &inv.CompanyID, &inv.Number, &inv.CustomerID, &inv.Status, &inv.Currency, &inv.IssueDate, &inv.DueDate,
		&inv.Subtotal, &inv.DiscountTotal, &inv.TaxTotal, &inv.Total, &inv.PaidTotal, &inv.BalanceDue,
		&inv.SentAt, &inv.PostedAt, &inv.PaidAt, &inv.CancelledAt, &inv.CancellationReason, &meta,
		&inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return Invoice{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &inv.Metadata); err != nil {
			return Invoice{}, fmt.Errorf("invoicing: decode metadata: %w", err)
		}
	}
	return inv, nil
}

func nonNil(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
