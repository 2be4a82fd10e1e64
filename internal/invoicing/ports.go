package invoicing

import (
	"context"

	"github.com/odyssey-erp/odyssey-ledger/internal/events"
)

// Repository persists invoices.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, companyID, id int64) (Invoice, error)
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	InsertItem(ctx context.Context, invoiceID int64, item Item) (Item, error)
	// GetForUpdate loads and locks the invoice with items and allocations.
	GetForUpdate(ctx context.Context, companyID, id int64) (Invoice, error)
	SaveInvoice(ctx context.Context, inv Invoice) error
	InsertAllocation(ctx context.Context, invoiceID int64, alloc Allocation) (Allocation, error)
	SaveAllocation(ctx context.Context, alloc Allocation) error
	AppendOutbox(ctx context.Context, env events.Envelope) error
}
