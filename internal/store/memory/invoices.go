package memory

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/events"
	"github.com/odyssey-erp/odyssey-ledger/internal/invoicing"
)

type invoiceRepo struct {
	s *Store
}

func (r invoiceRepo) WithTx(ctx context.Context, fn func(context.Context, invoicing.TxRepository) error) error {
	return r.s.WithTx(ctx, func(ctx context.Context) error {
		return fn(ctx, invoiceTx{s: r.s})
	})
}

func (r invoiceRepo) Get(ctx context.Context, companyID, id int64) (invoicing.Invoice, error) {
	var out invoicing.Invoice
	err := r.s.view(ctx, func(st *state) error {
		var err error
		out, err = st.invoice(companyID, id)
		return err
	})
	return out, err
}

func (st *state) invoice(companyID, id int64) (invoicing.Invoice, error) {
	inv, ok := st.invoices[id]
	if !ok || inv.CompanyID != companyID {
		return invoicing.Invoice{}, fmt.Errorf("invoice %d: %w", id, shared.ErrNotFound)
	}
	inv.Items = append([]invoicing.Item(nil), st.items[id]...)
	inv.Allocations = append([]invoicing.Allocation(nil), st.allocations[id]...)
	return inv, nil
}

type invoiceTx struct {
	s *Store
}

func (t invoiceTx) InsertInvoice(_ context.Context, inv invoicing.Invoice) (invoicing.Invoice, error) {
	st := t.s.state
	for _, existing := range st.invoices {
		if existing.CompanyID == inv.CompanyID && existing.Number == inv.Number {
			return invoicing.Invoice{}, shared.Invalid(fmt.Sprintf("invoice number %s already exists", inv.Number))
		}
	}
	inv.ID = st.id()
	inv.Items, inv.Allocations = nil, nil
	st.invoices[inv.ID] = inv
	return inv, nil
}

func (t invoiceTx) InsertItem(_ context.Context, invoiceID int64, it invoicing.Item) (invoicing.Item, error) {
	st := t.s.state
	if _, ok := st.invoices[invoiceID]; !ok {
		return invoicing.Item{}, fmt.Errorf("invoice %d: %w", invoiceID, shared.ErrNotFound)
	}
	it.ID = st.id()
	it.InvoiceID = invoiceID
	st.items[invoiceID] = append(append([]invoicing.Item(nil), st.items[invoiceID]...), it)
	return it, nil
}

func (t invoiceTx) GetForUpdate(_ context.Context, companyID, id int64) (invoicing.Invoice, error) {
	return t.s.state.invoice(companyID, id)
}

func (t invoiceTx) SaveInvoice(_ context.Context, inv invoicing.Invoice) error {
	current, ok := t.s.state.invoices[inv.ID]
	if !ok || current.CompanyID != inv.CompanyID {
		return shared.ErrNotFound
	}
	inv.Items, inv.Allocations = nil, nil
	inv.Number, inv.CustomerID, inv.CreatedAt, inv.CreatedBy = current.Number, current.CustomerID, current.CreatedAt, current.CreatedBy
	t.s.state.invoices[inv.ID] = inv
	return nil
}

func (t invoiceTx) InsertAllocation(_ context.Context, invoiceID int64, a invoicing.Allocation) (invoicing.Allocation, error) {
	st := t.s.state
	if _, ok := st.invoices[invoiceID]; !ok {
		return invoicing.Allocation{}, fmt.Errorf("invoice %d: %w", invoiceID, shared.ErrNotFound)
	}
	a.ID = st.id()
	a.InvoiceID = invoiceID
	st.allocations[invoiceID] = append(append([]invoicing.Allocation(nil), st.allocations[invoiceID]...), a)
	return a, nil
}

func (t invoiceTx) SaveAllocation(_ context.Context, a invoicing.Allocation) error {
	st := t.s.state
	allocs := append([]invoicing.Allocation(nil), st.allocations[a.InvoiceID]...)
	for i := range allocs {
		if allocs[i].ID == a.ID {
			allocs[i].Status = a.Status
			allocs[i].VoidedAt = a.VoidedAt
			st.allocations[a.InvoiceID] = allocs
			return nil
		}
	}
	return fmt.Errorf("allocation %d: %w", a.ID, shared.ErrNotFound)
}

func (t invoiceTx) AppendOutbox(_ context.Context, env events.Envelope) error {
	return t.s.state.appendOutbox(env)
}
