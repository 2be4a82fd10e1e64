package integration_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/invoicing"
	"github.com/odyssey-erp/odyssey-ledger/internal/seed"
	"github.com/odyssey-erp/odyssey-ledger/internal/store/memory"
)

var testDay = time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)

type harness struct {
	store  *memory.Store
	ledger *app.Ledger
	scope  shared.Scope
	codes  map[string]int64
}

func newHarness(t *testing.T, seeded bool) *harness {
	t.Helper()
	store := memory.New()
	ledger := app.NewLedger(app.LedgerDeps{
		Accounts:       store.Accounts(),
		Journals:       store.Journals(),
		Invoices:       store.Invoices(),
		Mappings:       store.Mappings(),
		Idempotency:    store.Idempotency(),
		Audit:          store.Audit(),
		IdempotencyTTL: time.Hour,
	})
	h := &harness{
		store:  store,
		ledger: ledger,
		scope:  shared.Scope{CompanyID: 1, ActorID: 5, Clock: func() time.Time { return testDay }},
		codes:  map[string]int64{},
	}
	if seeded {
		_, err := seed.NewSeeder(ledger.Accounts, store.Mappings(), nil).Run(context.Background(), h.scope, seed.DefaultChart)
		require.NoError(t, err)
		list, err := ledger.Accounts.List(context.Background(), h.scope)
		require.NoError(t, err)
		for _, acc := range list {
			h.codes[acc.Code] = acc.ID
		}
	}
	return h
}

func (h *harness) postedInvoice(t *testing.T, number string) invoicing.Invoice {
	t.Helper()
	ctx := context.Background()
	inv, err := h.ledger.Invoices.Create(ctx, h.scope, invoicing.CreateInput{
		Number:     number,
		CustomerID: 300,
		Currency:   "EUR",
		IssueDate:  testDay,
		DueDate:    testDay.AddDate(0, 0, 14),
		Items: []invoicing.ItemInput{{
			Description:    "Consulting",
			Quantity:       decimal.NewFromInt(4),
			UnitPrice:      decimal.NewFromInt(25),
			DiscountAmount: decimal.NewFromInt(10),
			TaxAmount:      decimal.NewFromInt(9),
		}},
	})
	require.NoError(t, err)
	_, err = h.ledger.Invoices.Send(ctx, h.scope, inv.ID)
	require.NoError(t, err)
	inv, err = h.ledger.Invoices.Post(ctx, h.scope, inv.ID)
	require.NoError(t, err)
	return inv
}

func (h *harness) requireBalance(t *testing.T, code, debit, credit string) {
	t.Helper()
	acc, err := h.store.Accounts().Get(context.Background(), h.scope.CompanyID, h.codes[code])
	require.NoError(t, err)
	require.True(t, acc.DebitBalance.Equal(decimal.RequireFromString(debit)), "%s debit %s, want %s", code, acc.DebitBalance, debit)
	require.True(t, acc.CreditBalance.Equal(decimal.RequireFromString(credit)), "%s credit %s, want %s", code, acc.CreditBalance, credit)
}

func TestInvoicePostingCreatesLinkedEntry(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	inv := h.postedInvoice(t, "INV-100")

	entry, err := h.ledger.Journals.FindBySource(ctx, h.scope, integration.SourceTypeInvoice, strconv.FormatInt(inv.ID, 10))
	require.NoError(t, err)
	require.Equal(t, journals.StatusPosted, entry.Status)
	require.Equal(t, "INV-100", entry.Reference)
	require.Len(t, entry.Lines, 3)

	h.requireBalance(t, "1200", "99", "0")
	h.requireBalance(t, "4100", "0", "90")
	h.requireBalance(t, "2200", "0", "9")
}

func TestInvoicePostingIsLinkedOnce(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	inv := h.postedInvoice(t, "INV-101")
	hooks := integration.NewHooks(h.ledger.Journals, h.store.Mappings(), nil)
	require.NoError(t, hooks.HandleInvoicePosted(ctx, invoicing.Event{Type: invoicing.EventPosted, Invoice: inv, Scope: h.scope, OccurredAt: testDay}))

	linked, err := h.ledger.Journals.List(ctx, h.scope, journals.ListFilter{SourceType: integration.SourceTypeInvoice})
	require.NoError(t, err)
	require.Len(t, linked, 1)
	h.requireBalance(t, "1200", "99", "0")
}

func TestInvoiceCancellationVoidsEntry(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	inv := h.postedInvoice(t, "INV-102")
	_, err := h.ledger.Invoices.Cancel(ctx, h.scope, inv.ID, "duplicate billing")
	require.NoError(t, err)

	entry, err := h.ledger.Journals.FindBySource(ctx, h.scope, integration.SourceTypeInvoice, strconv.FormatInt(inv.ID, 10))
	require.NoError(t, err)
	require.Equal(t, journals.StatusVoid, entry.Status)
	require.Equal(t, "Invoice INV-102 cancelled: duplicate billing", entry.VoidReason)
	require.NotNil(t, entry.ReversingEntryID)

	h.requireBalance(t, "1200", "0", "0")
	h.requireBalance(t, "4100", "0", "0")
	h.requireBalance(t, "2200", "0", "0")

	drift, err := h.ledger.Journals.Reconcile(ctx, h.scope.CompanyID)
	require.NoError(t, err)
	require.Empty(t, drift)
}

func TestCancelWithoutLinkedEntryIsNoop(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	inv, err := h.ledger.Invoices.Create(ctx, h.scope, invoicing.CreateInput{
		Number:     "INV-103",
		CustomerID: 300,
		Currency:   "EUR",
		IssueDate:  testDay,
		DueDate:    testDay,
	})
	require.NoError(t, err)
	_, err = h.ledger.Invoices.Cancel(ctx, h.scope, inv.ID, "never issued")
	require.NoError(t, err)

	entries, err := h.ledger.Journals.List(ctx, h.scope, journals.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestMissingMappingLeavesInvoicePosted(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	inv := h.postedInvoice(t, "INV-104")
	require.Equal(t, invoicing.StatusPosted, inv.Status)

	_, err := h.ledger.Journals.FindBySource(ctx, h.scope, integration.SourceTypeInvoice, strconv.FormatInt(inv.ID, 10))
	require.ErrorIs(t, err, shared.ErrNotFound)

	hooks := integration.NewHooks(h.ledger.Journals, h.store.Mappings(), nil)
	err = hooks.HandleInvoicePosted(ctx, invoicing.Event{Type: invoicing.EventPosted, Invoice: inv, Scope: h.scope})
	require.ErrorIs(t, err, shared.ErrMappingNotFound)
}
