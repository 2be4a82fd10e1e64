package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/invoicing"
)

// SourceTypeInvoice links journal entries to the invoice that produced them.
const SourceTypeInvoice = "invoice"

// Ledger exposes journal posting operations required by integrations.
type Ledger interface {
	FindBySource(ctx context.Context, scope shared.Scope, sourceType, sourceID string) (journals.Entry, error)
	CreateAndPost(ctx context.Context, scope shared.Scope, input journals.CreateInput) (journals.Entry, error)
	Void(ctx context.Context, scope shared.Scope, id int64, reason string) (journals.Entry, error)
}

// AccountMappingRepository provides mapping lookups.
type AccountMappingRepository interface {
	Get(ctx context.Context, companyID int64, module, key string) (mappings.AccountMapping, error)
}

// Hooks turns invoice events into ledger entries. Failures are reported to the
// invoice dispatcher, which logs them without affecting the invoice transition.
type Hooks struct {
	ledger      Ledger
	mappingRepo AccountMappingRepository
	logger      *slog.Logger
}

// NewHooks constructs integration hooks.
func NewHooks(ledger Ledger, mappingRepo AccountMappingRepository, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{ledger: ledger, mappingRepo: mappingRepo, logger: logger}
}

func (*Hooks) Name() string { return "ledger_integration" }

func (*Hooks) Criticality() shared.Criticality { return shared.BestEffort }

func (h *Hooks) Handle(ctx context.Context, _ invoicing.TxRepository, evt invoicing.Event) error {
	switch evt.Type {
	case invoicing.EventPosted:
		return h.HandleInvoicePosted(ctx, evt)
	case invoicing.EventCancelled:
		return h.HandleInvoiceCancelled(ctx, evt)
	}
	return nil
}

// HandleInvoicePosted posts receivable against revenue and tax, once per invoice.
func (h *Hooks) HandleInvoicePosted(ctx context.Context, evt invoicing.Event) error {
	if h == nil || h.ledger == nil || h.mappingRepo == nil {
		return nil
	}
	inv := evt.Invoice
	if !inv.Total.IsPositive() {
		return nil
	}
	sourceID := strconv.FormatInt(inv.ID, 10)
	existing, err := h.ledger.FindBySource(ctx, evt.Scope, SourceTypeInvoice, sourceID)
	switch {
	case err == nil:
		h.logger.Debug("invoice already linked", slog.Int64("invoice_id", inv.ID), slog.Int64("entry_id", existing.ID))
		return nil
	case !errors.Is(err, shared.ErrNotFound):
		return err
	}

	receivable, err := h.resolveAccount(ctx, inv.CompanyID, mappings.KeyARReceivable)
	if err != nil {
		return err
	}
	revenue, err := h.resolveAccount(ctx, inv.CompanyID, mappings.KeyARRevenue)
	if err != nil {
		return err
	}
	lines := []journals.LineInput{
		{AccountID: receivable, Debit: inv.Total, EntityType: SourceTypeInvoice, EntityID: sourceID, Description: "Receivable " + inv.Number},
		{AccountID: revenue, Credit: inv.NetRevenue(), EntityType: SourceTypeInvoice, EntityID: sourceID, Description: "Revenue " + inv.Number},
	}
	if inv.TaxTotal.IsPositive() {
		tax, err := h.resolveAccount(ctx, inv.CompanyID, mappings.KeyARTax)
		if err != nil {
			return err
		}
		lines = append(lines, journals.LineInput{AccountID: tax, Credit: inv.TaxTotal, EntityType: SourceTypeInvoice, EntityID: sourceID, Description: "Tax " + inv.Number})
	}
	postedAt := evt.OccurredAt
	if inv.PostedAt != nil {
		postedAt = *inv.PostedAt
	}
	_, err = h.ledger.CreateAndPost(ctx, evt.Scope, journals.CreateInput{
		Description: fmt.Sprintf("Invoice %s", inv.Number),
		Reference:   inv.Number,
		EntryDate:   postedAt,
		SourceType:  SourceTypeInvoice,
		SourceID:    sourceID,
		Metadata:    map[string]any{"customer_id": inv.CustomerID, "currency": inv.Currency},
		Lines:       lines,
	})
	if errors.Is(err, shared.ErrSourceAlreadyLinked) {
		return nil
	}
	return err
}

// HandleInvoiceCancelled voids the posted entry linked to the invoice, if any.
func (h *Hooks) HandleInvoiceCancelled(ctx context.Context, evt invoicing.Event) error {
	if h == nil || h.ledger == nil {
		return nil
	}
	inv := evt.Invoice
	entry, err := h.ledger.FindBySource(ctx, evt.Scope, SourceTypeInvoice, strconv.FormatInt(inv.ID, 10))
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if entry.Status != journals.StatusPosted {
		return nil
	}
	reason := fmt.Sprintf("Invoice %s cancelled: %s", inv.Number, evt.Reason)
	_, err = h.ledger.Void(ctx, evt.Scope, entry.ID, reason)
	return err
}

func (h *Hooks) resolveAccount(ctx context.Context, companyID int64, key string) (int64, error) {
	mapping, err := h.mappingRepo.Get(ctx, companyID, mappings.ModuleAR, key)
	if err != nil {
		return 0, fmt.Errorf("integration: mapping %s: %w", key, err)
	}
	return mapping.AccountID, nil
}
