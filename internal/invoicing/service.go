package invoicing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Service drives the invoice lifecycle.
type Service struct {
	repo       Repository
	machine    *StateMachine
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewService builds the invoice service. dispatcher may be nil.
func NewService(repo Repository, dispatcher *Dispatcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, machine: NewStateMachine(), dispatcher: dispatcher, logger: logger}
}

// StateMachine exposes the transition graph.
func (s *Service) StateMachine() *StateMachine {
	return s.machine
}

// Get loads an invoice with items and allocations.
func (s *Service) Get(ctx context.Context, scope shared.Scope, id int64) (Invoice, error) {
	if err := scope.Validate(); err != nil {
		return Invoice{}, err
	}
	return s.repo.Get(ctx, scope.CompanyID, id)
}

// Create stores a draft invoice.
func (s *Service) Create(ctx context.Context, scope shared.Scope, input CreateInput) (Invoice, error) {
	if err := scope.Validate(); err != nil {
		return Invoice{}, err
	}
	input.Number = strings.TrimSpace(input.Number)
	switch {
	case input.Number == "":
		return Invoice{}, shared.Invalid("invoice number required")
	case input.CustomerID <= 0:
		return Invoice{}, shared.Invalid("customer required")
	case input.IssueDate.IsZero() || input.DueDate.IsZero():
		return Invoice{}, shared.Invalid("issue and due dates required")
	case input.DueDate.Before(input.IssueDate):
		return Invoice{}, shared.Invalid("due date before issue date")
	}
	unit, err := currency.ParseISO(input.Currency)
	if err != nil {
		return Invoice{}, shared.Invalid("currency must be an ISO 4217 code")
	}
	items := make([]Item, 0, len(input.Items))
	for i, in := range input.Items {
		item, err := buildItem(i+1, in)
		if err != nil {
			return Invoice{}, err
		}
		items = append(items, item)
	}
	var out Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := scope.Now()
		inv := Invoice{
			CompanyID:  scope.CompanyID,
			Number:     input.Number,
			CustomerID: input.CustomerID,
			Status:     StatusDraft,
			Currency:   unit.String(),
			IssueDate:  dateOnly(input.IssueDate),
			DueDate:    dateOnly(input.DueDate),
			Metadata:   input.Metadata,
			CreatedBy:  scope.ActorID,
			CreatedAt:  now,
			UpdatedAt:  now,
			Items:      items,
		}
		inv.RecalculateTotals()
		inserted, err := tx.InsertInvoice(ctx, inv)
		if err != nil {
			return err
		}
		inserted.Items = make([]Item, 0, len(items))
		for _, it := range items {
			saved, err := tx.InsertItem(ctx, inserted.ID, it)
			if err != nil {
				return err
			}
			inserted.Items = append(inserted.Items, saved)
		}
		out = inserted
		return nil
	})
	return out, err
}

// AddItem appends an item while the invoice is draft or sent.
func (s *Service) AddItem(ctx context.Context, scope shared.Scope, id int64, input ItemInput) (Invoice, error) {
	item, err := buildItem(1, input)
	if err != nil {
		return Invoice{}, err
	}
	return s.mutate(ctx, scope, id, func(ctx context.Context, tx TxRepository, inv *Invoice) error {
		if inv.Status != StatusDraft && inv.Status != StatusSent {
			return shared.NewTransitionError(entityInvoice, string(inv.Status), string(inv.Status), "items can only be added to draft or sent invoices")
		}
		saved, err := tx.InsertItem(ctx, inv.ID, item)
		if err != nil {
			return err
		}
		inv.Items = append(inv.Items, saved)
		inv.RecalculateTotals()
		inv.UpdatedAt = scope.Now()
		return tx.SaveInvoice(ctx, *inv)
	})
}

// TransitionTo moves the invoice to target. Requesting the current status is a no-op.
func (s *Service) TransitionTo(ctx context.Context, scope shared.Scope, id int64, to Status, reason string) (Invoice, error) {
	return s.mutate(ctx, scope, id, func(ctx context.Context, tx TxRepository, inv *Invoice) error {
		_, err := s.transition(ctx, tx, scope, inv, to, TransitionContext{Scope: scope, Reason: reason, At: scope.Now()})
		return err
	})
}

// Send marks a draft invoice as sent.
func (s *Service) Send(ctx context.Context, scope shared.Scope, id int64) (Invoice, error) {
	return s.TransitionTo(ctx, scope, id, StatusSent, "")
}

// Post posts a sent invoice; the ledger entry is created by the invoice-posted subscriber.
func (s *Service) Post(ctx context.Context, scope shared.Scope, id int64) (Invoice, error) {
	return s.TransitionTo(ctx, scope, id, StatusPosted, "")
}

// Cancel cancels the invoice with a mandatory reason.
func (s *Service) Cancel(ctx context.Context, scope shared.Scope, id int64, reason string) (Invoice, error) {
	return s.TransitionTo(ctx, scope, id, StatusCancelled, reason)
}

// Reopen returns the invoice to draft.
func (s *Service) Reopen(ctx context.Context, scope shared.Scope, id int64) (Invoice, error) {
	return s.TransitionTo(ctx, scope, id, StatusDraft, "")
}

// ApplyPayment allocates a positive amount up to the balance due.
func (s *Service) ApplyPayment(ctx context.Context, scope shared.Scope, id int64, amount decimal.Decimal, reference string) (Invoice, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return Invoice{}, shared.Invalid("payment amount must be positive")
	}
	return s.mutate(ctx, scope, id, func(ctx context.Context, tx TxRepository, inv *Invoice) error {
		switch inv.Status {
		case StatusSent, StatusPosted, StatusPartial:
		default:
			return shared.NewTransitionError(entityInvoice, string(inv.Status), string(StatusPartial), "invoice does not accept payments")
		}
		inv.RecalculateTotals()
		if amount.GreaterThan(inv.BalanceDue) {
			return shared.Invalid(fmt.Sprintf("payment %s exceeds balance due %s", amount.StringFixed(2), inv.BalanceDue.StringFixed(2)))
		}
		alloc, err := tx.InsertAllocation(ctx, inv.ID, Allocation{
			InvoiceID:   inv.ID,
			Amount:      amount,
			Status:      AllocationActive,
			Reference:   strings.TrimSpace(reference),
			AllocatedAt: scope.Now(),
		})
		if err != nil {
			return err
		}
		inv.Allocations = append(inv.Allocations, alloc)
		return s.updatePaymentStatus(ctx, tx, scope, inv)
	})
}

// VoidAllocation cancels a payment allocation and corrects the status.
func (s *Service) VoidAllocation(ctx context.Context, scope shared.Scope, id, allocationID int64) (Invoice, error) {
	return s.mutate(ctx, scope, id, func(ctx context.Context, tx TxRepository, inv *Invoice) error {
		idx := -1
		for i, a := range inv.Allocations {
			if a.ID == allocationID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("allocation %d: %w", allocationID, shared.ErrNotFound)
		}
		alloc := inv.Allocations[idx]
		if alloc.Status == AllocationVoid {
			return nil
		}
		now := scope.Now()
		alloc.Status = AllocationVoid
		alloc.VoidedAt = &now
		if err := tx.SaveAllocation(ctx, alloc); err != nil {
			return err
		}
		inv.Allocations[idx] = alloc
		return s.updatePaymentStatus(ctx, tx, scope, inv)
	})
}

// UpdatePaymentStatus recomputes totals and moves the invoice to the status its
// payments imply, when that status differs and is reachable.
func (s *Service) UpdatePaymentStatus(ctx context.Context, scope shared.Scope, id int64) (Invoice, error) {
	return s.mutate(ctx, scope, id, func(ctx context.Context, tx TxRepository, inv *Invoice) error {
		return s.updatePaymentStatus(ctx, tx, scope, inv)
	})
}

func (s *Service) updatePaymentStatus(ctx context.Context, tx TxRepository, scope shared.Scope, inv *Invoice) error {
	inv.RecalculateTotals()
	inv.UpdatedAt = scope.Now()
	target := PaymentTarget(*inv)
	if target != inv.Status && s.machine.Can(inv.Status, target) {
		changed, err := s.transition(ctx, tx, scope, inv, target, TransitionContext{Scope: scope, At: scope.Now(), Automatic: true})
		if err != nil || changed {
			return err
		}
	}
	return tx.SaveInvoice(ctx, *inv)
}

func (s *Service) mutate(ctx context.Context, scope shared.Scope, id int64, fn func(context.Context, TxRepository, *Invoice) error) (Invoice, error) {
	if err := scope.Validate(); err != nil {
		return Invoice{}, err
	}
	var out Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetForUpdate(ctx, scope.CompanyID, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, &inv); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	return out, nil
}

// transition persists a status change and dispatches InvoiceStatusChanged plus the per-target event.
func (s *Service) transition(ctx context.Context, tx TxRepository, scope shared.Scope, inv *Invoice, to Status, tc TransitionContext) (bool, error) {
	from := inv.Status
	next := *inv
	next.RecalculateTotals()
	evtType, changed, err := s.machine.Apply(&next, to, tc)
	if err != nil || !changed {
		return false, err
	}
	if err := tx.SaveInvoice(ctx, next); err != nil {
		return false, err
	}
	*inv = next
	s.logger.Debug("invoice transition",
		slog.Int64("company_id", scope.CompanyID),
		slog.Int64("invoice_id", inv.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)))
	base := Event{From: from, To: to, Invoice: next, Scope: scope, Reason: tc.Reason, OccurredAt: tc.At}
	changedEvt, targetEvt := base, base
	changedEvt.ID, changedEvt.Type = uuid.New(), EventStatusChanged
	targetEvt.ID, targetEvt.Type = uuid.New(), evtType
	return true, s.dispatcher.Dispatch(ctx, tx, changedEvt, targetEvt)
}

func buildItem(lineNo int, in ItemInput) (Item, error) {
	desc := strings.TrimSpace(in.Description)
	switch {
	case desc == "":
		return Item{}, shared.Invalid(fmt.Sprintf("item %d description required", lineNo))
	case !in.Quantity.IsPositive():
		return Item{}, shared.Invalid(fmt.Sprintf("item %d quantity must be positive", lineNo))
	case in.UnitPrice.IsNegative(), in.DiscountAmount.IsNegative(), in.TaxAmount.IsNegative():
		return Item{}, shared.Invalid(fmt.Sprintf("item %d amounts cannot be negative", lineNo))
	}
	item := Item{
		Description:    desc,
		Quantity:       in.Quantity,
		UnitPrice:      in.UnitPrice.Round(2),
		DiscountAmount: in.DiscountAmount.Round(2),
		TaxAmount:      in.TaxAmount.Round(2),
	}
	if item.DiscountAmount.GreaterThan(item.Gross()) {
		return Item{}, shared.Invalid(fmt.Sprintf("item %d discount exceeds amount", lineNo))
	}
	return item, nil
}

// dateOnly truncates to a UTC calendar date.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
