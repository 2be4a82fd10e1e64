package invoicing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/events"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// EventType names an invoice event.
type EventType string

const (
	EventStatusChanged EventType = events.TypeInvoiceStatusChanged
	EventSent          EventType = "InvoiceSent"
	EventPosted        EventType = "InvoicePosted"
	EventCancelled     EventType = "InvoiceCancelled"
	EventPaid          EventType = "InvoicePaid"
	EventPartiallyPaid EventType = "InvoicePartiallyPaid"
	EventReopened      EventType = "InvoiceReopened"
)

// Event is raised after an invoice transition is persisted.
type Event struct {
	ID         uuid.UUID
	Type       EventType
	From       Status
	To         Status
	Invoice    Invoice
	Scope      shared.Scope
	Reason     string
	OccurredAt time.Time
}

// Listener reacts to invoice events. Best-effort listeners run after commit with a nil tx.
type Listener interface {
	Name() string
	Criticality() shared.Criticality
	Handle(ctx context.Context, tx TxRepository, evt Event) error
}

// Dispatcher fans invoice events out to listeners.
type Dispatcher struct {
	critical   []Listener
	bestEffort []Listener
	logger     *slog.Logger
}

// NewDispatcher builds an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

// Register adds listeners according to their declared criticality.
func (d *Dispatcher) Register(listeners ...Listener) {
	for _, l := range listeners {
		if l.Criticality() == shared.Critical {
			d.critical = append(d.critical, l)
		} else {
			d.bestEffort = append(d.bestEffort, l)
		}
	}
}

// Dispatch runs critical listeners in the transaction and defers the rest until commit.
func (d *Dispatcher) Dispatch(ctx context.Context, tx TxRepository, evts ...Event) error {
	if d == nil {
		return nil
	}
	for _, evt := range evts {
		for _, l := range d.critical {
			if err := l.Handle(ctx, tx, evt); err != nil {
				return fmt.Errorf("invoicing: listener %s on %s: %w", l.Name(), evt.Type, err)
			}
		}
	}
	if len(d.bestEffort) == 0 {
		return nil
	}
	listeners := d.bestEffort
	db.AfterCommit(ctx, func(ctx context.Context) {
		for _, evt := range evts {
			for _, l := range listeners {
				if err := l.Handle(ctx, nil, evt); err != nil {
					d.logger.Warn("invoice subscriber failed",
						slog.String("listener", l.Name()),
						slog.String("event", string(evt.Type)),
						slog.Int64("invoice_id", evt.Invoice.ID),
						slog.Any("error", err))
				}
			}
		}
	})
	return nil
}

// StatusChangedPayload is the published body of InvoiceStatusChanged.
type StatusChangedPayload struct {
	InvoiceID  int64     `json:"invoice_id"`
	Number     string    `json:"number"`
	OldStatus  Status    `json:"old_status"`
	NewStatus  Status    `json:"new_status"`
	Total      string    `json:"total"`
	PaidTotal  string    `json:"paid_total"`
	BalanceDue string    `json:"balance_due"`
	Reason     string    `json:"reason,omitempty"`
	ActorID    int64     `json:"actor_id"`
	ChangedAt  time.Time `json:"changed_at"`
}

// OutboxWriter records InvoiceStatusChanged in the outbox within the transaction.
type OutboxWriter struct{}

// NewOutboxWriter returns the outbox listener.
func NewOutboxWriter() *OutboxWriter { return &OutboxWriter{} }

func (*OutboxWriter) Name() string { return "outbox" }

func (*OutboxWriter) Criticality() shared.Criticality { return shared.Critical }

func (*OutboxWriter) Handle(ctx context.Context, tx TxRepository, evt Event) error {
	if evt.Type != EventStatusChanged {
		return nil
	}
	inv := evt.Invoice
	env, err := events.NewEnvelope(string(evt.Type), events.AggregateInvoice, inv.CompanyID, inv.ID, evt.OccurredAt, StatusChangedPayload{
		InvoiceID:  inv.ID,
		Number:     inv.Number,
		OldStatus:  evt.From,
		NewStatus:  evt.To,
		Total:      inv.Total.StringFixed(2),
		PaidTotal:  inv.PaidTotal.StringFixed(2),
		BalanceDue: inv.BalanceDue.StringFixed(2),
		Reason:     evt.Reason,
		ActorID:    evt.Scope.ActorID,
		ChangedAt:  evt.OccurredAt,
	})
	if err != nil {
		return err
	}
	env.ID = evt.ID
	return tx.AppendOutbox(ctx, env)
}
