package journals

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

// EventType names a journal lifecycle event.
type EventType string

const (
	EventPosted    EventType = events.TypeJournalEntryPosted
	EventVoided    EventType = events.TypeJournalEntryVoided
	EventCancelled EventType = events.TypeJournalEntryCancelled
)

// Event is raised once per persisted transition.
type Event struct {
	ID         uuid.UUID
	Type       EventType
	From       Status
	Entry      Entry
	Scope      shared.Scope
	Reason     string
	OccurredAt time.Time
}

func newEvent(typ EventType, from Status, entry Entry, tc TransitionContext) Event {
	return Event{
		ID:         uuid.New(),
		Type:       typ,
		From:       from,
		Entry:      entry,
		Scope:      tc.Scope,
		Reason:     tc.Reason,
		OccurredAt: tc.At,
	}
}

// Listener reacts to journal events. Critical listeners receive the command
// transaction; best-effort listeners run after commit and receive a nil tx.
type Listener interface {
	Name() string
	Criticality() shared.Criticality
	Handle(ctx context.Context, tx TxRepository, evt Event) error
}

// Dispatcher fans events out to registered listeners in registration order.
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

// Dispatch runs critical listeners now and queues best-effort listeners for after commit.
func (d *Dispatcher) Dispatch(ctx context.Context, tx TxRepository, evt Event) error {
	if d == nil {
		return nil
	}
	for _, l := range d.critical {
		if err := l.Handle(ctx, tx, evt); err != nil {
			return fmt.Errorf("journals: listener %s on %s: %w", l.Name(), evt.Type, err)
		}
	}
	if len(d.bestEffort) == 0 {
		return nil
	}
	listeners := d.bestEffort
	db.AfterCommit(ctx, func(ctx context.Context) {
		for _, l := range listeners {
			if err := l.Handle(ctx, nil, evt); err != nil {
				d.logger.Warn("journal subscriber failed",
					slog.String("listener", l.Name()),
					slog.String("event", string(evt.Type)),
					slog.Int64("entry_id", evt.Entry.ID),
					slog.Any("error", err))
			}
		}
	})
	return nil
}
