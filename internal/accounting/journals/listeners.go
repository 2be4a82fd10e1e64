package journals

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/events"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// EventPayload is the published body of journal events.
type EventPayload struct {
	EntryID          int64  `json:"entry_id"`
	Number           int64  `json:"number"`
	Status           Status `json:"status"`
	PreviousStatus   Status `json:"previous_status"`
	Reference        string `json:"reference,omitempty"`
	SourceType       string `json:"source_type,omitempty"`
	SourceID         string `json:"source_id,omitempty"`
	ReversingEntryID *int64 `json:"reversing_entry_id,omitempty"`
	OriginalEntryID  *int64 `json:"original_entry_id,omitempty"`
	ActorID          int64  `json:"actor_id"`
	Reason           string `json:"reason,omitempty"`
	TotalDebit       string `json:"total_debit"`
	TotalCredit      string `json:"total_credit"`
}

// OutboxWriter stores every journal event in the outbox within the command transaction.
// It must be registered after ReversalEngine so voided payloads carry the reversal link.
type OutboxWriter struct{}

// NewOutboxWriter returns the outbox listener.
func NewOutboxWriter() *OutboxWriter { return &OutboxWriter{} }

func (*OutboxWriter) Name() string { return "outbox" }

func (*OutboxWriter) Criticality() shared.Criticality { return shared.Critical }

func (*OutboxWriter) Handle(ctx context.Context, tx TxRepository, evt Event) error {
	entry := evt.Entry
	if evt.Type == EventVoided && entry.ReversingEntryID == nil {
		// the reversal engine links the entries after the event was built
		linked, err := tx.GetEntry(ctx, entry.CompanyID, entry.ID)
		if err != nil {
			return err
		}
		entry.ReversingEntryID = linked.ReversingEntryID
	}
	debit, credit := entry.Totals()
	env, err := events.NewEnvelope(string(evt.Type), events.AggregateJournalEntry, entry.CompanyID, entry.ID, evt.OccurredAt, EventPayload{
		EntryID:          entry.ID,
		Number:           entry.Number,
		Status:           entry.Status,
		PreviousStatus:   evt.From,
		Reference:        entry.Reference,
		SourceType:       entry.SourceType,
		SourceID:         entry.SourceID,
		ReversingEntryID: entry.ReversingEntryID,
		OriginalEntryID:  entry.OriginalEntryID,
		ActorID:          evt.Scope.ActorID,
		Reason:           evt.Reason,
		TotalDebit:       debit.StringFixed(2),
		TotalCredit:      credit.StringFixed(2),
	})
	if err != nil {
		return err
	}
	env.ID = evt.ID
	return tx.AppendOutbox(ctx, env)
}

// AuditListener writes an audit row per transition after commit.
type AuditListener struct {
	audit AuditPort
}

// NewAuditListener wraps an audit sink.
func NewAuditListener(audit AuditPort) *AuditListener {
	return &AuditListener{audit: audit}
}

func (*AuditListener) Name() string { return "audit" }

func (*AuditListener) Criticality() shared.Criticality { return shared.BestEffort }

func (l *AuditListener) Handle(ctx context.Context, _ TxRepository, evt Event) error {
	action := map[EventType]string{
		EventPosted:    "journal.post",
		EventVoided:    "journal.void",
		EventCancelled: "journal.cancel",
	}[evt.Type]
	if action == "" {
		return nil
	}
	meta := map[string]any{
		"number": evt.Entry.Number,
		"from":   evt.From,
		"to":     evt.Entry.Status,
	}
	if evt.Reason != "" {
		meta["reason"] = evt.Reason
	}
	if evt.Entry.SourceType != "" {
		meta["source_type"] = evt.Entry.SourceType
		meta["source_id"] = evt.Entry.SourceID
	}
	return l.audit.Record(ctx, internalShared.AuditLog{
		CompanyID: evt.Entry.CompanyID,
		ActorID:   evt.Scope.ActorID,
		Action:    action,
		Entity:    entityJournal,
		EntityID:  fmt.Sprintf("%d", evt.Entry.ID),
		Meta:      meta,
		At:        evt.OccurredAt,
	})
}

// CacheInvalidator is implemented by views that cache account balances.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, companyID int64)
}

// BalanceCacheListener drops cached balances once a posting or void commits.
type BalanceCacheListener struct {
	cache CacheInvalidator
}

// NewBalanceCacheListener wraps a cache.
func NewBalanceCacheListener(cache CacheInvalidator) *BalanceCacheListener {
	return &BalanceCacheListener{cache: cache}
}

func (*BalanceCacheListener) Name() string { return "balance_cache" }

func (*BalanceCacheListener) Criticality() shared.Criticality { return shared.BestEffort }

func (l *BalanceCacheListener) Handle(ctx context.Context, _ TxRepository, evt Event) error {
	if evt.Type == EventPosted || evt.Type == EventVoided {
		l.cache.Invalidate(ctx, evt.Entry.CompanyID)
	}
	return nil
}
