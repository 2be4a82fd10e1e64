// Package events carries ledger domain events from the transactional outbox to brokers.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Emitted event types.
const (
	TypeJournalEntryPosted    = "JournalEntryPosted"
	TypeJournalEntryVoided    = "JournalEntryVoided"
	TypeJournalEntryCancelled = "JournalEntryCancelled"
	TypeInvoiceStatusChanged  = "InvoiceStatusChanged"
)

// Aggregate types.
const (
	AggregateJournalEntry = "journal_entry"
	AggregateInvoice      = "invoice"
)

// Envelope is the broker-neutral form of an emitted event.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	Type          string          `json:"type"`
	CompanyID     int64           `json:"company_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   int64           `json:"aggregate_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into a new envelope with a random id.
func NewEnvelope(eventType, aggregateType string, companyID, aggregateID int64, occurredAt time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		ID:            uuid.New(),
		Type:          eventType,
		CompanyID:     companyID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    occurredAt.UTC(),
		Payload:       raw,
	}, nil
}

// Key is the partition key; events of one aggregate stay ordered.
func (e Envelope) Key() string {
	return fmt.Sprintf("%s:%d:%d", e.AggregateType, e.CompanyID, e.AggregateID)
}
