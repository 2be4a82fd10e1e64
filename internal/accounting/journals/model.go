package journals

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a journal entry.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPosted    Status = "posted"
	StatusVoid      Status = "void"
	StatusCancelled Status = "cancelled"
)

// SourceTypeReversal marks entries generated when another entry is voided.
const SourceTypeReversal = "journal_reversal"

// Entry is a journal entry header with its lines.
type Entry struct {
	ID               int64          `json:"id"`
	CompanyID        int64          `json:"company_id"`
	Number           int64          `json:"number"`
	Status           Status         `json:"status"`
	Description      string         `json:"description"`
	Reference        string         `json:"reference"`
	EntryDate        time.Time      `json:"entry_date"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	SourceType       string         `json:"source_type,omitempty"`
	SourceID         string         `json:"source_id,omitempty"`
	PostedAt         *time.Time     `json:"posted_at,omitempty"`
	PostedBy         *int64         `json:"posted_by,omitempty"`
	VoidedAt         *time.Time     `json:"voided_at,omitempty"`
	VoidedBy         *int64         `json:"voided_by,omitempty"`
	VoidReason       string         `json:"void_reason,omitempty"`
	CancelledAt      *time.Time     `json:"cancelled_at,omitempty"`
	CancelledBy      *int64         `json:"cancelled_by,omitempty"`
	ReversingEntryID *int64         `json:"reversing_entry_id,omitempty"`
	OriginalEntryID  *int64         `json:"original_entry_id,omitempty"`
	CreatedBy        int64          `json:"created_by"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Lines            []Line         `json:"lines"`
}

// Line is one debit or credit posting of an entry.
type Line struct {
	ID          int64           `json:"id"`
	EntryID     int64           `json:"entry_id"`
	LineNo      int             `json:"line_no"`
	AccountID   int64           `json:"account_id"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description,omitempty"`
	EntityType  string          `json:"entity_type,omitempty"`
	EntityID    string          `json:"entity_id,omitempty"`
}

// Totals sums debit and credit over the lines.
func (e Entry) Totals() (debit, credit decimal.Decimal) {
	for _, l := range e.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// IsReversal reports whether the entry was generated to undo another entry.
func (e Entry) IsReversal() bool {
	return e.OriginalEntryID != nil
}

// IsEditable reports whether header and lines may still change.
func (e Entry) IsEditable() bool {
	return e.Status == StatusDraft
}

// LineInput captures one requested line.
type LineInput struct {
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
	EntityType  string
	EntityID    string
}

// CreateInput captures a new draft entry.
type CreateInput struct {
	Description string
	Reference   string
	EntryDate   time.Time
	Metadata    map[string]any
	SourceType  string
	SourceID    string
	Lines       []LineInput
}

// UpdateInput replaces the editable fields of a draft entry. Nil lines keep the current lines.
type UpdateInput struct {
	Description *string
	Reference   *string
	EntryDate   *time.Time
	Metadata    map[string]any
	Lines       []LineInput
}

// ListFilter narrows List results.
type ListFilter struct {
	Status     Status
	SourceType string
	Limit      int
	Offset     int
}

// AccountTotals is the reconstructed debit/credit sum for an account.
type AccountTotals struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

// Effect is the balance effect recorded for an entry.
type Effect string

const (
	EffectApply  Effect = "apply"
	EffectRevert Effect = "revert"
)
