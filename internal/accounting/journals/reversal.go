package journals

import (
	"context"
	"fmt"
	"strconv"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// ReversalEngine posts the offsetting entry when an entry is voided.
type ReversalEngine struct {
	service *Service
}

// NewReversalEngine binds the engine to the posting service it re-enters.
func NewReversalEngine(service *Service) *ReversalEngine {
	return &ReversalEngine{service: service}
}

func (*ReversalEngine) Name() string { return "reversal" }

func (*ReversalEngine) Criticality() shared.Criticality { return shared.Critical }

func (r *ReversalEngine) Handle(ctx context.Context, tx TxRepository, evt Event) error {
	if evt.Type != EventVoided || evt.Entry.ReversingEntryID != nil {
		return nil
	}
	_, err := r.service.reverse(ctx, tx, evt.Scope, evt.Entry, evt.Reason)
	return err
}

// reverse inserts a posted mirror of original and links both entries.
func (s *Service) reverse(ctx context.Context, tx TxRepository, scope shared.Scope, original Entry, reason string) (Entry, error) {
	number, err := tx.NextEntryNumber(ctx, scope.CompanyID)
	if err != nil {
		return Entry{}, err
	}
	now := scope.Now()
	originalID := original.ID
	rev, err := tx.InsertEntry(ctx, Entry{
		CompanyID:       original.CompanyID,
		Number:          number,
		Status:          StatusDraft,
		Description:     fmt.Sprintf("Reversal of entry %d: %s", original.Number, original.Description),
		Reference:       reversalReference(original),
		EntryDate:       dateOnly(now),
		Metadata:        map[string]any{"reversal_reason": reason},
		SourceType:      SourceTypeReversal,
		SourceID:        strconv.FormatInt(original.ID, 10),
		OriginalEntryID: &originalID,
		CreatedBy:       scope.ActorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return Entry{}, err
	}
	rev.Lines, err = tx.InsertLines(ctx, rev.ID, ReverseLines(original.Lines))
	if err != nil {
		return Entry{}, err
	}
	if err := tx.LinkReversal(ctx, original.CompanyID, original.ID, rev.ID); err != nil {
		return Entry{}, err
	}
	if err := s.transition(ctx, tx, scope, &rev, StatusPosted, ""); err != nil {
		return Entry{}, err
	}
	return rev, nil
}

// ReverseLines swaps debit and credit, keeping account and entity references.
func ReverseLines(lines []Line) []Line {
	out := make([]Line, len(lines))
	for i, l := range lines {
		out[i] = Line{
			LineNo:      i + 1,
			AccountID:   l.AccountID,
			Debit:       l.Credit,
			Credit:      l.Debit,
			Description: l.Description,
			EntityType:  l.EntityType,
			EntityID:    l.EntityID,
		}
	}
	return out
}

func reversalReference(original Entry) string {
	if original.Reference != "" {
		return "REV-" + original.Reference
	}
	return fmt.Sprintf("REV-%d", original.Number)
}
