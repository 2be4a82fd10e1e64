package journals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AuditPort records audit trail rows.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// Service is the ledger posting service. Every mutation runs in one transaction
// and joins the caller's transaction when one is active.
type Service struct {
	repo       Repository
	machine    *StateMachine
	dispatcher *Dispatcher
	audit      AuditPort
	logger     *slog.Logger
}

// NewService builds the posting service. dispatcher and audit may be nil.
func NewService(repo Repository, dispatcher *Dispatcher, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, machine: NewStateMachine(), dispatcher: dispatcher, audit: audit, logger: logger}
}

// StateMachine exposes the transition table.
func (s *Service) StateMachine() *StateMachine {
	return s.machine
}

// Get loads an entry with its lines.
func (s *Service) Get(ctx context.Context, scope shared.Scope, id int64) (Entry, error) {
	if err := scope.Validate(); err != nil {
		return Entry{}, err
	}
	return s.repo.Get(ctx, scope.CompanyID, id)
}

// List returns entry headers matching filter, newest number first.
func (s *Service) List(ctx context.Context, scope shared.Scope, filter ListFilter) ([]Entry, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.List(ctx, scope.CompanyID, filter)
}

// FindBySource returns the entry created for a source document, or ErrNotFound.
func (s *Service) FindBySource(ctx context.Context, scope shared.Scope, sourceType, sourceID string) (Entry, error) {
	if err := scope.Validate(); err != nil {
		return Entry{}, err
	}
	return s.repo.FindBySource(ctx, scope.CompanyID, sourceType, sourceID)
}

// Create persists a draft entry after shape validation.
func (s *Service) Create(ctx context.Context, scope shared.Scope, input CreateInput) (Entry, error) {
	var entry Entry
	err := s.withScopedTx(ctx, scope, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.create(ctx, tx, scope, input)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.record(ctx, scope, "journal.create", entry, nil)
	return entry, nil
}

// CreateAndPost creates and posts an entry in one transaction.
func (s *Service) CreateAndPost(ctx context.Context, scope shared.Scope, input CreateInput) (Entry, error) {
	var entry Entry
	err := s.withScopedTx(ctx, scope, func(ctx context.Context, tx TxRepository) error {
		created, err := s.create(ctx, tx, scope, input)
		if err != nil {
			return err
		}
		if err := s.transition(ctx, tx, scope, &created, StatusPosted, ""); err != nil {
			return err
		}
		entry = created
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	s.record(ctx, scope, "journal.create", entry, nil)
	return entry, nil
}

// Post moves a draft entry to posted.
func (s *Service) Post(ctx context.Context, scope shared.Scope, id int64) (Entry, error) {
	return s.transitionByID(ctx, scope, id, StatusPosted, "")
}

// Cancel abandons a draft entry.
func (s *Service) Cancel(ctx context.Context, scope shared.Scope, id int64) (Entry, error) {
	return s.transitionByID(ctx, scope, id, StatusCancelled, "")
}

// Void voids a posted entry; the reversal listener posts the offsetting entry in the
// same transaction. Voiding an entry that is already void and reversed returns it unchanged.
func (s *Service) Void(ctx context.Context, scope shared.Scope, id int64, reason string) (Entry, error) {
	var entry Entry
	err := s.withScopedTx(ctx, scope, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, scope.CompanyID, id)
		if err != nil {
			return err
		}
		if current.Status == StatusVoid && current.ReversingEntryID != nil {
			entry = current
			return nil
		}
		if err := s.transition(ctx, tx, scope, &current, StatusVoid, reason); err != nil {
			return err
		}
		entry, err = tx.GetEntry(ctx, scope.CompanyID, id)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Update edits a draft entry.
func (s *Service) Update(ctx context.Context, scope shared.Scope, id int64, input UpdateInput) (Entry, error) {
	var entry Entry
	err := s.withScopedTx(ctx, scope, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, scope.CompanyID, id)
		if err != nil {
			return err
		}
		if !current.IsEditable() {
			return shared.NewTransitionError(entityJournal, string(current.Status), string(StatusDraft), "only draft entries can be edited")
		}
		if input.Description != nil {
			current.Description = strings.TrimSpace(*input.Description)
			if current.Description == "" {
				return shared.Invalid("description required")
			}
		}
		if input.Reference != nil {
			current.Reference = strings.TrimSpace(*input.Reference)
		}
		if input.EntryDate != nil {
			if input.EntryDate.IsZero() {
				return shared.Invalid("entry date required")
			}
			current.EntryDate = dateOnly(*input.EntryDate)
		}
		if input.Metadata != nil {
			current.Metadata = input.Metadata
		}
		current.UpdatedAt = scope.Now()
		if err := tx.UpdateDraft(ctx, current); err != nil {
			return err
		}
		if input.Lines != nil {
			lines, err := s.buildLines(ctx, tx, scope, input.Lines)
			if err != nil {
				return err
			}
			if err := tx.DeleteLines(ctx, current.ID); err != nil {
				return err
			}
			current.Lines, err = tx.InsertLines(ctx, current.ID, lines)
			if err != nil {
				return err
			}
		}
		entry = current
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	s.record(ctx, scope, "journal.update", entry, nil)
	return entry, nil
}

// Delete removes a draft entry.
func (s *Service) Delete(ctx context.Context, scope shared.Scope, id int64) error {
	var deleted Entry
	err := s.withScopedTx(ctx, scope, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, scope.CompanyID, id)
		if err != nil {
			return err
		}
		if !current.IsEditable() {
			return shared.NewTransitionError(entityJournal, string(current.Status), string(StatusDraft), "only draft entries can be deleted")
		}
		deleted = current
		return tx.DeleteEntry(ctx, scope.CompanyID, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, scope, "journal.delete", deleted, nil)
	return nil
}

func (s *Service) withScopedTx(ctx context.Context, scope shared.Scope, fn func(context.Context, TxRepository) error) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	return s.repo.WithTx(ctx, fn)
}

func (s *Service) transitionByID(ctx context.Context, scope shared.Scope, id int64, to Status, reason string) (Entry, error) {
	var entry Entry
	err := s.withScopedTx(ctx, scope, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, scope.CompanyID, id)
		if err != nil {
			return err
		}
		if err := s.transition(ctx, tx, scope, &current, to, reason); err != nil {
			return err
		}
		entry = current
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// transition applies the state machine, persists the new status and dispatches the event.
func (s *Service) transition(ctx context.Context, tx TxRepository, scope shared.Scope, entry *Entry, to Status, reason string) error {
	from := entry.Status
	tc := TransitionContext{Scope: scope, Reason: reason, At: scope.Now()}
	next := *entry
	evtType, err := s.machine.Apply(&next, to, tc)
	if err != nil {
		return err
	}
	if err := tx.SaveStatus(ctx, next); err != nil {
		return err
	}
	*entry = next
	s.logger.Debug("journal transition",
		slog.Int64("company_id", scope.CompanyID),
		slog.Int64("entry_id", entry.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)))
	return s.dispatcher.Dispatch(ctx, tx, newEvent(evtType, from, *entry, tc))
}

func (s *Service) create(ctx context.Context, tx TxRepository, scope shared.Scope, input CreateInput) (Entry, error) {
	input.Description = strings.TrimSpace(input.Description)
	if input.Description == "" {
		return Entry{}, shared.Invalid("description required")
	}
	if input.EntryDate.IsZero() {
		return Entry{}, shared.Invalid("entry date required")
	}
	if (input.SourceType == "") != (input.SourceID == "") {
		return Entry{}, shared.Invalid("source type and source id go together")
	}
	lines, err := s.buildLines(ctx, tx, scope, input.Lines)
	if err != nil {
		return Entry{}, err
	}
	number, err := tx.NextEntryNumber(ctx, scope.CompanyID)
	if err != nil {
		return Entry{}, err
	}
	now := scope.Now()
	entry, err := tx.InsertEntry(ctx, Entry{
		CompanyID:   scope.CompanyID,
		Number:      number,
		Status:      StatusDraft,
		Description: input.Description,
		Reference:   strings.TrimSpace(input.Reference),
		EntryDate:   dateOnly(input.EntryDate),
		Metadata:    input.Metadata,
		SourceType:  input.SourceType,
		SourceID:    input.SourceID,
		CreatedBy:   scope.ActorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Entry{}, err
	}
	entry.Lines, err = tx.InsertLines(ctx, entry.ID, lines)
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// buildLines validates line shape and that every account is active and owned by the company.
func (s *Service) buildLines(ctx context.Context, tx TxRepository, scope shared.Scope, inputs []LineInput) ([]Line, error) {
	if len(inputs) == 0 {
		return nil, shared.Invalid("at least one line required")
	}
	ids := make([]int64, 0, len(inputs))
	seen := make(map[int64]bool, len(inputs))
	lines := make([]Line, 0, len(inputs))
	for i, in := range inputs {
		if in.AccountID <= 0 {
			return nil, shared.Invalid(fmt.Sprintf("line %d missing account", i+1))
		}
		debit := in.Debit.Round(2)
		credit := in.Credit.Round(2)
		if err := validateLineAmounts(i+1, debit, credit); err != nil {
			return nil, err
		}
		if !seen[in.AccountID] {
			seen[in.AccountID] = true
			ids = append(ids, in.AccountID)
		}
		lines = append(lines, Line{
			LineNo:      i + 1,
			AccountID:   in.AccountID,
			Debit:       debit,
			Credit:      credit,
			Description: strings.TrimSpace(in.Description),
			EntityType:  in.EntityType,
			EntityID:    in.EntityID,
		})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	found, err := tx.GetAccounts(ctx, scope.CompanyID, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		acc, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("account %d: %w", id, shared.ErrNotFound)
		}
		if !acc.IsActive {
			return nil, shared.Invalid(fmt.Sprintf("account %s is inactive", acc.Code))
		}
	}
	return lines, nil
}

// record writes the audit row once the surrounding transaction commits.
func (s *Service) record(ctx context.Context, scope shared.Scope, action string, entry Entry, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = entry.Number
	meta["status"] = entry.Status
	log := internalShared.AuditLog{
		CompanyID: scope.CompanyID,
		ActorID:   scope.ActorID,
		Action:    action,
		Entity:    entityJournal,
		EntityID:  fmt.Sprintf("%d", entry.ID),
		Meta:      meta,
		At:        scope.Now(),
	}
	db.AfterCommit(ctx, func(ctx context.Context) {
		if err := s.audit.Record(ctx, log); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("journal audit", slog.String("action", action), slog.Any("error", err))
		}
	})
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
