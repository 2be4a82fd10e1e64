package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/events"
)

type journalRepo struct {
	s *Store
}

func (r journalRepo) WithTx(ctx context.Context, fn func(context.Context, journals.TxRepository) error) error {
	return r.s.WithTx(ctx, func(ctx context.Context) error {
		return fn(ctx, journalTx{s: r.s})
	})
}

func (r journalRepo) Get(ctx context.Context, companyID, id int64) (journals.Entry, error) {
	var out journals.Entry
	err := r.s.view(ctx, func(st *state) error {
		var err error
		out, err = st.entry(companyID, id)
		return err
	})
	return out, err
}

func (r journalRepo) List(ctx context.Context, companyID int64, filter journals.ListFilter) ([]journals.Entry, error) {
	var out []journals.Entry
	err := r.s.view(ctx, func(st *state) error {
		for _, e := range st.entries {
			if e.CompanyID != companyID {
				continue
			}
			if filter.Status != "" && e.Status != filter.Status {
				continue
			}
			if filter.SourceType != "" && e.SourceType != filter.SourceType {
				continue
			}
			e.Lines = append([]journals.Line(nil), st.lines[e.ID]...)
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r journalRepo) FindBySource(ctx context.Context, companyID int64, sourceType, sourceID string) (journals.Entry, error) {
	var out journals.Entry
	err := r.s.view(ctx, func(st *state) error {
		for id, e := range st.entries {
			if e.CompanyID == companyID && e.SourceType == sourceType && e.SourceID == sourceID {
				var err error
				out, err = st.entry(companyID, id)
				return err
			}
		}
		return shared.ErrNotFound
	})
	return out, err
}

func (r journalRepo) ListAccounts(ctx context.Context, companyID int64) ([]accounts.Account, error) {
	return accountRepo{s: r.s}.List(ctx, companyID)
}

func (r journalRepo) PostedTotals(ctx context.Context, companyID int64) (map[int64]journals.AccountTotals, error) {
	out := map[int64]journals.AccountTotals{}
	err := r.s.view(ctx, func(st *state) error {
		for id, e := range st.entries {
			if e.CompanyID != companyID || e.Status != journals.StatusPosted || e.IsReversal() {
				continue
			}
			for _, l := range st.lines[id] {
				t := out[l.AccountID]
				t.Debit = t.Debit.Add(l.Debit)
				t.Credit = t.Credit.Add(l.Credit)
				out[l.AccountID] = t
			}
		}
		return nil
	})
	return out, err
}

func (st *state) entry(companyID, id int64) (journals.Entry, error) {
	e, ok := st.entries[id]
	if !ok || e.CompanyID != companyID {
		return journals.Entry{}, fmt.Errorf("journal entry %d: %w", id, shared.ErrNotFound)
	}
	e.Lines = append([]journals.Line(nil), st.lines[id]...)
	return e, nil
}

// journalTx reads s.state on every call so nested snapshots stay visible.
type journalTx struct {
	s *Store
}

func (t journalTx) GetAccounts(_ context.Context, companyID int64, ids []int64) (map[int64]accounts.Account, error) {
	out := make(map[int64]accounts.Account, len(ids))
	for _, id := range ids {
		if a, ok := t.s.state.accounts[id]; ok && a.CompanyID == companyID {
			out[id] = a
		}
	}
	return out, nil
}

func (t journalTx) LockAccounts(ctx context.Context, companyID int64, ids []int64) (map[int64]accounts.Account, error) {
	return t.GetAccounts(ctx, companyID, ids)
}

func (t journalTx) SaveAccountBalance(_ context.Context, a accounts.Account) error {
	current, ok := t.s.state.accounts[a.ID]
	if !ok || current.CompanyID != a.CompanyID {
		return fmt.Errorf("account %d: %w", a.ID, shared.ErrNotFound)
	}
	current.DebitBalance = a.DebitBalance
	current.CreditBalance = a.CreditBalance
	current.LastActivityAt = a.LastActivityAt
	current.UpdatedAt = a.UpdatedAt
	t.s.state.accounts[a.ID] = current
	return nil
}

func (t journalTx) NextEntryNumber(_ context.Context, companyID int64) (int64, error) {
	t.s.state.sequences[companyID]++
	return t.s.state.sequences[companyID], nil
}

func (t journalTx) InsertEntry(_ context.Context, e journals.Entry) (journals.Entry, error) {
	st := t.s.state
	for _, existing := range st.entries {
		if existing.CompanyID != e.CompanyID {
			continue
		}
		if existing.Number == e.Number {
			return journals.Entry{}, fmt.Errorf("journal number %d already used", e.Number)
		}
		if e.SourceType != "" && existing.SourceType == e.SourceType && existing.SourceID == e.SourceID {
			return journals.Entry{}, shared.ErrSourceAlreadyLinked
		}
	}
	e.ID = st.id()
	e.Lines = nil
	st.entries[e.ID] = e
	return e, nil
}

func (t journalTx) InsertLines(_ context.Context, entryID int64, lines []journals.Line) ([]journals.Line, error) {
	st := t.s.state
	if _, ok := st.entries[entryID]; !ok {
		return nil, fmt.Errorf("journal entry %d: %w", entryID, shared.ErrNotFound)
	}
	stored := append([]journals.Line(nil), st.lines[entryID]...)
	out := make([]journals.Line, 0, len(lines))
	for _, l := range lines {
		l.ID = st.id()
		l.EntryID = entryID
		stored = append(stored, l)
		out = append(out, l)
	}
	st.lines[entryID] = stored
	return out, nil
}

func (t journalTx) DeleteLines(_ context.Context, entryID int64) error {
	delete(t.s.state.lines, entryID)
	return nil
}

func (t journalTx) UpdateDraft(_ context.Context, e journals.Entry) error {
	current, ok := t.s.state.entries[e.ID]
	if !ok || current.CompanyID != e.CompanyID || current.Status != journals.StatusDraft {
		return shared.ErrNotFound
	}
	current.Description = e.Description
	current.Reference = e.Reference
	current.EntryDate = e.EntryDate
	current.Metadata = e.Metadata
	current.UpdatedAt = e.UpdatedAt
	t.s.state.entries[e.ID] = current
	return nil
}

func (t journalTx) DeleteEntry(_ context.Context, companyID, id int64) error {
	current, ok := t.s.state.entries[id]
	if !ok || current.CompanyID != companyID || current.Status != journals.StatusDraft {
		return shared.ErrNotFound
	}
	delete(t.s.state.entries, id)
	delete(t.s.state.lines, id)
	return nil
}

func (t journalTx) GetEntry(_ context.Context, companyID, id int64) (journals.Entry, error) {
	return t.s.state.entry(companyID, id)
}

func (t journalTx) GetEntryForUpdate(ctx context.Context, companyID, id int64) (journals.Entry, error) {
	return t.GetEntry(ctx, companyID, id)
}

func (t journalTx) SaveStatus(_ context.Context, e journals.Entry) error {
	current, ok := t.s.state.entries[e.ID]
	if !ok || current.CompanyID != e.CompanyID {
		return shared.ErrNotFound
	}
	current.Status = e.Status
	current.PostedAt, current.PostedBy = e.PostedAt, e.PostedBy
	current.VoidedAt, current.VoidedBy, current.VoidReason = e.VoidedAt, e.VoidedBy, e.VoidReason
	current.CancelledAt, current.CancelledBy = e.CancelledAt, e.CancelledBy
	current.UpdatedAt = e.UpdatedAt
	t.s.state.entries[e.ID] = current
	return nil
}

func (t journalTx) LinkReversal(_ context.Context, companyID, originalID, reversingID int64) error {
	st := t.s.state
	original, ok := st.entries[originalID]
	if !ok || original.CompanyID != companyID {
		return fmt.Errorf("journal entry %d: %w", originalID, shared.ErrNotFound)
	}
	reversal, ok := st.entries[reversingID]
	if !ok || reversal.CompanyID != companyID {
		return fmt.Errorf("journal entry %d: %w", reversingID, shared.ErrNotFound)
	}
	if original.ReversingEntryID != nil {
		return shared.NewTransitionError("journal_entry", string(original.Status), string(journals.StatusVoid), "entry already reversed")
	}
	original.ReversingEntryID = &reversingID
	reversal.OriginalEntryID = &originalID
	st.entries[originalID] = original
	st.entries[reversingID] = reversal
	return nil
}

func (t journalTx) RecordEffect(_ context.Context, entryID int64, effect journals.Effect) (bool, error) {
	key := effectKey{entryID: entryID, effect: effect}
	if _, ok := t.s.state.effects[key]; ok {
		return false, nil
	}
	t.s.state.effects[key] = time.Now().UTC()
	return true, nil
}

func (t journalTx) AppendOutbox(_ context.Context, env events.Envelope) error {
	return t.s.state.appendOutbox(env)
}

// HasEffect reports whether the balance marker for entryID exists.
func (s *Store) HasEffect(entryID int64, effect journals.Effect) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.effects[effectKey{entryID: entryID, effect: effect}]
	return ok
}
