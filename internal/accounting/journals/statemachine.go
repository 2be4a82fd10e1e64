package journals

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

const entityJournal = "journal_entry"

// minVoidReasonLength is the shortest accepted void reason.
const minVoidReasonLength = 10

// TransitionContext is passed to guards and side effects.
type TransitionContext struct {
	Scope  shared.Scope
	Reason string
	At     time.Time
}

type edge struct {
	from Status
	to   Status
}

type transition struct {
	event EventType
	guard func(Entry, TransitionContext) error
	apply func(*Entry, TransitionContext)
}

// StateMachine validates and applies journal status changes.
type StateMachine struct {
	table map[edge]transition
}

// NewStateMachine returns the journal lifecycle: draft→posted, draft→cancelled, posted→void.
func NewStateMachine() *StateMachine {
	return &StateMachine{table: map[edge]transition{
		{StatusDraft, StatusPosted}: {
			event: EventPosted,
			guard: func(e Entry, _ TransitionContext) error { return ValidateBalanced(e.Lines) },
			apply: func(e *Entry, tc TransitionContext) {
				at := tc.At
				actor := tc.Scope.ActorID
				e.PostedAt = &at
				e.PostedBy = &actor
			},
		},
		{StatusDraft, StatusCancelled}: {
			event: EventCancelled,
			apply: func(e *Entry, tc TransitionContext) {
				at := tc.At
				actor := tc.Scope.ActorID
				e.CancelledAt = &at
				e.CancelledBy = &actor
			},
		},
		{StatusPosted, StatusVoid}: {
			event: EventVoided,
			guard: func(e Entry, tc TransitionContext) error {
				if e.IsReversal() {
					return shared.NewTransitionError(entityJournal, string(e.Status), string(StatusVoid), "reversal entries cannot be voided")
				}
				if len(strings.TrimSpace(tc.Reason)) < minVoidReasonLength {
					return shared.Invalid(fmt.Sprintf("void reason must be at least %d characters", minVoidReasonLength))
				}
				return nil
			},
			apply: func(e *Entry, tc TransitionContext) {
				at := tc.At
				actor := tc.Scope.ActorID
				e.VoidedAt = &at
				e.VoidedBy = &actor
				e.VoidReason = strings.TrimSpace(tc.Reason)
			},
		},
	}}
}

// Can reports whether the edge exists, ignoring guards.
func (m *StateMachine) Can(from, to Status) bool {
	_, ok := m.table[edge{from, to}]
	return ok
}

// Transitions lists the targets reachable from a status.
func (m *StateMachine) Transitions(from Status) []Status {
	var out []Status
	for e := range m.table {
		if e.from == from {
			out = append(out, e.to)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Apply runs the guard and side effects for entry → to and returns the event to emit.
// The entry is left untouched when the transition is rejected.
func (m *StateMachine) Apply(entry *Entry, to Status, tc TransitionContext) (EventType, error) {
	t, ok := m.table[edge{entry.Status, to}]
	if !ok {
		return "", shared.NewTransitionError(entityJournal, string(entry.Status), string(to), "")
	}
	if t.guard != nil {
		if err := t.guard(*entry, tc); err != nil {
			return "", err
		}
	}
	if t.apply != nil {
		t.apply(entry, tc)
	}
	entry.Status = to
	entry.UpdatedAt = tc.At
	return t.event, nil
}

// ValidateBalanced checks the posting invariants: at least two well formed lines whose debits equal credits.
func ValidateBalanced(lines []Line) error {
	if len(lines) < 2 {
		return &shared.ValidationError{Kind: shared.ErrInsufficientLines, Reasons: []string{fmt.Sprintf("%d line(s)", len(lines))}}
	}
	debit, credit := decimal.Zero, decimal.Zero
	for i, l := range lines {
		if err := validateLineAmounts(i+1, l.Debit, l.Credit); err != nil {
			return err
		}
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	if !debit.Equal(credit) {
		return &shared.ValidationError{
			Kind:    shared.ErrUnbalancedEntry,
			Reasons: []string{fmt.Sprintf("debits %s != credits %s", debit.StringFixed(2), credit.StringFixed(2))},
		}
	}
	return nil
}

func validateLineAmounts(lineNo int, debit, credit decimal.Decimal) error {
	switch {
	case debit.IsNegative() || credit.IsNegative():
		return shared.Invalid(fmt.Sprintf("line %d has a negative amount", lineNo))
	case debit.IsPositive() && credit.IsPositive():
		return shared.Invalid(fmt.Sprintf("line %d cannot be both debit and credit", lineNo))
	case debit.IsZero() && credit.IsZero():
		return shared.Invalid(fmt.Sprintf("line %d requires a debit or credit amount", lineNo))
	}
	return nil
}
