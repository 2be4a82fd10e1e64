package journals

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

func line(debit, credit string) Line {
	return Line{AccountID: 1, Debit: decimal.RequireFromString(debit), Credit: decimal.RequireFromString(credit)}
}

func TestStateMachineEdges(t *testing.T) {
	m := NewStateMachine()
	statuses := []Status{StatusDraft, StatusPosted, StatusVoid, StatusCancelled}
	allowed := map[[2]Status]bool{
		{StatusDraft, StatusPosted}:    true,
		{StatusDraft, StatusCancelled}: true,
		{StatusPosted, StatusVoid}:     true,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			require.Equal(t, allowed[[2]Status{from, to}], m.Can(from, to), "%s -> %s", from, to)
		}
	}
	require.Equal(t, []Status{StatusCancelled, StatusPosted}, m.Transitions(StatusDraft))
	require.Empty(t, m.Transitions(StatusVoid))
	require.Empty(t, m.Transitions(StatusCancelled))
}

func TestStateMachineApply(t *testing.T) {
	m := NewStateMachine()
	at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	tc := TransitionContext{Scope: shared.Scope{CompanyID: 1, ActorID: 7}, At: at}

	entry := Entry{Status: StatusDraft, Lines: []Line{line("10", "0"), line("0", "10")}}
	evt, err := m.Apply(&entry, StatusPosted, tc)
	require.NoError(t, err)
	require.Equal(t, EventPosted, evt)
	require.Equal(t, StatusPosted, entry.Status)
	require.Equal(t, at, *entry.PostedAt)
	require.Equal(t, int64(7), *entry.PostedBy)

	_, err = m.Apply(&entry, StatusDraft, tc)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Equal(t, StatusPosted, entry.Status)

	_, err = m.Apply(&entry, StatusVoid, TransitionContext{Scope: tc.Scope, Reason: "typo", At: at})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, StatusPosted, entry.Status)

	evt, err = m.Apply(&entry, StatusVoid, TransitionContext{Scope: tc.Scope, Reason: "  duplicate posting  ", At: at})
	require.NoError(t, err)
	require.Equal(t, EventVoided, evt)
	require.Equal(t, "duplicate posting", entry.VoidReason)
}

func TestStateMachineRejectsVoidOfReversal(t *testing.T) {
	originalID := int64(3)
	entry := Entry{Status: StatusPosted, OriginalEntryID: &originalID}
	_, err := NewStateMachine().Apply(&entry, StatusVoid, TransitionContext{Reason: "reverse the reversal"})
	var te *shared.TransitionError
	require.True(t, errors.As(err, &te))
	require.Equal(t, "reversal entries cannot be voided", te.Reason)
}

func TestValidateBalanced(t *testing.T) {
	cases := []struct {
		name  string
		lines []Line
		want  error
	}{
		{"balanced", []Line{line("60", "0"), line("40", "0"), line("0", "100")}, nil},
		{"single line", []Line{line("10", "0")}, shared.ErrInsufficientLines},
		{"no lines", nil, shared.ErrInsufficientLines},
		{"unbalanced", []Line{line("10", "0"), line("0", "9.99")}, shared.ErrUnbalancedEntry},
		{"both sides", []Line{line("10", "10"), line("0", "0")}, shared.ErrValidation},
		{"negative", []Line{line("-10", "0"), line("0", "-10")}, shared.ErrValidation},
		{"zero line", []Line{line("10", "0"), line("0", "10"), line("0", "0")}, shared.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateBalanced(tc.lines)
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestReverseLinesSwapsSides(t *testing.T) {
	lines := []Line{
		{LineNo: 1, AccountID: 10, Debit: decimal.NewFromInt(5), Credit: decimal.Zero, EntityType: "customer", EntityID: "c-1"},
		{LineNo: 2, AccountID: 20, Debit: decimal.Zero, Credit: decimal.NewFromInt(5)},
	}
	out := ReverseLines(lines)
	require.Len(t, out, 2)
	require.True(t, out[0].Credit.Equal(decimal.NewFromInt(5)))
	require.True(t, out[0].Debit.IsZero())
	require.Equal(t, "c-1", out[0].EntityID)
	require.Equal(t, int64(20), out[1].AccountID)
	require.True(t, out[1].Debit.Equal(decimal.NewFromInt(5)))
	require.NoError(t, ValidateBalanced(out))
}
