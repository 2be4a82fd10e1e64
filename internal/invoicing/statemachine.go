package invoicing

import (
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

const entityInvoice = "invoice"

// TransitionContext is passed to guards and side effects. Automatic marks the
// payment status correction path.
type TransitionContext struct {
	Scope     shared.Scope
	Reason    string
	At        time.Time
	Automatic bool
}

type guardFunc func(from Status, inv Invoice, tc TransitionContext) error

type target struct {
	event EventType
	guard guardFunc
	apply func(*Invoice, TransitionContext)
}

// StateMachine holds the invoice transition graph.
type StateMachine struct {
	edges   map[Status]map[Status]bool
	targets map[Status]target
}

// NewStateMachine returns the invoice lifecycle graph.
func NewStateMachine() *StateMachine {
	edges := map[Status][]Status{
		StatusDraft:     {StatusSent, StatusCancelled},
		StatusSent:      {StatusDraft, StatusPosted, StatusCancelled, StatusPartial, StatusPaid},
		StatusPosted:    {StatusSent, StatusCancelled, StatusPartial, StatusPaid},
		StatusPartial:   {StatusPaid, StatusPosted, StatusSent},
		StatusPaid:      {StatusPartial, StatusPosted, StatusSent},
		StatusCancelled: {StatusDraft},
	}
	m := &StateMachine{edges: make(map[Status]map[Status]bool), targets: targets()}
	for from, tos := range edges {
		m.edges[from] = make(map[Status]bool, len(tos))
		for _, to := range tos {
			m.edges[from][to] = true
		}
	}
	return m
}

func targets() map[Status]target {
	return map[Status]target{
		StatusDraft: {
			event: EventReopened,
			guard: func(_ Status, inv Invoice, _ TransitionContext) error {
				if inv.HasActiveAllocations() {
					return shared.Invalid("invoice has active payment allocations")
				}
				return nil
			},
			apply: func(inv *Invoice, _ TransitionContext) {
				inv.SentAt, inv.PostedAt, inv.PaidAt, inv.CancelledAt = nil, nil, nil, nil
				inv.CancellationReason = ""
			},
		},
		StatusSent: {
			event: EventSent,
			guard: func(_ Status, inv Invoice, _ TransitionContext) error {
				if len(inv.Items) == 0 {
					return shared.Invalid("invoice requires at least one item")
				}
				if inv.Total.IsNegative() {
					return shared.Invalid("invoice total cannot be negative")
				}
				return nil
			},
			apply: func(inv *Invoice, tc TransitionContext) {
				if inv.SentAt == nil {
					inv.SentAt = stamp(tc.At)
				}
				inv.PostedAt, inv.PaidAt = nil, nil
			},
		},
		StatusPosted: {
			event: EventPosted,
			guard: func(from Status, inv Invoice, tc TransitionContext) error {
				if from != StatusSent && !tc.Automatic {
					return shared.NewTransitionError(entityInvoice, string(from), string(StatusPosted), "only sent invoices can be posted")
				}
				if len(inv.Items) == 0 {
					return shared.Invalid("invoice requires at least one item")
				}
				if !inv.Total.IsPositive() {
					return shared.Invalid("invoice total must be positive")
				}
				if inv.SentAt == nil || inv.SentAt.After(tc.At) {
					return shared.Invalid("invoice sent date cannot be in the future")
				}
				return nil
			},
			apply: func(inv *Invoice, tc TransitionContext) {
				if inv.PostedAt == nil {
					inv.PostedAt = stamp(tc.At)
				}
				inv.PaidAt = nil
			},
		},
		StatusPartial: {
			event: EventPartiallyPaid,
			apply: func(inv *Invoice, _ TransitionContext) {
				inv.PaidAt = nil
			},
		},
		StatusPaid: {
			event: EventPaid,
			apply: func(inv *Invoice, tc TransitionContext) {
				inv.PaidAt = stamp(tc.At)
			},
		},
		StatusCancelled: {
			event: EventCancelled,
			guard: func(_ Status, _ Invoice, tc TransitionContext) error {
				if strings.TrimSpace(tc.Reason) == "" {
					return shared.Invalid("cancellation reason required")
				}
				return nil
			},
			apply: func(inv *Invoice, tc TransitionContext) {
				inv.CancelledAt = stamp(tc.At)
				inv.CancellationReason = strings.TrimSpace(tc.Reason)
			},
		},
	}
}

// Can reports whether the edge exists, ignoring guards.
func (m *StateMachine) Can(from, to Status) bool {
	return m.edges[from][to]
}

// Transitions lists the targets reachable from a status.
func (m *StateMachine) Transitions(from Status) []Status {
	out := make([]Status, 0, len(m.edges[from]))
	for to := range m.edges[from] {
		out = append(out, to)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Apply moves inv to the target status. changed is false when the invoice is already there.
func (m *StateMachine) Apply(inv *Invoice, to Status, tc TransitionContext) (evt EventType, changed bool, err error) {
	from := inv.Status
	if from == to {
		return "", false, nil
	}
	if !m.Can(from, to) {
		return "", false, shared.NewTransitionError(entityInvoice, string(from), string(to), "")
	}
	t := m.targets[to]
	if t.guard != nil {
		if err := t.guard(from, *inv, tc); err != nil {
			return "", false, err
		}
	}
	if t.apply != nil {
		t.apply(inv, tc)
	}
	inv.Status = to
	inv.UpdatedAt = tc.At
	return t.event, true, nil
}

// PaymentTarget derives the status implied by payment coverage.
func PaymentTarget(inv Invoice) Status {
	switch {
	case inv.Total.IsPositive() && inv.PaidTotal.GreaterThanOrEqual(inv.Total):
		return StatusPaid
	case inv.PaidTotal.IsPositive():
		return StatusPartial
	case inv.PostedAt != nil:
		return StatusPosted
	default:
		return StatusSent
	}
}

func stamp(t time.Time) *time.Time {
	return &t
}
