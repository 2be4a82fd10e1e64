// Package memory is a transactional in-memory implementation of the ledger
// repositories. Transactions are serialised on one lock; a failed transaction or
// nested scope restores the state snapshot taken when it began.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/events"
	"github.com/odyssey-erp/odyssey-ledger/internal/idempotency"
	"github.com/odyssey-erp/odyssey-ledger/internal/invoicing"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type txKey struct{}

type effectKey struct {
	entryID int64
	effect  journals.Effect
}

type mappingKey struct {
	companyID int64
	module    string
	key       string
}

type idemKey struct {
	companyID int64
	key       string
}

type outboxRow struct {
	env         events.Envelope
	publishedAt *time.Time
}

type state struct {
	nextID      int64
	accounts    map[int64]accounts.Account
	entries     map[int64]journals.Entry
	lines       map[int64][]journals.Line
	sequences   map[int64]int64
	effects     map[effectKey]time.Time
	mappings    map[mappingKey]mappings.AccountMapping
	idempotency map[idemKey]idempotency.Record
	invoices    map[int64]invoicing.Invoice
	items       map[int64][]invoicing.Item
	allocations map[int64][]invoicing.Allocation
	outbox      []outboxRow
	audit       []internalShared.AuditLog
}

func newState() *state {
	return &state{
		accounts:    map[int64]accounts.Account{},
		entries:     map[int64]journals.Entry{},
		lines:       map[int64][]journals.Line{},
		sequences:   map[int64]int64{},
		effects:     map[effectKey]time.Time{},
		mappings:    map[mappingKey]mappings.AccountMapping{},
		idempotency: map[idemKey]idempotency.Record{},
		invoices:    map[int64]invoicing.Invoice{},
		items:       map[int64][]invoicing.Item{},
		allocations: map[int64][]invoicing.Allocation{},
	}
}

// clone copies every table. Stored slices are never mutated in place, so
// sharing their backing arrays between snapshots is safe.
func (st *state) clone() *state {
	out := &state{
		nextID:      st.nextID,
		accounts:    copyMap(st.accounts),
		entries:     copyMap(st.entries),
		lines:       copyMap(st.lines),
		sequences:   copyMap(st.sequences),
		effects:     copyMap(st.effects),
		mappings:    copyMap(st.mappings),
		idempotency: copyMap(st.idempotency),
		invoices:    copyMap(st.invoices),
		items:       copyMap(st.items),
		allocations: copyMap(st.allocations),
		outbox:      append([]outboxRow(nil), st.outbox...),
		audit:       append([]internalShared.AuditLog(nil), st.audit...),
	}
	return out
}

func (st *state) id() int64 {
	st.nextID++
	return st.nextID
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Store holds all tables behind one lock.
type Store struct {
	mu    sync.Mutex
	state *state
}

// New returns an empty store.
func New() *Store {
	return &Store{state: newState()}
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, ok := ctx.Value(txKey{}).(*Store)
	return ok && owner == s
}

// WithTx runs fn atomically. Nested calls join the ambient transaction and roll
// back only their own changes and hooks on error. After-commit hooks run once the outermost
// call returns successfully.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		snapshot := s.state.clone()
		nestedCtx, hooks := db.NestHooks(ctx)
		if err := fn(nestedCtx); err != nil {
			s.state = snapshot
			return err
		}
		hooks.Release()
		return nil
	}

	s.mu.Lock()
	snapshot := s.state.clone()
	txCtx, hooks := db.WithHooks(context.WithValue(ctx, txKey{}, s))
	err := fn(txCtx)
	if err != nil {
		s.state = snapshot
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	hooks.Run(ctx)
	return nil
}

// view runs fn against the committed state, or the ambient transaction's state.
func (s *Store) view(ctx context.Context, fn func(st *state) error) error {
	if s.inTx(ctx) {
		return fn(s.state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

// Accounts returns the chart of accounts repository.
func (s *Store) Accounts() accounts.Repository { return accountRepo{s: s} }

// Journals returns the journal repository.
func (s *Store) Journals() journals.Repository { return journalRepo{s: s} }

// Invoices returns the invoice repository.
func (s *Store) Invoices() invoicing.Repository { return invoiceRepo{s: s} }

// Mappings returns the account mapping repository.
func (s *Store) Mappings() mappings.Repository { return mappingRepo{s: s} }

// Idempotency returns the idempotency record store.
func (s *Store) Idempotency() idempotency.Store { return idemStore{s: s} }

// Outbox returns the event outbox.
func (s *Store) Outbox() events.OutboxStore { return outboxStore{s: s} }

// Audit returns the audit sink.
func (s *Store) Audit() *AuditSink { return &AuditSink{s: s} }
