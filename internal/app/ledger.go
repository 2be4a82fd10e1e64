package app

import (
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/idempotency"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/invoicing"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// LedgerDeps are the storage ports behind the ledger services. Every repository
// must join the same ambient transaction as the idempotency store.
type LedgerDeps struct {
	Accounts       accounts.Repository
	Journals       journals.Repository
	Invoices       invoicing.Repository
	Mappings       mappings.Repository
	Idempotency    idempotency.Store
	Audit          journals.AuditPort
	AccountCache   *cache.Versioned
	AsyncBalances  bool
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

// Ledger is the assembled service graph.
type Ledger struct {
	Accounts *accounts.Service
	Journals *journals.Service
	Invoices *invoicing.Service
	Executor *idempotency.Executor
}

// NewLedger wires services and event listeners. Critical journal listeners run in
// order: balances (sync mode only), reversal, outbox. Audit and cache
// invalidation run after commit. Invoice postings and cancellations reach the
// ledger through the best-effort integration hooks.
func NewLedger(deps LedgerDeps) *Ledger {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	accountService := accounts.NewService(deps.Accounts, deps.AccountCache, logger)

	journalEvents := journals.NewDispatcher(logger)
	journalService := journals.NewService(deps.Journals, journalEvents, deps.Audit, logger)
	if !deps.AsyncBalances {
		journalEvents.Register(journals.NewBalanceApplier())
	}
	journalEvents.Register(
		journals.NewReversalEngine(journalService),
		journals.NewOutboxWriter(),
		journals.NewBalanceCacheListener(accountService),
	)
	if deps.Audit != nil {
		journalEvents.Register(journals.NewAuditListener(deps.Audit))
	}

	invoiceEvents := invoicing.NewDispatcher(logger)
	invoiceEvents.Register(
		invoicing.NewOutboxWriter(),
		integration.NewHooks(journalService, deps.Mappings, logger),
	)

	return &Ledger{
		Accounts: accountService,
		Journals: journalService,
		Invoices: invoicing.NewService(deps.Invoices, invoiceEvents, logger),
		Executor: idempotency.NewExecutor(deps.Idempotency, deps.IdempotencyTTL, logger),
	}
}

// PostgresDeps returns ledger ports backed by Postgres. All transactional ports
// share tx so a command joins the idempotency transaction.
func PostgresDeps(tx *db.Transactor, accountCache *cache.Versioned, cfg *Config, logger *slog.Logger) LedgerDeps {
	return LedgerDeps{
		Accounts:       accounts.NewRepository(tx.Pool()),
		Journals:       journals.NewRepository(tx),
		Invoices:       invoicing.NewRepository(tx),
		Mappings:       mappings.NewRepository(tx.Pool()),
		Idempotency:    idempotency.NewPostgresStore(tx),
		Audit:          shared.NewAuditLogger(tx),
		AccountCache:   accountCache,
		AsyncBalances:  cfg.AsyncBalances(),
		IdempotencyTTL: cfg.IdempotencyTTL,
		Logger:         logger,
	}
}
