package journals

import (
	"context"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/events"
)

// Repository encapsulates journal persistence. Reads outside WithTx see committed data only.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, companyID, id int64) (Entry, error)
	List(ctx context.Context, companyID int64, filter ListFilter) ([]Entry, error)
	FindBySource(ctx context.Context, companyID int64, sourceType, sourceID string) (Entry, error)
	ListAccounts(ctx context.Context, companyID int64) ([]accounts.Account, error)
	PostedTotals(ctx context.Context, companyID int64) (map[int64]AccountTotals, error)
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	GetAccounts(ctx context.Context, companyID int64, ids []int64) (map[int64]accounts.Account, error)
	// LockAccounts takes row locks in ascending id order.
	LockAccounts(ctx context.Context, companyID int64, ids []int64) (map[int64]accounts.Account, error)
	SaveAccountBalance(ctx context.Context, account accounts.Account) error

	NextEntryNumber(ctx context.Context, companyID int64) (int64, error)
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
	InsertLines(ctx context.Context, entryID int64, lines []Line) ([]Line, error)
	DeleteLines(ctx context.Context, entryID int64) error
	UpdateDraft(ctx context.Context, entry Entry) error
	DeleteEntry(ctx context.Context, companyID, id int64) error
	GetEntry(ctx context.Context, companyID, id int64) (Entry, error)
	GetEntryForUpdate(ctx context.Context, companyID, id int64) (Entry, error)
	SaveStatus(ctx context.Context, entry Entry) error
	LinkReversal(ctx context.Context, companyID, originalID, reversingID int64) error

	// RecordEffect inserts the marker and reports whether it was new.
	RecordEffect(ctx context.Context, entryID int64, effect Effect) (bool, error)
	AppendOutbox(ctx context.Context, env events.Envelope) error
}
