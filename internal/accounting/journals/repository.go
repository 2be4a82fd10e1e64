package journals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/events"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

const entryColumns = `id, company_id, number, status, description, reference, entry_date, metadata, source_type, source_id,
posted_at, posted_by, voided_at, voided_by, void_reason, cancelled_at, cancelled_by, reversing_entry_id, original_entry_id,
COALESCE(created_by, 0), created_at, updated_at`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	tx *db.Transactor
}

// NewRepository returns the Postgres journal repository on the shared transactor.
func NewRepository(tx *db.Transactor) Repository {
	return &repository{tx: tx}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *repository) Get(ctx context.Context, companyID, id int64) (Entry, error) {
	return loadEntry(ctx, r.tx.Pool(), companyID, id, false)
}

func (r *repository) List(ctx context.Context, companyID int64, filter ListFilter) ([]Entry, error) {
	var (
		where = []string{"company_id=$1"}
		args  = []any{companyID}
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.SourceType != "" {
		args = append(args, filter.SourceType)
		where = append(where, fmt.Sprintf("source_type=$%d", len(args)))
	}
	args = append(args, filter.Limit, filter.Offset)
	sql := fmt.Sprintf(`SELECT %s FROM journal_entries WHERE %s ORDER BY number DESC LIMIT $%d OFFSET $%d`,
		entryColumns, strings.Join(where, " AND "), len(args)-1, len(args))
	rows, err := r.tx.Pool().Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repository) FindBySource(ctx context.Context, companyID int64, sourceType, sourceID string) (Entry, error) {
	var id int64
	err := r.tx.Pool().QueryRow(ctx, `SELECT id FROM journal_entries WHERE company_id=$1 AND source_type=$2 AND source_id=$3`,
		companyID, sourceType, sourceID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, shared.ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	return loadEntry(ctx, r.tx.Pool(), companyID, id, false)
}

func (r *repository) ListAccounts(ctx context.Context, companyID int64) ([]accounts.Account, error) {
	return accounts.NewRepository(r.tx.Pool()).List(ctx, companyID)
}

func (r *repository) PostedTotals(ctx context.Context, companyID int64) (map[int64]AccountTotals, error) {
	rows, err := r.tx.Pool().Query(ctx, `SELECT l.account_id, COALESCE(SUM(l.debit_amount), 0), COALESCE(SUM(l.credit_amount), 0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
WHERE e.company_id=$1 AND e.status='posted' AND e.original_entry_id IS NULL
GROUP BY l.account_id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]AccountTotals)
	for rows.Next() {
		var id int64
		var t AccountTotals
		if err := rows.Scan(&id, &t.Debit, &t.Credit); err != nil {
			return nil, err
		}
		out[id] = t
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) GetAccounts(ctx context.Context, companyID int64, ids []int64) (map[int64]accounts.Account, error) {
	return selectAccounts(ctx, t.tx, companyID, ids, "")
}

func (t *txRepository) LockAccounts(ctx context.Context, companyID int64, ids []int64) (map[int64]accounts.Account, error) {
	return selectAccounts(ctx, t.tx, companyID, ids, " FOR UPDATE")
}

func selectAccounts(ctx context.Context, q querier, companyID int64, ids []int64, suffix string) (map[int64]accounts.Account, error) {
	rows, err := q.Query(ctx, `SELECT `+accounts.Columns()+` FROM ledger_accounts WHERE company_id=$1 AND id = ANY($2) ORDER BY id`+suffix, companyID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]accounts.Account, len(ids))
	for rows.Next() {
		a, err := accounts.ScanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (t *txRepository) SaveAccountBalance(ctx context.Context, a accounts.Account) error {
	tag, err := t.tx.Exec(ctx, `UPDATE ledger_accounts SET debit_balance=$3, credit_balance=$4, last_activity_at=$5, updated_at=$6
WHERE company_id=$1 AND id=$2`, a.CompanyID, a.ID, a.DebitBalance, a.CreditBalance, a.LastActivityAt, a.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %d: %w", a.ID, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepository) NextEntryNumber(ctx context.Context, companyID int64) (int64, error) {
	var number int64
	err := t.tx.QueryRow(ctx, `INSERT INTO journal_number_sequences (company_id, last_number) VALUES ($1, 1)
ON CONFLICT (company_id) DO UPDATE SET last_number = journal_number_sequences.last_number + 1
RETURNING last_number`, companyID).Scan(&number)
	return number, err
}

func (t *txRepository) InsertEntry(ctx context.Context, e Entry) (Entry, error) {
	meta, err := marshalMetadata(e.Metadata)
	if err != nil {
		return Entry{}, err
	}
	row := t.tx.QueryRow(ctx, `INSERT INTO journal_entries (company_id, number, status, description, reference, entry_date, metadata,
source_type, source_id, original_entry_id, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, 0), $12, $13)
RETURNING `+entryColumns,
		e.CompanyID, e.Number, e.Status, e.Description, e.Reference, e.EntryDate, meta,
		e.SourceType, e.SourceID, e.OriginalEntryID, e.CreatedBy, e.CreatedAt, e.UpdatedAt)
	inserted, err := scanEntry(row)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_journal_source") {
			return Entry{}, shared.ErrSourceAlreadyLinked
		}
		return Entry{}, err
	}
	return inserted, nil
}

func (t *txRepository) InsertLines(ctx context.Context, entryID int64, lines []Line) ([]Line, error) {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		err := t.tx.QueryRow(ctx, `INSERT INTO journal_lines (entry_id, line_no, account_id, debit_amount, credit_amount, description, entity_type, entity_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			entryID, l.LineNo, l.AccountID, l.Debit, l.Credit, l.Description, l.EntityType, l.EntityID).Scan(&l.ID)
		if err != nil {
			return nil, err
		}
		l.EntryID = entryID
		out = append(out, l)
	}
	return out, nil
}

func (t *txRepository) DeleteLines(ctx context.Context, entryID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM journal_lines WHERE entry_id=$1`, entryID)
	return err
}

func (t *txRepository) UpdateDraft(ctx context.Context, e Entry) error {
	meta, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE journal_entries SET description=$3, reference=$4, entry_date=$5, metadata=$6, updated_at=$7
WHERE company_id=$1 AND id=$2 AND status='draft'`, e.CompanyID, e.ID, e.Description, e.Reference, e.EntryDate, meta, e.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepository) DeleteEntry(ctx context.Context, companyID, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM journal_entries WHERE company_id=$1 AND id=$2 AND status='draft'`, companyID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepository) GetEntry(ctx context.Context, companyID, id int64) (Entry, error) {
	return loadEntry(ctx, t.tx, companyID, id, false)
}

func (t *txRepository) GetEntryForUpdate(ctx context.Context, companyID, id int64) (Entry, error) {
	return loadEntry(ctx, t.tx, companyID, id, true)
}

func (t *txRepository) SaveStatus(ctx context.Context, e Entry) error {
	tag, err := t.tx.Exec(ctx, `UPDATE journal_entries SET status=$3, posted_at=$4, posted_by=$5, voided_at=$6, voided_by=$7,
void_reason=$8, cancelled_at=$9, cancelled_by=$10, updated_at=$11
WHERE company_id=$1 AND id=$2`,
		e.CompanyID, e.ID, e.Status, e.PostedAt, e.PostedBy, e.VoidedAt, e.VoidedBy, e.VoidReason, e.CancelledAt, e.CancelledBy, e.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepository) LinkReversal(ctx context.Context, companyID, originalID, reversingID int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE journal_entries SET reversing_entry_id=$3 WHERE company_id=$1 AND id=$2 AND reversing_entry_id IS NULL`,
		companyID, originalID, reversingID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NewTransitionError(entityJournal, string(StatusVoid), string(StatusVoid), "entry already reversed")
	}
	_, err = t.tx.Exec(ctx, `UPDATE journal_entries SET original_entry_id=$3 WHERE company_id=$1 AND id=$2`, companyID, reversingID, originalID)
	return err
}

func (t *txRepository) RecordEffect(ctx context.Context, entryID int64, effect Effect) (bool, error) {
	tag, err := t.tx.Exec(ctx, `INSERT INTO ledger_balance_effects (entry_id, effect) VALUES ($1, $2) ON CONFLICT DO NOTHING`, entryID, effect)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepository) AppendOutbox(ctx context.Context, env events.Envelope) error {
	return events.InsertOutbox(ctx, t.tx, env)
}

func loadEntry(ctx context.Context, q querier, companyID, id int64, lock bool) (Entry, error) {
	sql := `SELECT ` + entryColumns + ` FROM journal_entries WHERE company_id=$1 AND id=$2`
	if lock {
		sql += ` FOR UPDATE`
	}
	e, err := scanEntry(q.QueryRow(ctx, sql, companyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("journal entry %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return Entry{}, err
	}
	rows, err := q.Query(ctx, `SELECT id, entry_id, line_no, account_id, debit_amount, credit_amount, description, entity_type, entity_id
FROM journal_lines WHERE entry_id=$1 ORDER BY line_no, id`, id)
	if err != nil {
		return Entry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.EntryID, &l.LineNo, &l.AccountID, &l.Debit, &l.Credit, &l.Description, &l.EntityType, &l.EntityID); err != nil {
			return Entry{}, err
		}
		e.Lines = append(e.Lines, l)
	}
	return e, rows.Err()
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var meta []byte
	err := row.Scan(&e.ID, &e.CompanyID, &e.Number, &e.Status, &e.Description, &e.Reference, &e.EntryDate, &meta,
		&e.SourceType, &e.SourceID, &e.PostedAt, &e.PostedBy, &e.VoidedAt, &e.VoidedBy, &e.VoidReason,
		&e.CancelledAt, &e.CancelledBy, &e.ReversingEntryID, &e.OriginalEntryID, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return Entry{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return Entry{}, fmt.Errorf("journals: decode metadata: %w", err)
		}
	}
	return e, nil
}

func marshalMetadata(meta map[string]any) ([]byte, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	return json.Marshal(meta)
}
