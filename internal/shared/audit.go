package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// AuditLog is one row of audit_logs.
type AuditLog struct {
	CompanyID int64
	ActorID   int64
	Action    string
	Entity    string
	EntityID  string
	Meta      map[string]any
	At        time.Time
}

// Validate checks the mandatory fields.
func (l AuditLog) Validate() error {
	if l.CompanyID <= 0 || l.Action == "" || l.Entity == "" || l.EntityID == "" {
		return errors.New("audit log requires company/action/entity/entity_id")
	}
	return nil
}

// AuditLogger appends to audit_logs, inside the ambient transaction when there is one.
type AuditLogger struct {
	tx *db.Transactor
}

// NewAuditLogger returns an AuditLogger bound to the transactor's pool.
func NewAuditLogger(tx *db.Transactor) *AuditLogger {
	return &AuditLogger{tx: tx}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.tx == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	const stmt = `INSERT INTO audit_logs (company_id, actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6, COALESCE($7, NOW()))`
	args := []any{log.CompanyID, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at}
	if tx, ok := db.TxFromContext(ctx); ok {
		_, err = tx.Exec(ctx, stmt, args...)
		return err
	}
	_, err = l.tx.Pool().Exec(ctx, stmt, args...)
	return err
}
