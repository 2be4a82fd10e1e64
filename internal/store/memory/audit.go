package memory

import (
	"context"

	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AuditSink stores audit rows alongside the other tables.
type AuditSink struct {
	s *Store
}

// Record appends log in its own transaction.
func (a *AuditSink) Record(ctx context.Context, log internalShared.AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	return a.s.WithTx(ctx, func(context.Context) error {
		a.s.state.audit = append(a.s.state.audit, log)
		return nil
	})
}

// Logs returns recorded audit rows for an action, or all rows when action is empty.
func (a *AuditSink) Logs(action string) []internalShared.AuditLog {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []internalShared.AuditLog
	for _, l := range a.s.state.audit {
		if action == "" || l.Action == action {
			out = append(out, l)
		}
	}
	return out
}
