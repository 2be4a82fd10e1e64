package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault carries scheduled maintenance tasks.
	QueueDefault = "default"
	// QueueLedger carries event fan-out and asynchronous balance tasks.
	QueueLedger = "ledger"

	TaskBalancesApply      = "ledger:balances.apply"
	TaskEventPublish       = "ledger:event.publish"
	TaskOutboxRelay        = "ledger:outbox.relay"
	TaskGLIntegrity        = "ledger:gl.integrity"
	TaskIdempotencyCleanup = "ledger:idempotency.cleanup"
)

// BalancesApplyPayload identifies the journal event whose balance effect must be applied.
type BalancesApplyPayload struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	CompanyID  int64     `json:"company_id"`
	EntryID    int64     `json:"entry_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// GLIntegrityPayload narrows the integrity check to one company; zero checks all.
type GLIntegrityPayload struct {
	CompanyID int64 `json:"company_id"`
}

// IdempotencyCleanupPayload sets how long expired keys are kept.
type IdempotencyCleanupPayload struct {
	GraceHours int `json:"grace_hours"`
}

// NewBalancesApplyTask builds a balance task deduplicated by event id.
func NewBalancesApplyTask(payload BalancesApplyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBalancesApply, data,
		asynq.Queue(QueueLedger), asynq.TaskID("bal:"+payload.EventID), asynq.MaxRetry(25)), nil
}

// NewGLIntegrityTask builds the integrity check task.
func NewGLIntegrityTask(companyID int64) (*asynq.Task, error) {
	data, err := json.Marshal(GLIntegrityPayload{CompanyID: companyID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrity, data), nil
}

// NewIdempotencyCleanupTask builds the key cleanup task.
func NewIdempotencyCleanupTask(graceHours int) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{GraceHours: graceHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// NewOutboxRelayTask builds the relay tick task.
func NewOutboxRelayTask() *asynq.Task {
	return asynq.NewTask(TaskOutboxRelay, nil, asynq.MaxRetry(0), asynq.Timeout(time.Minute))
}
