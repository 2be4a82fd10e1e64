package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/events"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// TaskSink turns relayed envelopes into asynq tasks. Each envelope becomes a
// ledger:event.publish task; in async balance mode journal postings and voids
// also become ledger:balances.apply tasks. Task ids derive from the envelope id,
// so a re-relayed envelope does not enqueue twice while the first task is retained.
type TaskSink struct {
	client        Enqueuer
	asyncBalances bool
}

// NewTaskSink builds the sink.
func NewTaskSink(client Enqueuer, asyncBalances bool) *TaskSink {
	return &TaskSink{client: client, asyncBalances: asyncBalances}
}

func (s *TaskSink) Name() string { return "asynq" }

func (s *TaskSink) Publish(ctx context.Context, env events.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskEventPublish, raw, asynq.Queue(QueueLedger), asynq.TaskID("evt:"+env.ID.String()), asynq.MaxRetry(25))
	if err := s.enqueue(ctx, task); err != nil {
		return err
	}
	if !s.asyncBalances || env.AggregateType != events.AggregateJournalEntry {
		return nil
	}
	if env.Type != events.TypeJournalEntryPosted && env.Type != events.TypeJournalEntryVoided {
		return nil
	}
	balanceTask, err := NewBalancesApplyTask(BalancesApplyPayload{
		EventID:    env.ID.String(),
		EventType:  env.Type,
		CompanyID:  env.CompanyID,
		EntryID:    env.AggregateID,
		OccurredAt: env.OccurredAt,
	})
	if err != nil {
		return err
	}
	return s.enqueue(ctx, balanceTask)
}

func (s *TaskSink) enqueue(ctx context.Context, task *asynq.Task) error {
	_, err := s.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

// OutboxRelayJob drains the outbox on every tick until a batch comes back short.
type OutboxRelayJob struct {
	Relay   *events.Relay
	Batch   int
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewOutboxRelayJob wires the relay tick.
func NewOutboxRelayJob(relay *events.Relay, batch int, logger *slog.Logger, metrics *jobmetrics.Metrics) *OutboxRelayJob {
	if logger == nil {
		logger = slog.Default()
	}
	if batch <= 0 {
		batch = 100
	}
	return &OutboxRelayJob{Relay: relay, Batch: batch, Logger: logger, Metrics: metrics}
}

// Handle runs the relay as a scheduled task.
func (j *OutboxRelayJob) Handle(ctx context.Context, _ *asynq.Task) error {
	_, err := j.Drain(ctx)
	return err
}

// Drain relays batches until the outbox is empty or a sink fails.
func (j *OutboxRelayJob) Drain(ctx context.Context) (int, error) {
	tracker := j.Metrics.Track(TaskOutboxRelay)
	total := 0
	for {
		n, err := j.Relay.RunOnce(ctx)
		total += n
		if err != nil {
			j.Logger.Error("outbox relay", slog.Any("error", err))
			return total, tracker.End(err)
		}
		if n < j.Batch || ctx.Err() != nil {
			break
		}
	}
	j.Metrics.AddPublished("asynq", total)
	if total > 0 {
		j.Logger.Debug("outbox relayed", slog.Int("events", total))
	}
	return total, tracker.End(nil)
}

// EventPublishJob forwards one envelope to the external sinks, typically Kafka.
type EventPublishJob struct {
	Sinks   []events.Sink
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewEventPublishJob wires the event fan-out.
func NewEventPublishJob(logger *slog.Logger, metrics *jobmetrics.Metrics, sinks ...events.Sink) *EventPublishJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublishJob{Sinks: sinks, Logger: logger, Metrics: metrics}
}

// Handle decodes the envelope and publishes it to every sink.
func (j *EventPublishJob) Handle(ctx context.Context, t *asynq.Task) error {
	var env events.Envelope
	if err := json.Unmarshal(t.Payload(), &env); err != nil {
		return fmt.Errorf("event publish: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskEventPublish)
	for _, sink := range j.Sinks {
		if err := sink.Publish(ctx, env); err != nil {
			return tracker.End(fmt.Errorf("event publish: sink %s: %w", sink.Name(), err))
		}
		j.Metrics.AddPublished(sink.Name(), 1)
	}
	j.Logger.Debug("event published", slog.String("event_id", env.ID.String()), slog.String("type", env.Type))
	return tracker.End(nil)
}

// BalanceApplier applies a journal event's balance effect in its own transaction.
type BalanceApplier interface {
	ApplyBalanceEvent(ctx context.Context, companyID, entryID int64, typ journals.EventType, at time.Time) error
}

// BalancesApplyJob is the worker side of the asynchronous balance mode.
type BalancesApplyJob struct {
	Applier BalanceApplier
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewBalancesApplyJob wires the balance worker.
func NewBalancesApplyJob(applier BalanceApplier, logger *slog.Logger, metrics *jobmetrics.Metrics) *BalancesApplyJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &BalancesApplyJob{Applier: applier, Logger: logger, Metrics: metrics}
}

// Handle applies the balance effect. Redelivery is absorbed by the balance markers.
func (j *BalancesApplyJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload BalancesApplyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("balances apply: %v: %w", err, asynq.SkipRetry)
	}
	if payload.CompanyID <= 0 || payload.EntryID <= 0 {
		return fmt.Errorf("balances apply: missing company or entry: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskBalancesApply)
	err := j.Applier.ApplyBalanceEvent(ctx, payload.CompanyID, payload.EntryID, journals.EventType(payload.EventType), payload.OccurredAt)
	if err != nil {
		j.Logger.Warn("balances apply",
			slog.Int64("company_id", payload.CompanyID),
			slog.Int64("entry_id", payload.EntryID),
			slog.String("event", payload.EventType),
			slog.Any("error", err))
	}
	return tracker.End(err)
}

// KeyCleaner removes expired idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, grace time.Duration) (int64, error)
}

// IdempotencyCleanupJob purges expired idempotency keys.
type IdempotencyCleanupJob struct {
	Cleaner KeyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob wires the cleanup.
func NewIdempotencyCleanupJob(cleaner KeyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencyCleanupJob{Cleaner: cleaner, Logger: logger, Metrics: metrics}
}

// Handle deletes keys that expired more than the payload grace ago.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	removed, err := j.Cleaner.Cleanup(ctx, time.Duration(payload.GraceHours)*time.Hour)
	if err != nil {
		j.Logger.Error("idempotency cleanup", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Logger.Info("idempotency cleanup", slog.Int64("removed", removed))
	return tracker.End(nil)
}
