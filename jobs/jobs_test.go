package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/events"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/store/memory"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	seen  map[string]bool
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	key := task.Type() + string(task.Payload())
	if f.seen[key] {
		return nil, asynq.ErrTaskIDConflict
	}
	f.seen[key] = true
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (f *fakeEnqueuer) ofType(typ string) []*asynq.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*asynq.Task
	for _, t := range f.tasks {
		if t.Type() == typ {
			out = append(out, t)
		}
	}
	return out
}

type recordingSink struct {
	name string
	err  error
	got  []events.Envelope
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, env events.Envelope) error {
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, env)
	return nil
}

type asyncLedger struct {
	store   *memory.Store
	service *journals.Service
	scope   shared.Scope
	cash    int64
	revenue int64
}

func newAsyncLedger(t *testing.T) *asyncLedger {
	t.Helper()
	store := memory.New()
	dispatcher := journals.NewDispatcher(nil)
	service := journals.NewService(store.Journals(), dispatcher, nil, nil)
	dispatcher.Register(journals.NewReversalEngine(service), journals.NewOutboxWriter())
	l := &asyncLedger{
		store:   store,
		service: service,
		scope:   shared.Scope{CompanyID: 1, ActorID: 2, Clock: func() time.Time { return time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC) }},
	}
	for _, acc := range []accounts.Account{
		{CompanyID: 1, Code: "1100", Name: "Cash", Type: accounts.AccountTypeAsset, NormalBalance: accounts.NormalDebit, IsActive: true},
		{CompanyID: 1, Code: "4100", Name: "Sales", Type: accounts.AccountTypeRevenue, NormalBalance: accounts.NormalCredit, IsActive: true},
	} {
		saved, err := store.Accounts().Insert(context.Background(), acc)
		require.NoError(t, err)
		if acc.Code == "1100" {
			l.cash = saved.ID
		} else {
			l.revenue = saved.ID
		}
	}
	return l
}

func (l *asyncLedger) post(t *testing.T, ref string, amount int64) journals.Entry {
	t.Helper()
	entry, err := l.service.CreateAndPost(context.Background(), l.scope, journals.CreateInput{
		Description: "Sale " + ref,
		Reference:   ref,
		EntryDate:   l.scope.Now(),
		Lines: []journals.LineInput{
			{AccountID: l.cash, Debit: decimal.NewFromInt(amount)},
			{AccountID: l.revenue, Credit: decimal.NewFromInt(amount)},
		},
	})
	require.NoError(t, err)
	return entry
}

func (l *asyncLedger) cashDebit(t *testing.T) string {
	t.Helper()
	acc, err := l.store.Accounts().Get(context.Background(), 1, l.cash)
	require.NoError(t, err)
	return acc.DebitBalance.Sub(acc.CreditBalance).String()
}

func TestRelayFeedsAsyncBalanceWorker(t *testing.T) {
	ctx := context.Background()
	l := newAsyncLedger(t)
	l.post(t, "S-1", 40)
	l.post(t, "S-2", 60)
	require.Equal(t, "0", l.cashDebit(t))

	enq := &fakeEnqueuer{}
	relayJob := jobs.NewOutboxRelayJob(events.NewRelay(l.store.Outbox(), nil, 1, jobs.NewTaskSink(enq, true)), 1, nil, nil)
	n, err := relayJob.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, enq.ofType(jobs.TaskEventPublish), 2)
	balanceTasks := enq.ofType(jobs.TaskBalancesApply)
	require.Len(t, balanceTasks, 2)

	n, err = relayJob.Drain(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	worker := jobs.NewBalancesApplyJob(l.service, nil, nil)
	for round := 0; round < 2; round++ {
		for _, task := range balanceTasks {
			require.NoError(t, worker.Handle(ctx, task))
		}
		require.Equal(t, "100", l.cashDebit(t))
	}

	found, err := jobs.NewGLIntegrityJob(l.service, nil, nil, nil).Run(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestTaskSinkSkipsBalanceTasksForOtherAggregates(t *testing.T) {
	ctx := context.Background()
	enq := &fakeEnqueuer{}
	sink := jobs.NewTaskSink(enq, true)

	env, err := events.NewEnvelope(events.TypeInvoiceStatusChanged, events.AggregateInvoice, 1, 9, time.Now(), map[string]string{"new_status": "sent"})
	require.NoError(t, err)
	require.NoError(t, sink.Publish(ctx, env))
	require.NoError(t, sink.Publish(ctx, env))
	require.Len(t, enq.tasks, 1)
	require.Empty(t, enq.ofType(jobs.TaskBalancesApply))

	var decoded events.Envelope
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &decoded))
	require.Equal(t, env.ID, decoded.ID)

	syncSink := jobs.NewTaskSink(enq, false)
	posted, err := events.NewEnvelope(events.TypeJournalEntryPosted, events.AggregateJournalEntry, 1, 3, time.Now(), map[string]int{"entry_id": 3})
	require.NoError(t, err)
	require.NoError(t, syncSink.Publish(ctx, posted))
	require.Empty(t, enq.ofType(jobs.TaskBalancesApply))

	enq.err = errors.New("redis down")
	require.Error(t, sink.Publish(ctx, posted))
}

func TestEventPublishJob(t *testing.T) {
	ctx := context.Background()
	kafkaSink := &recordingSink{name: "kafka"}
	job := jobs.NewEventPublishJob(nil, nil, kafkaSink)

	env, err := events.NewEnvelope(events.TypeJournalEntryVoided, events.AggregateJournalEntry, 1, 4, time.Now(), map[string]int{"entry_id": 4})
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	require.NoError(t, job.Handle(ctx, asynq.NewTask(jobs.TaskEventPublish, raw)))
	require.Len(t, kafkaSink.got, 1)
	require.Equal(t, env.ID, kafkaSink.got[0].ID)

	err = job.Handle(ctx, asynq.NewTask(jobs.TaskEventPublish, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	kafkaSink.err = errors.New("leader not available")
	require.Error(t, job.Handle(ctx, asynq.NewTask(jobs.TaskEventPublish, raw)))
}

func TestBalancesApplyRejectsIncompletePayload(t *testing.T) {
	job := jobs.NewBalancesApplyJob(nil, nil, nil)
	raw, err := json.Marshal(jobs.BalancesApplyPayload{EventID: "x", EventType: events.TypeJournalEntryPosted, CompanyID: 1})
	require.NoError(t, err)
	err = job.Handle(context.Background(), asynq.NewTask(jobs.TaskBalancesApply, raw))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeCleaner struct {
	grace time.Duration
}

func (f *fakeCleaner) Cleanup(_ context.Context, grace time.Duration) (int64, error) {
	f.grace = grace
	return 3, nil
}

func TestIdempotencyCleanupUsesPayloadGrace(t *testing.T) {
	cleaner := &fakeCleaner{}
	task, err := jobs.NewIdempotencyCleanupTask(24)
	require.NoError(t, err)
	require.NoError(t, jobs.NewIdempotencyCleanupJob(cleaner, nil, nil).Handle(context.Background(), task))
	require.Equal(t, 24*time.Hour, cleaner.grace)
}

type fakeReconciler map[int64][]journals.Drift

func (f fakeReconciler) Reconcile(_ context.Context, companyID int64) ([]journals.Drift, error) {
	return f[companyID], nil
}

type fakeCompanies []int64

func (f fakeCompanies) CompanyIDs(context.Context) ([]int64, error) { return f, nil }

func TestGLIntegrityChecksEveryCompany(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	drift := journals.Drift{AccountID: 7, Code: "1100", StoredDebit: decimal.NewFromInt(10), ExpectedDebit: decimal.NewFromInt(12)}
	job := jobs.NewGLIntegrityJob(fakeReconciler{2: {drift}}, fakeCompanies{1, 2, 3}, nil, metrics)

	task, err := jobs.NewGLIntegrityTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	found, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, map[int64][]journals.Drift{2: {drift}}, found)

	families, err := registry.Gather()
	require.NoError(t, err)
	var driftTotal float64
	for _, mf := range families {
		if mf.GetName() == "odyssey_ledger_balance_drift_total" {
			for _, m := range mf.GetMetric() {
				driftTotal += m.GetCounter().GetValue()
			}
		}
	}
	require.Equal(t, float64(2), driftTotal)

	_, err = jobs.NewGLIntegrityJob(nil, nil, nil, nil).Run(context.Background(), 1)
	require.Error(t, err)
}
