package perf

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/idempotency"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/seed"
	"github.com/odyssey-erp/odyssey-ledger/internal/store/memory"
)

type fixture struct {
	ledger  *app.Ledger
	scope   shared.Scope
	cash    int64
	revenue int64
}

func newFixture(tb testing.TB) *fixture {
	tb.Helper()
	store := memory.New()
	ledger := app.NewLedger(app.LedgerDeps{
		Accounts:       store.Accounts(),
		Journals:       store.Journals(),
		Invoices:       store.Invoices(),
		Mappings:       store.Mappings(),
		Idempotency:    store.Idempotency(),
		IdempotencyTTL: time.Hour,
	})
	scope := shared.Scope{CompanyID: 1, ActorID: 1}
	ctx := context.Background()
	_, err := seed.NewSeeder(ledger.Accounts, store.Mappings(), nil).Run(ctx, scope, seed.DefaultChart)
	require.NoError(tb, err)
	list, err := ledger.Accounts.List(ctx, scope)
	require.NoError(tb, err)
	f := &fixture{ledger: ledger, scope: scope}
	for _, acc := range list {
		switch acc.Code {
		case "1100":
			f.cash = acc.ID
		case "4100":
			f.revenue = acc.ID
		}
	}
	require.NotZero(tb, f.cash)
	require.NotZero(tb, f.revenue)
	return f
}

func (f *fixture) sale(n int) journals.CreateInput {
	amount := decimal.NewFromInt(int64(n%500 + 1))
	return journals.CreateInput{
		Description: "Counter sale",
		Reference:   fmt.Sprintf("POS-%d", n),
		EntryDate:   f.scope.Now(),
		Lines: []journals.LineInput{
			{AccountID: f.cash, Debit: amount},
			{AccountID: f.revenue, Credit: amount},
		},
	}
}

func BenchmarkCreateAndPost(b *testing.B) {
	f := newFixture(b)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.ledger.Journals.CreateAndPost(ctx, f.scope, f.sale(i)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkIdempotentReplay(b *testing.B) {
	f := newFixture(b)
	ctx := context.Background()
	input := f.sale(1)
	req := idempotency.Request{CompanyID: f.scope.CompanyID, Key: "bench-replay", Operation: "journal.create_post", Payload: input}
	run := func(ctx context.Context) (journals.Entry, error) {
		return f.ledger.Journals.CreateAndPost(ctx, f.scope, input)
	}
	_, _, err := idempotency.Execute(ctx, f.ledger.Executor, req, run)
	require.NoError(b, err)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, replayed, err := idempotency.Execute(ctx, f.ledger.Executor, req, run); err != nil || !replayed {
			b.Fatalf("replay failed: replayed=%v err=%v", replayed, err)
		}
	}
}

func TestPostingLatencyBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	var posted []journals.Entry
	for i := 0; i < 200; i++ {
		tracker := metrics.Track("ledger.create_post")
		entry, err := f.ledger.Journals.CreateAndPost(ctx, f.scope, f.sale(i))
		require.NoError(t, tracker.End(err))
		posted = append(posted, entry)
	}
	for _, entry := range posted[:50] {
		tracker := metrics.Track("ledger.void")
		_, err := f.ledger.Journals.Void(ctx, f.scope, entry.ID, "bulk correction run")
		require.NoError(t, tracker.End(err))
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Equal(t, 200.0, metricValue(t, families, "odyssey_ledger_jobs_total", map[string]string{"job": "ledger.create_post", "status": "success"}))
	require.Equal(t, 50.0, metricValue(t, families, "odyssey_ledger_jobs_total", map[string]string{"job": "ledger.void", "status": "success"}))
	require.Less(t, histogramMean(t, families, "odyssey_ledger_job_duration_seconds", map[string]string{"job": "ledger.create_post"}), 0.05)
	require.Less(t, histogramMean(t, families, "odyssey_ledger_job_duration_seconds", map[string]string{"job": "ledger.void"}), 0.05)

	drift, err := f.ledger.Journals.Reconcile(ctx, f.scope.CompanyID)
	require.NoError(t, err)
	require.Empty(t, drift)
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				require.NotZero(t, hist.GetSampleCount(), "histogram %s missing samples", name)
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}
