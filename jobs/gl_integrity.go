package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// Reconciler rebuilds balances from entries and reports drift.
type Reconciler interface {
	Reconcile(ctx context.Context, companyID int64) ([]journals.Drift, error)
}

// CompanyLister enumerates companies with a chart of accounts.
type CompanyLister interface {
	CompanyIDs(ctx context.Context) ([]int64, error)
}

// GLIntegrityJob compares stored account totals with totals rebuilt from posted entries.
type GLIntegrityJob struct {
	Reconciler Reconciler
	Companies  CompanyLister
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewGLIntegrityJob wires the integrity check.
func NewGLIntegrityJob(reconciler Reconciler, companies CompanyLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &GLIntegrityJob{Reconciler: reconciler, Companies: companies, Logger: logger, Metrics: metrics}
}

// Handle decodes the payload and runs the check.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload GLIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload.CompanyID)
	return err
}

// Run checks one company, or every company when companyID is zero, and returns all drift found.
func (j *GLIntegrityJob) Run(ctx context.Context, companyID int64) (map[int64][]journals.Drift, error) {
	if j == nil || j.Reconciler == nil {
		return nil, errors.New("gl integrity: reconciler not configured")
	}
	tracker := j.Metrics.Track(TaskGLIntegrity)
	companies := []int64{companyID}
	if companyID == 0 {
		if j.Companies == nil {
			return nil, tracker.End(errors.New("gl integrity: company lister not configured"))
		}
		ids, err := j.Companies.CompanyIDs(ctx)
		if err != nil {
			return nil, tracker.End(err)
		}
		companies = ids
	}
	found := make(map[int64][]journals.Drift)
	for _, id := range companies {
		drifts, err := j.Reconciler.Reconcile(ctx, id)
		if err != nil {
			j.Logger.Error("gl integrity", slog.Int64("company_id", id), slog.Any("error", err))
			return found, tracker.End(err)
		}
		for _, d := range drifts {
			j.Logger.Warn("balance drift detected",
				slog.Int64("company_id", id),
				slog.Int64("account_id", d.AccountID),
				slog.String("code", d.Code),
				slog.String("stored_debit", d.StoredDebit.StringFixed(2)),
				slog.String("expected_debit", d.ExpectedDebit.StringFixed(2)),
				slog.String("stored_credit", d.StoredCredit.StringFixed(2)),
				slog.String("expected_credit", d.ExpectedCredit.StringFixed(2)))
		}
		if len(drifts) > 0 {
			found[id] = drifts
			j.Metrics.AddDrift(id, len(drifts))
		}
	}
	j.Logger.Info("gl integrity check executed", slog.Int("companies", len(companies)), slog.Int("drifting", len(found)))
	return found, tracker.End(nil)
}
