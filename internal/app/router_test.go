package app_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/invoicing"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/store/memory"
)

type apiClient struct {
	t       *testing.T
	handler http.Handler
}

func newAPI(t *testing.T, ready func(*http.Request) error) *apiClient {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	ledger := app.NewLedger(app.LedgerDeps{
		Accounts:       store.Accounts(),
		Journals:       store.Journals(),
		Invoices:       store.Invoices(),
		Mappings:       store.Mappings(),
		Idempotency:    store.Idempotency(),
		Audit:          store.Audit(),
		IdempotencyTTL: time.Hour,
		Logger:         logger,
	})
	metrics := observability.NewMetrics()
	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          &app.Config{AppEnv: "test", AppRateLimit: 10000, AppRequestTimeout: 5 * time.Second},
		AccountsHandler: accounts.NewHandler(logger, ledger.Accounts),
		JournalsHandler: journals.NewHandler(logger, ledger.Journals, ledger.Executor).WithObserver(metrics),
		InvoiceHandler:  invoicing.NewHandler(logger, ledger.Invoices, ledger.Executor).WithObserver(metrics),
		Metrics:         metrics,
		Ready:           ready,
	})
	return &apiClient{t: t, handler: router}
}

func (c *apiClient) do(method, path string, company int64, key string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if company > 0 {
		req.Header.Set(httpx.HeaderCompanyID, strconv.FormatInt(company, 10))
		req.Header.Set(httpx.HeaderActorID, "11")
	}
	if key != "" {
		req.Header.Set(httpx.HeaderIdempotencyKey, key)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (c *apiClient) account(code string, typ accounts.AccountType) int64 {
	c.t.Helper()
	rec := c.do(http.MethodPost, "/api/accounts", 1, "", map[string]any{"code": code, "name": "Account " + code, "type": typ})
	require.Equal(c.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[accounts.Account](c.t, rec).ID
}

func sale(cash, revenue int64, debit, credit string) map[string]any {
	return map[string]any{
		"description": "Counter sale",
		"reference":   "POS-1",
		"entry_date":  time.Now().UTC().Format("2006-01-02"),
		"post":        true,
		"lines": []map[string]any{
			{"account_id": cash, "debit": debit},
			{"account_id": revenue, "credit": credit},
		},
	}
}

func TestJournalCommandsAreIdempotent(t *testing.T) {
	api := newAPI(t, nil)
	cash := api.account("1100", accounts.AccountTypeAsset)
	revenue := api.account("4100", accounts.AccountTypeRevenue)

	first := api.do(http.MethodPost, "/api/journals", 1, "sale-1", sale(cash, revenue, "120.50", "120.50"))
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	entry := decode[journals.Entry](t, first)
	require.Equal(t, journals.StatusPosted, entry.Status)
	require.Empty(t, first.Header().Get(httpx.HeaderIdempotentReply))

	replay := api.do(http.MethodPost, "/api/journals", 1, "sale-1", sale(cash, revenue, "120.50", "120.50"))
	require.Equal(t, http.StatusCreated, replay.Code)
	require.Equal(t, "true", replay.Header().Get(httpx.HeaderIdempotentReply))
	require.Equal(t, entry.ID, decode[journals.Entry](t, replay).ID)

	conflict := api.do(http.MethodPost, "/api/journals", 1, "sale-1", sale(cash, revenue, "99.00", "99.00"))
	require.Equal(t, http.StatusConflict, conflict.Code)
	require.Equal(t, httpx.ProblemTypeConflictingRetry, decode[httpx.ProblemDetail](t, conflict).Type)

	missingKey := api.do(http.MethodPost, "/api/journals", 1, "", sale(cash, revenue, "1", "1"))
	require.Equal(t, http.StatusBadRequest, missingKey.Code)

	list := api.do(http.MethodGet, "/api/journals", 1, "", nil)
	require.Equal(t, http.StatusOK, list.Code)
	require.Len(t, decode[struct {
		Entries []journals.Entry `json:"entries"`
	}](t, list).Entries, 1)

	acc := api.do(http.MethodGet, "/api/accounts/"+strconv.FormatInt(cash, 10), 1, "", nil)
	require.Equal(t, http.StatusOK, acc.Code)
	require.Equal(t, "120.5", decode[accounts.Account](t, acc).DebitBalance.String())
}

func TestConcurrentRetriesCreateOneEntry(t *testing.T) {
	api := newAPI(t, nil)
	cash := api.account("1100", accounts.AccountTypeAsset)
	revenue := api.account("4100", accounts.AccountTypeRevenue)

	const attempts = 8
	recs := make([]*httptest.ResponseRecorder, attempts)
	var g errgroup.Group
	for i := range recs {
		i := i
		g.Go(func() error {
			recs[i] = api.do(http.MethodPost, "/api/journals", 1, "sale-race", sale(cash, revenue, "75.00", "75.00"))
			if recs[i].Code != http.StatusCreated {
				return fmt.Errorf("attempt %d: %d %s", i, recs[i].Code, recs[i].Body.String())
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	ids := map[int64]bool{}
	replays := 0
	for _, rec := range recs {
		ids[decode[journals.Entry](t, rec).ID] = true
		if rec.Header().Get(httpx.HeaderIdempotentReply) == "true" {
			replays++
		}
	}
	require.Len(t, ids, 1)
	require.Equal(t, attempts-1, replays)

	list := api.do(http.MethodGet, "/api/journals", 1, "", nil)
	require.Equal(t, http.StatusOK, list.Code)
	require.Len(t, decode[struct {
		Entries []journals.Entry `json:"entries"`
	}](t, list).Entries, 1)

	acc := api.do(http.MethodGet, "/api/accounts/"+strconv.FormatInt(cash, 10), 1, "", nil)
	require.Equal(t, http.StatusOK, acc.Code)
	require.Equal(t, "75", decode[accounts.Account](t, acc).DebitBalance.String())
}

func TestJournalErrorsMapToProblems(t *testing.T) {
	api := newAPI(t, nil)
	cash := api.account("1100", accounts.AccountTypeAsset)
	revenue := api.account("4100", accounts.AccountTypeRevenue)

	unbalanced := api.do(http.MethodPost, "/api/journals", 1, "bad-1", sale(cash, revenue, "10.00", "9.00"))
	require.Equal(t, http.StatusUnprocessableEntity, unbalanced.Code)
	require.Equal(t, "application/problem+json", unbalanced.Header().Get("Content-Type"))

	posted := api.do(http.MethodPost, "/api/journals", 1, "ok-1", sale(cash, revenue, "10.00", "10.00"))
	require.Equal(t, http.StatusCreated, posted.Code)
	id := strconv.FormatInt(decode[journals.Entry](t, posted).ID, 10)

	shortReason := api.do(http.MethodPost, "/api/journals/"+id+"/void", 1, "void-0", map[string]string{"reason": "oops"})
	require.Equal(t, http.StatusUnprocessableEntity, shortReason.Code)

	voided := api.do(http.MethodPost, "/api/journals/"+id+"/void", 1, "void-1", map[string]string{"reason": "keyed against wrong till"})
	require.Equal(t, http.StatusOK, voided.Code, voided.Body.String())
	require.Equal(t, journals.StatusVoid, decode[journals.Entry](t, voided).Status)

	// replays answer with the status of the operation the key is bound to
	voidReplay := api.do(http.MethodPost, "/api/journals/"+id+"/void", 1, "void-1", map[string]string{"reason": "keyed against wrong till"})
	require.Equal(t, http.StatusOK, voidReplay.Code)
	require.Equal(t, "true", voidReplay.Header().Get(httpx.HeaderIdempotentReply))
	require.Equal(t, voided.Body.String(), voidReplay.Body.String())

	repost := api.do(http.MethodPost, "/api/journals/"+id+"/post", 1, "post-again", nil)
	require.Equal(t, http.StatusConflict, repost.Code)

	otherTenant := api.do(http.MethodGet, "/api/journals/"+id, 2, "", nil)
	require.Equal(t, http.StatusNotFound, otherTenant.Code)

	noTenant := api.do(http.MethodGet, "/api/journals/"+id, 0, "", nil)
	require.Equal(t, http.StatusBadRequest, noTenant.Code)
}

func TestInvoiceRoutes(t *testing.T) {
	api := newAPI(t, nil)
	today := time.Now().UTC().Format("2006-01-02")

	created := api.do(http.MethodPost, "/api/invoices", 1, "inv-1", map[string]any{
		"number":      "INV-9",
		"customer_id": 4,
		"currency":    "IDR",
		"issue_date":  today,
		"due_date":    today,
		"items":       []map[string]any{{"description": "Support plan", "quantity": "1", "unit_price": "250"}},
	})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	id := strconv.FormatInt(decode[invoicing.Invoice](t, created).ID, 10)

	sent := api.do(http.MethodPost, "/api/invoices/"+id+"/send", 1, "inv-1-send", map[string]string{})
	require.Equal(t, http.StatusOK, sent.Code, sent.Body.String())
	require.Equal(t, invoicing.StatusSent, decode[invoicing.Invoice](t, sent).Status)

	cancel := api.do(http.MethodPost, "/api/invoices/"+id+"/cancel", 1, "inv-1-cancel", map[string]string{})
	require.Equal(t, http.StatusUnprocessableEntity, cancel.Code)

	paid := api.do(http.MethodPost, "/api/invoices/"+id+"/payments", 1, "inv-1-pay", map[string]string{"amount": "250", "reference": "TRX-1"})
	require.Equal(t, http.StatusOK, paid.Code, paid.Body.String())
	require.Equal(t, invoicing.StatusPaid, decode[invoicing.Invoice](t, paid).Status)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newAPI(t, nil)
	rec := api.do(http.MethodGet, "/healthz", 0, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	cash := api.account("1100", accounts.AccountTypeAsset)
	revenue := api.account("4100", accounts.AccountTypeRevenue)
	api.do(http.MethodPost, "/api/journals", 1, "m-1", sale(cash, revenue, "5", "5"))
	api.do(http.MethodPost, "/api/journals", 1, "m-1", sale(cash, revenue, "5", "5"))

	metrics := api.do(http.MethodGet, "/metrics", 0, "", nil)
	require.Equal(t, http.StatusOK, metrics.Code)
	body := metrics.Body.String()
	require.True(t, strings.Contains(body, `odyssey_ledger_commands_total{operation="journal.create_post",outcome="replayed"} 1`), body)

	down := newAPI(t, func(*http.Request) error { return errors.New("pool closed") })
	rec = down.do(http.MethodGet, "/healthz", 0, "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
