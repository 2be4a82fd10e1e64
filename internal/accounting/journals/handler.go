package journals

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/idempotency"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Handler serves the journal API. Every mutating route requires an Idempotency-Key.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	executor *idempotency.Executor
	observer httpx.CommandObserver
}

// NewHandler builds a journal handler.
func NewHandler(logger *slog.Logger, service *Service, executor *idempotency.Executor) *Handler {
	return &Handler{logger: logger, service: service, executor: executor}
}

// WithObserver records command outcomes on o.
func (h *Handler) WithObserver(o httpx.CommandObserver) *Handler {
	h.observer = o
	return h
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status")), SourceType: q.Get("source_type")}
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.List(r.Context(), scope, filter)
	if err != nil {
		h.logger.Error("list journal entries", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.Get(r.Context(), scope, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input, err := req.toInput()
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrBadRequest, err))
		return
	}
	op := "journal.create"
	if req.Post {
		op = "journal.create_post"
	}
	h.command(w, r, op, req, http.StatusCreated, func(ctx context.Context, scope shared.Scope) (Entry, error) {
		if req.Post {
			return h.service.CreateAndPost(ctx, scope, input)
		}
		return h.service.Create(ctx, scope, input)
	})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req UpdateRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input, err := req.toInput()
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrBadRequest, err))
		return
	}
	payload := map[string]any{"id": id, "body": req}
	h.command(w, r, "journal.update", payload, http.StatusOK, func(ctx context.Context, scope shared.Scope) (Entry, error) {
		return h.service.Update(ctx, scope, id, input)
	})
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "journal.post", func(ctx context.Context, scope shared.Scope, id int64) (Entry, error) {
		return h.service.Post(ctx, scope, id)
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "journal.cancel", func(ctx context.Context, scope shared.Scope, id int64) (Entry, error) {
		return h.service.Cancel(ctx, scope, id)
	})
}

func (h *Handler) void(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req VoidRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	payload := map[string]any{"id": id, "reason": req.Reason}
	h.command(w, r, "journal.void", payload, http.StatusOK, func(ctx context.Context, scope shared.Scope) (Entry, error) {
		return h.service.Void(ctx, scope, id, req.Reason)
	})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "journal.delete", func(ctx context.Context, scope shared.Scope, id int64) (Entry, error) {
		entry, err := h.service.Get(ctx, scope, id)
		if err != nil {
			return Entry{}, err
		}
		return entry, h.service.Delete(ctx, scope, id)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, shared.Scope, int64) (Entry, error)) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.command(w, r, op, map[string]any{"id": id}, http.StatusOK, func(ctx context.Context, scope shared.Scope) (Entry, error) {
		return fn(ctx, scope, id)
	})
}

// command runs fn under the request's idempotency key and writes the entry or the mapped error.
func (h *Handler) command(w http.ResponseWriter, r *http.Request, op string, payload any, status int, fn func(context.Context, shared.Scope) (Entry, error)) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	key, err := httpx.IdempotencyKey(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req := idempotency.Request{CompanyID: scope.CompanyID, Key: key, Operation: op, Payload: payload}
	entry, replayed, err := idempotency.Execute(r.Context(), h.executor, req, func(ctx context.Context) (Entry, error) {
		return fn(ctx, scope)
	})
	if h.observer != nil {
		h.observer.ObserveCommand(op, httpx.CommandOutcome(err, replayed))
	}
	if err != nil {
		if httpx.CommandOutcome(err, false) == "error" {
			h.logger.Warn("journal command failed", slog.String("operation", op), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.MarkReplayed(w, replayed)
	httpx.JSON(w, status, entry)
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid paging parameter %q", httpx.ErrBadRequest, raw)
	}
	return n, nil
}
