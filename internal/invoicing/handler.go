package invoicing

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/idempotency"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Handler serves the invoice API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	executor *idempotency.Executor
	observer httpx.CommandObserver
}

// NewHandler builds an invoice handler.
func NewHandler(logger *slog.Logger, service *Service, executor *idempotency.Executor) *Handler {
	return &Handler{logger: logger, service: service, executor: executor}
}

// WithObserver records command outcomes on o.
func (h *Handler) WithObserver(o httpx.CommandObserver) *Handler {
	h.observer = o
	return h
}

// MountRoutes registers invoice endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Post("/items", h.addItem)
		r.Post("/send", h.transition(StatusSent, "invoice.send"))
		r.Post("/post", h.transition(StatusPosted, "invoice.post"))
		r.Post("/cancel", h.transition(StatusCancelled, "invoice.cancel"))
		r.Post("/reopen", h.transition(StatusDraft, "invoice.reopen"))
		r.Post("/payments", h.applyPayment)
		r.Post("/payments/{allocationID}/void", h.voidAllocation)
	})
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
	inv, err := h.service.Get(r.Context(), scope, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
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
	h.command(w, r, "invoice.create", req, http.StatusCreated, func(ctx context.Context, scope shared.Scope) (Invoice, error) {
		return h.service.Create(ctx, scope, input)
	})
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req ItemRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	payload := map[string]any{"id": id, "item": req}
	h.command(w, r, "invoice.add_item", payload, http.StatusOK, func(ctx context.Context, scope shared.Scope) (Invoice, error) {
		return h.service.AddItem(ctx, scope, id, ItemInput(req))
	})
}

func (h *Handler) transition(to Status, op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		var req TransitionRequest
		if r.ContentLength != 0 {
			if err := httpx.DecodeAndValidate(r, &req); err != nil {
				httpx.RespondError(w, err)
				return
			}
		}
		payload := map[string]any{"id": id, "reason": req.Reason}
		h.command(w, r, op, payload, http.StatusOK, func(ctx context.Context, scope shared.Scope) (Invoice, error) {
			return h.service.TransitionTo(ctx, scope, id, to, req.Reason)
		})
	}
}

func (h *Handler) applyPayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req PaymentRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	payload := map[string]any{"id": id, "payment": req}
	h.command(w, r, "invoice.apply_payment", payload, http.StatusOK, func(ctx context.Context, scope shared.Scope) (Invoice, error) {
		return h.service.ApplyPayment(ctx, scope, id, req.Amount, req.Reference)
	})
}

func (h *Handler) voidAllocation(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	allocationID, err := httpx.IDParam(r, "allocationID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	payload := map[string]any{"id": id, "allocation_id": allocationID}
	h.command(w, r, "invoice.void_payment", payload, http.StatusOK, func(ctx context.Context, scope shared.Scope) (Invoice, error) {
		return h.service.VoidAllocation(ctx, scope, id, allocationID)
	})
}

func (h *Handler) command(w http.ResponseWriter, r *http.Request, op string, payload any, status int, fn func(context.Context, shared.Scope) (Invoice, error)) {
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
	inv, replayed, err := idempotency.Execute(r.Context(), h.executor, req, func(ctx context.Context) (Invoice, error) {
		return fn(ctx, scope)
	})
	if h.observer != nil {
		h.observer.ObserveCommand(op, httpx.CommandOutcome(err, replayed))
	}
	if err != nil {
		if httpx.CommandOutcome(err, false) == "error" {
			h.logger.Warn("invoice command failed", slog.String("operation", op), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.MarkReplayed(w, replayed)
	httpx.JSON(w, status, inv)
}
