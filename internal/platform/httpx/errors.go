// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// ProblemTypeConflictingRetry marks a reused idempotency key with a different payload.
const ProblemTypeConflictingRetry = "https://odyssey-erp.dev/problems/conflicting_retry"

// ErrBadRequest indicates a malformed request outside the domain validation rules.
var ErrBadRequest = errors.New("bad request")

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrKeyConflict):
		JSON(w, http.StatusConflict, ProblemDetail{
			Type:   ProblemTypeConflictingRetry,
			Title:  "Conflicting Retry",
			Status: http.StatusConflict,
			Detail: err.Error(),
		})
	case errors.Is(err, shared.ErrKeyInFlight):
		w.Header().Set("Retry-After", "1")
		Problem(w, http.StatusConflict, "Request In Progress", err.Error())
	case errors.Is(err, shared.ErrInvalidTransition):
		Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, shared.ErrSourceAlreadyLinked):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrUnbalancedEntry),
		errors.Is(err, shared.ErrInsufficientLines),
		errors.Is(err, shared.ErrValidation),
		errors.Is(err, shared.ErrMappingNotFound):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, ErrBadRequest):
		Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
