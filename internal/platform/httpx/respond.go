// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Request headers understood by the command surface.
const (
	HeaderCompanyID       = "X-Company-ID"
	HeaderActorID         = "X-Actor-ID"
	HeaderIdempotencyKey  = "Idempotency-Key"
	HeaderIdempotentReply = "Idempotent-Replayed"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ProblemDetail represents RFC7807 problem details.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProblemDetail{
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// DecodeJSON decodes JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

// DecodeAndValidate decodes the body and applies validator struct tags.
func DecodeAndValidate(r *http.Request, target any) error {
	if err := DecodeJSON(r, target); err != nil {
		return err
	}
	return Validate(target)
}

// Validate applies validator struct tags and converts failures to shared.ValidationError.
func Validate(target any) error {
	err := validate.Struct(target)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.Invalid(err.Error())
	}
	reasons := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		reasons = append(reasons, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return shared.Invalid(reasons...)
}

// ScopeFromRequest reads tenant and actor headers. Authentication happens upstream.
func ScopeFromRequest(r *http.Request) (shared.Scope, error) {
	companyID, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderCompanyID)), 10, 64)
	if err != nil || companyID <= 0 {
		return shared.Scope{}, fmt.Errorf("%w: %s header required", ErrBadRequest, HeaderCompanyID)
	}
	var actorID int64
	if raw := strings.TrimSpace(r.Header.Get(HeaderActorID)); raw != "" {
		actorID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return shared.Scope{}, fmt.Errorf("%w: invalid %s header", ErrBadRequest, HeaderActorID)
		}
	}
	return shared.Scope{CompanyID: companyID, ActorID: actorID}, nil
}

// IdempotencyKey returns the mandatory Idempotency-Key header.
func IdempotencyKey(r *http.Request) (string, error) {
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" {
		return "", fmt.Errorf("%w: %s header required", ErrBadRequest, HeaderIdempotencyKey)
	}
	if len(key) > 255 {
		return "", fmt.Errorf("%w: %s header too long", ErrBadRequest, HeaderIdempotencyKey)
	}
	return key, nil
}

// IDParam parses a positive int64 URL parameter.
func IDParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", ErrBadRequest, name)
	}
	return id, nil
}

// MarkReplayed flags a response served from an idempotency snapshot.
func MarkReplayed(w http.ResponseWriter, replayed bool) {
	if replayed {
		w.Header().Set(HeaderIdempotentReply, "true")
	}
}

// CommandObserver records the outcome of idempotent commands.
type CommandObserver interface {
	ObserveCommand(operation, outcome string)
}

// CommandOutcome classifies a command result as ok, replayed, rejected or error.
func CommandOutcome(err error, replayed bool) string {
	switch {
	case err == nil && replayed:
		return "replayed"
	case err == nil:
		return "ok"
	case errors.Is(err, shared.ErrValidation),
		errors.Is(err, shared.ErrInvalidTransition),
		errors.Is(err, shared.ErrUnbalancedEntry),
		errors.Is(err, shared.ErrInsufficientLines),
		errors.Is(err, shared.ErrKeyConflict),
		errors.Is(err, shared.ErrKeyInFlight),
		errors.Is(err, shared.ErrNotFound),
		errors.Is(err, ErrBadRequest):
		return "rejected"
	default:
		return "error"
	}
}
