package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mikey73/onecareer/apierr"
	"github.com/mikey73/onecareer/directory"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apierr.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, apierr.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, apierr.ErrAccountInactive), errors.Is(err, apierr.ErrAccountNotVerified):
		return http.StatusForbidden
	case errors.Is(err, apierr.ErrEmailExists):
		return http.StatusConflict
	case errors.Is(err, apierr.ErrAuth), errors.Is(err, apierr.ErrEmailOrPasswordNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, apierr.ErrSchemaInvalid),
		errors.Is(err, apierr.ErrInvalidRole),
		errors.Is(err, apierr.ErrPasswordConfirm),
		errors.Is(err, apierr.ErrInvalidVerification),
		errors.Is(err, apierr.ErrVerificationExpired):
		return http.StatusBadRequest
	case errors.Is(err, directory.ErrDelivery):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err in the API error shape. Errors outside the apierr
// taxonomy are reported as internal errors without leaking their text.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	kind, ok := apierr.As(err)
	if !ok || status == http.StatusInternalServerError {
		kind = apierr.ErrInternal
	}
	if status >= http.StatusInternalServerError {
		a.Logger.ErrorContext(r.Context(), "request failed",
			"request_id", RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeErrorBody(w, r, status, kind)
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, status int, kind *apierr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Code:      kind.Code,
		Message:   kind.Message,
		RequestID: RequestIDFromContext(r.Context()),
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
