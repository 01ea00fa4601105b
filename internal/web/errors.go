package web

// errors.go maps ingestion failures to HTTP responses.
//
// Every error is logged server-side with the request ID and answered with a
// JSON body carrying the user message, a suggested action and a support code
// from core.MapError.

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/captionset/internal/core"
	"github.com/JonMunkholm/captionset/internal/jsonx"
	"github.com/JonMunkholm/captionset/internal/logging"
)

var (
	errRateLimited     = errors.New("rate limit exceeded")
	errNoFile          = errors.New("no file provided")
	errInvalidDataset  = errors.New("invalid dataset id")
	errUnavailable     = errors.New("database unavailable")
	errUnsupportedType = errors.New("unsupported content type")
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
	Code      string `json:"code"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, core.ErrFileTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrTooManyUploads):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrDatasetBusy):
		return http.StatusConflict
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errNoFile), errors.Is(err, errInvalidDataset):
		return http.StatusBadRequest
	case errors.Is(err, errUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable
	}

	switch core.KindOf(err) {
	case core.KindStructuralFormat, core.KindEmptyResult, core.KindDuplicateKey:
		return http.StatusUnprocessableEntity
	case core.KindPersistence:
		return http.StatusInternalServerError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes a JSON error with the mapped status.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	respondJSONError(w, r, statusFor(err), err)
}

// respondJSONError logs err and writes it as a JSON error with status.
func respondJSONError(w http.ResponseWriter, r *http.Request, status int, err error) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) && !errors.Is(err, core.ErrFileTooLarge) {
		err = fmt.Errorf("%w: %w", core.ErrFileTooLarge, err)
	}
	msg := core.MapError(err)
	requestID := chimw.GetReqID(r.Context())

	log := logging.FromContext(r.Context())
	args := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		log.Error("request error", args...)
	} else {
		log.Warn("request rejected", args...)
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	writeJSON(w, r, status, ErrorResponse{
		Error:     msg.Message,
		Message:   msg.Message,
		Action:    msg.Action,
		Code:      msg.Code,
		Kind:      string(core.KindOf(err)),
		RequestID: requestID,
	})
}

// writeJSON encodes v as the response body.
// Encoding errors are only logged since the header is already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsonx.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode error", "error", err)
	}
}
