package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"docembed/internal/apperr"
	"docembed/internal/contextutil"
	"docembed/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"` // configuration, transient, data, protocol
}

// statusFor maps a service error to an HTTP status.
//
//	validation      -> 400
//	configuration   -> 409
//	transient, data,
//	protocol        -> 502
//	cancelled       -> 503
func statusFor(err error) int {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrConfig):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrTransient), errors.Is(err, apperr.ErrData), errors.Is(err, apperr.ErrProtocol):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleServiceError logs err and writes the matching ErrorResponse.
func handleServiceError(w http.ResponseWriter, ctx context.Context, err error) {
	logger := contextutil.LoggerFromContext(ctx)
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed", "status", status, "error", err)
	} else {
		logger.WarnContext(ctx, "request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: errorKind(err)})
}

func errorKind(err error) string {
	if apperr.Kind(err) == nil {
		return ""
	}
	return apperr.KindName(err)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
