package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fanzone/memefeed/internal/feed"
	"github.com/fanzone/memefeed/pkg/model"
)

// APIError represents a structured error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeNotImplemented  = "NOT_IMPLEMENTED"
	ErrCodeUnavailable     = "UNAVAILABLE"
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// statusClientClosed is nginx's "client closed request".
const statusClientClosed = 499

func writeError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{Code: code, Message: message}); err != nil {
		slog.Warn("Failed to encode error response", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}

// writeFeedError maps feed and remote errors to HTTP statuses. Client
// cancellations get 499 with no body.
func (h *Handler) writeFeedError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case model.IsCanceled(err):
		w.WriteHeader(statusClientClosed)
	case errors.Is(err, model.ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, model.ErrInvalidItem):
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Item not found")
	case errors.Is(err, feed.ErrNoMaintainer), errors.Is(err, feed.ErrNoWatcher):
		writeError(w, http.StatusNotImplemented, ErrCodeNotImplemented, err.Error())
	case errors.Is(err, model.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "Feed session closed")
	default:
		h.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "Internal error")
	}
}

func maxBodySize(next http.HandlerFunc, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next(w, r)
	}
}

func withTimeout(next http.HandlerFunc, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}
