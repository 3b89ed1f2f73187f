// Package logs serves the raw log events of a correlation id.
package logs

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	eventlog "logrca/internal/logs"
	"logrca/internal/middleware"
)

type Fetcher interface {
	FetchLogs(ctx context.Context, correlationID string) ([]eventlog.Event, error)
}

type Handler struct {
	fetcher Fetcher
}

func NewHandler(f Fetcher) *Handler {
	return &Handler{fetcher: f}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cid := strings.TrimSpace(r.URL.Query().Get("correlation_id"))
	if cid == "" {
		h.writeError(ctx, w, "VALIDATION_ERROR", "correlation_id is required", http.StatusBadRequest)
		return
	}

	events, err := h.fetcher.FetchLogs(ctx, cid)
	if err != nil {
		slog.ErrorContext(ctx, "failed to fetch logs", "correlation_id", cid, "error", err)
		h.writeError(ctx, w, "LOG_STORE_ERROR", err.Error(), http.StatusBadGateway)
		return
	}

	if events == nil {
		events = []eventlog.Event{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"logs":  events,
		"count": len(events),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"requestId": middleware.GetRequestID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
