// Package analysis exposes root-cause analysis and index statistics over HTTP.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"logrca/internal/middleware"
	"logrca/internal/rca"
	"logrca/internal/vector"
)

type Analyzer interface {
	Analyze(ctx context.Context, correlationID string) (*rca.Report, error)
}

type IndexStats interface {
	Stats(ctx context.Context) (vector.Stats, error)
}

type Handler struct {
	analyzer Analyzer
	index    IndexStats
}

func NewHandler(a Analyzer, idx IndexStats) *Handler {
	return &Handler{analyzer: a, index: idx}
}

func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		CorrelationID string `json:"correlation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	cid := strings.TrimSpace(req.CorrelationID)
	if cid == "" {
		h.writeError(ctx, w, "VALIDATION_ERROR", "correlation_id is required", http.StatusBadRequest)
		return
	}

	slog.InfoContext(ctx, "analyzing request", "correlation_id", cid)

	report, err := h.analyzer.Analyze(ctx, cid)
	if err != nil {
		h.writeError(ctx, w, "LOG_STORE_ERROR", err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.index.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read index stats", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to read index stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": map[string]interface{}{
			"collection": stats.Collection,
			"count":      stats.Count,
		},
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
