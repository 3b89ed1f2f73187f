package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"logrca/internal/middleware"
	"logrca/internal/scanner"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

type indexRequest struct {
	Path     string `json:"path"`
	CodePath string `json:"code_path"`
	JavaPath string `json:"java_path"`
}

func (r indexRequest) path() string {
	switch {
	case r.Path != "":
		return r.Path
	case r.CodePath != "":
		return r.CodePath
	default:
		return r.JavaPath
	}
}

// decode accepts an empty body so the configured CODE_PATH is indexed.
func decode(r *http.Request) (indexRequest, error) {
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, err
	}
	return req, nil
}

func (h *Handler) IndexPath(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decode(r)
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	path := h.service.resolve(req.path())
	count, err := h.service.IndexPath(ctx, path)
	if err != nil {
		if errors.Is(err, scanner.ErrEmptyPath) {
			h.writeError(ctx, w, "VALIDATION_ERROR", "path is required", http.StatusBadRequest)
			return
		}
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"count":             count,
		"path":              path,
		"documents_indexed": count,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) IndexPathAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decode(r)
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	path, err := h.service.Enqueue(ctx, req.path(), middleware.GetRequestID(ctx))
	if err != nil {
		switch {
		case errors.Is(err, scanner.ErrEmptyPath):
			h.writeError(ctx, w, "VALIDATION_ERROR", "path is required", http.StatusBadRequest)
		case errors.Is(err, ErrNoPublisher):
			h.writeError(ctx, w, "UNAVAILABLE", err.Error(), http.StatusServiceUnavailable)
		default:
			slog.ErrorContext(ctx, "failed to queue index task", "error", err)
			h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]string{"status": "queued", "path": path}}); err != nil {
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
