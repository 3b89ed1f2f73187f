// Package mcp exposes the analysis operations as Model Context Protocol tools
// over JSON-RPC 2.0, either as plain POST or through an SSE session.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"logrca/internal/logs"
	"logrca/internal/middleware"
	"logrca/internal/rca"
	"logrca/internal/scanner"
)

type Analyzer interface {
	Analyze(ctx context.Context, correlationID string) (*rca.Report, error)
	FetchLogs(ctx context.Context, correlationID string) ([]logs.Event, error)
}

type Indexer interface {
	IndexPath(ctx context.Context, path string) (int, error)
}

type Handler struct {
	analyzer     Analyzer
	indexer      Indexer
	sessions     map[string]chan string // sessionId -> serialized JSON-RPC responses
	sessionsLock sync.RWMutex
}

func NewHandler(a Analyzer, i Indexer) *Handler {
	return &Handler{
		analyzer: a,
		indexer:  i,
		sessions: make(map[string]chan string),
	}
}

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type CorrelationArgs struct {
	CorrelationID string `json:"correlation_id"`
}

type IndexArgs struct {
	Path string `json:"path"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

const (
	ToolAnalyze   = "rca_analyze"
	ToolFetchLogs = "rca_fetch_logs"
	ToolIndexPath = "rca_index_path"
)

func correlationSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"correlation_id": map[string]string{
				"type":        "string",
				"description": "Correlation id shared by the log lines of one request",
			},
		},
		"required": []string{"correlation_id"},
	}
}

var tools = []Tool{
	{
		Name: ToolAnalyze,
		Description: `Root-cause analysis tool. Fetches every log line of one request, retrieves the source code around the log calls that produced them and returns a Markdown incident report.

USAGE EXAMPLE:
rca_analyze(correlation_id="abc-123")`,
		InputSchema: correlationSchema(),
	},
	{
		Name: ToolFetchLogs,
		Description: `Log lookup tool. Returns the log events of one request ordered by timestamp.

USAGE EXAMPLE:
rca_fetch_logs(correlation_id="abc-123")`,
		InputSchema: correlationSchema(),
	},
	{
		Name: ToolIndexPath,
		Description: `Indexing tool. Scans a source tree for log calls and stores their surrounding code in the vector index. Omit path to index the configured code path.

USAGE EXAMPLE:
rca_index_path(path="./spring-app")`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]string{
					"type":        "string",
					"description": "Root directory to scan",
				},
			},
		},
	},
}

// ProcessRequest returns nil for notifications.
func (h *Handler) ProcessRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "logrca-mcp",
					"version": "1.0.0",
				},
			},
		}
	case "notifications/initialized":
		return nil
	case "ping":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{}}
	case "tools/list":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ListToolsResult{Tools: tools}}
	case "tools/call":
		return h.callTool(ctx, req)
	}

	slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
	resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
	return &resp
}

func (h *Handler) callTool(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	var params CallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		slog.WarnContext(ctx, "invalid params structure", "error", err)
		resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
		return &resp
	}

	switch params.Name {
	case ToolAnalyze, ToolFetchLogs:
		var args CorrelationArgs
		if err := unmarshalArgs(params.Arguments, &args); err != nil {
			resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid arguments")
			return &resp
		}
		cid := strings.TrimSpace(args.CorrelationID)
		if cid == "" {
			resp := makeErrorResponse(req.ID, ErrInvalidParams, "correlation_id is required")
			return &resp
		}
		if params.Name == ToolAnalyze {
			return h.analyze(ctx, req.ID, cid)
		}
		return h.fetchLogs(ctx, req.ID, cid)

	case ToolIndexPath:
		var args IndexArgs
		if err := unmarshalArgs(params.Arguments, &args); err != nil {
			resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid arguments")
			return &resp
		}
		return h.indexPath(ctx, req.ID, args.Path)
	}

	slog.WarnContext(ctx, "tool not found", "tool", params.Name)
	resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found: "+params.Name)
	return &resp
}

func unmarshalArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func (h *Handler) analyze(ctx context.Context, id interface{}, cid string) *JSONRPCResponse {
	report, err := h.analyzer.Analyze(ctx, cid)
	if err != nil {
		slog.ErrorContext(ctx, "rca_analyze failed", "correlation_id", cid, "error", err)
		return toolError(id, err)
	}

	text := fmt.Sprintf("Correlation ID: %s\nLogs: %d\nContexts: %d\n\n%s", report.CorrelationID, report.LogCount, report.ContextCount, report.RCA)
	slog.InfoContext(ctx, "tool execution completed", "tool", ToolAnalyze, "log_count", report.LogCount)
	return toolText(id, text)
}

func (h *Handler) fetchLogs(ctx context.Context, id interface{}, cid string) *JSONRPCResponse {
	events, err := h.analyzer.FetchLogs(ctx, cid)
	if err != nil {
		slog.ErrorContext(ctx, "rca_fetch_logs failed", "correlation_id", cid, "error", err)
		return toolError(id, err)
	}
	if len(events) == 0 {
		return toolText(id, "No logs found for correlation id.")
	}

	jsonBytes, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return toolError(id, errors.New("marshalling results"))
	}
	slog.InfoContext(ctx, "tool execution completed", "tool", ToolFetchLogs, "count", len(events))
	return toolText(id, string(jsonBytes))
}

func (h *Handler) indexPath(ctx context.Context, id interface{}, path string) *JSONRPCResponse {
	count, err := h.indexer.IndexPath(ctx, path)
	if err != nil {
		if errors.Is(err, scanner.ErrEmptyPath) {
			resp := makeErrorResponse(id, ErrInvalidParams, "path is required")
			return &resp
		}
		slog.ErrorContext(ctx, "rca_index_path failed", "path", path, "error", err)
		return toolError(id, err)
	}
	slog.InfoContext(ctx, "tool execution completed", "tool", ToolIndexPath, "count", count)
	return toolText(id, fmt.Sprintf("Indexed %d log contexts.", count))
}

func toolText(id interface{}, text string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  ToolResult{Content: []ToolContent{{Type: "text", Text: text}}},
	}
}

func toolError(id interface{}, err error) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: ToolResult{
			Content: []ToolContent{{Type: "text", Text: "Error: " + err.Error()}},
			IsError: true,
		},
	}
}

func makeErrorResponse(id interface{}, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slog.InfoContext(r.Context(), "mcp request received", "method", r.Method, "path", r.URL.Path)

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, nil, ErrParse, "Parse error")
		return
	}

	resp := h.ProcessRequest(r.Context(), req)
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// HandleSSE opens a session stream. Responses to messages posted for the
// session are delivered as "message" events.
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeHTTPError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Streaming unsupported", middleware.GetRequestID(r.Context()))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sessionID := uuid.New().String()
	msgChan := make(chan string, 100)

	h.sessionsLock.Lock()
	h.sessions[sessionID] = msgChan
	h.sessionsLock.Unlock()

	defer func() {
		h.sessionsLock.Lock()
		delete(h.sessions, sessionID)
		h.sessionsLock.Unlock()
		close(msgChan)
		slog.Info("sse session ended", "session_id", sessionID)
	}()

	slog.InfoContext(r.Context(), "sse session started", "session_id", sessionID)

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/mcp/messages?sessionId=%s", scheme, r.Host, sessionID)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", html.EscapeString(endpoint))
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleMessage accepts a JSON-RPC message for an open session and answers
// 202 before processing it.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		h.writeHTTPError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing sessionId", requestID)
		return
	}

	h.sessionsLock.RLock()
	_, exists := h.sessions[sessionID]
	h.sessionsLock.RUnlock()
	if !exists {
		slog.WarnContext(r.Context(), "session not found", "session_id", sessionID)
		h.writeHTTPError(w, http.StatusNotFound, "NOT_FOUND", "Session not found", requestID)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeHTTPError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON", requestID)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	bgCtx := context.WithoutCancel(r.Context())
	go func() {
		resp := h.ProcessRequest(bgCtx, req)
		if resp == nil {
			return
		}
		respBytes, err := json.Marshal(resp)
		if err != nil {
			slog.ErrorContext(bgCtx, "failed to marshal response", "error", err)
			return
		}
		h.deliver(bgCtx, sessionID, string(respBytes))
	}()
}

// deliver holds the read lock so the session cannot be closed mid-send.
func (h *Handler) deliver(ctx context.Context, sessionID, msg string) {
	h.sessionsLock.RLock()
	defer h.sessionsLock.RUnlock()

	msgChan, ok := h.sessions[sessionID]
	if !ok {
		slog.WarnContext(ctx, "session closed before response", "session_id", sessionID)
		return
	}
	select {
	case msgChan <- msg:
	default:
		slog.WarnContext(ctx, "session channel full, dropping message", "session_id", sessionID)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	// JSON-RPC over HTTP reports errors in a 200 body.
	w.WriteHeader(http.StatusOK)

	resp := makeErrorResponse(id, code, message)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

func (h *Handler) writeHTTPError(w http.ResponseWriter, status int, code, message, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"requestId": requestID,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
