package rca

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AnalysisLogEntry is one JSON line of the analysis log.
type AnalysisLogEntry struct {
	Timestamp     time.Time     `json:"timestamp"`
	CorrelationID string        `json:"correlation_id"`
	RequestID     string        `json:"request_id,omitempty"`
	LogCount      int           `json:"log_count"`
	QueryCount    int           `json:"query_count"`
	ContextCount  int           `json:"context_count"`
	Degraded      bool          `json:"retrieval_degraded,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	LatencyMs     int64         `json:"latency_ms"`
}

type AnalysisLogger struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewAnalysisLogger(w io.Writer) *AnalysisLogger {
	return &AnalysisLogger{writer: w}
}

// NewFileAnalysisLogger appends to path, creating its directory if needed.
func NewFileAnalysisLogger(path string) (*AnalysisLogger, io.Closer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, nil, err
	}

	cleanPath := filepath.Clean(path)
	f, err := os.OpenFile(cleanPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path is from application config, not user input
	if err != nil {
		return nil, nil, err
	}
	return NewAnalysisLogger(f), f, nil
}

func (l *AnalysisLogger) Log(entry AnalysisLogEntry) {
	entry.Timestamp = time.Now().UTC()
	entry.LatencyMs = entry.Duration.Milliseconds()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := json.NewEncoder(l.writer).Encode(entry); err != nil {
		slog.Error("failed to write analysis log entry", "error", err)
	}
}
