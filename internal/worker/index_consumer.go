// Package worker consumes queued index tasks.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"logrca/features/ingest"
	"logrca/internal/middleware"
	"logrca/internal/scanner"
)

type Indexer interface {
	IndexPath(ctx context.Context, path string) (int, error)
}

type IndexConsumer struct {
	indexer Indexer
	timeout time.Duration
}

// NewIndexConsumer bounds each task by timeout; zero means 10 minutes.
func NewIndexConsumer(i Indexer, timeout time.Duration) *IndexConsumer {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &IndexConsumer{indexer: i, timeout: timeout}
}

// HandleMessage acks malformed tasks and tasks without a path. Index failures
// are returned so NSQ requeues the message.
func (c *IndexConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task ingest.Task
	if err := json.Unmarshal(m.Body, &task); err != nil {
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	ctx := context.Background()
	if task.RequestID != "" {
		ctx = middleware.WithRequestID(ctx, task.RequestID)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	count, err := c.indexer.IndexPath(ctx, task.Path)
	if err != nil {
		if errors.Is(err, scanner.ErrEmptyPath) {
			slog.WarnContext(ctx, "dropping index task without path")
			return nil
		}
		slog.ErrorContext(ctx, "index task failed", "path", task.Path, "attempts", m.Attempts, "error", err)
		return err
	}

	slog.InfoContext(ctx, "index task completed", "path", task.Path, "count", count)
	return nil
}
