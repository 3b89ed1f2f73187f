// Package ingest indexes log-call contexts from a source tree.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"logrca/internal/config"
	"logrca/internal/scanner"
	"logrca/internal/vector"
)

type Scanner interface {
	Scan(ctx context.Context, root string) ([]scanner.Snippet, scanner.Stats, error)
}

type Indexer interface {
	Upsert(ctx context.Context, entries []vector.Entry) (int, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Task is the payload published on config.TopicIndexPath.
type Task struct {
	Path      string `json:"path"`
	RequestID string `json:"request_id,omitempty"`
}

type Service struct {
	scanner     Scanner
	index       Indexer
	pub         EventPublisher
	defaultPath string
	indexed     prometheus.Counter
}

type Option func(*Service)

func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.pub = p }
}

func WithIndexedCounter(c prometheus.Counter) Option {
	return func(s *Service) { s.indexed = c }
}

// NewService builds the indexing service. defaultPath is used when a caller
// passes an empty path.
func NewService(sc Scanner, idx Indexer, defaultPath string, opts ...Option) *Service {
	s := &Service{scanner: sc, index: idx, defaultPath: defaultPath}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ErrNoPublisher is returned by Enqueue when no task queue is configured.
var ErrNoPublisher = errors.New("index task queue not configured")

// IndexPath scans path and upserts every snippet found, returning how many
// were written. A missing path or a tree without log calls indexes nothing
// and is not an error.
func (s *Service) IndexPath(ctx context.Context, path string) (int, error) {
	path = s.resolve(path)
	if path == "" {
		return 0, scanner.ErrEmptyPath
	}

	snippets, stats, err := s.scanner.Scan(ctx, path)
	if err != nil {
		if errors.Is(err, scanner.ErrRootNotFound) {
			slog.WarnContext(ctx, "index path does not exist", "path", path)
			return 0, nil
		}
		return 0, err
	}
	if len(snippets) == 0 {
		slog.InfoContext(ctx, "no log contexts found", "path", path, "files", stats.Files)
		return 0, nil
	}

	entries := make([]vector.Entry, 0, len(snippets))
	for _, sn := range snippets {
		entries = append(entries, vector.Entry{ID: sn.ID, Text: sn.Text, Metadata: sn.Metadata()})
	}

	n, err := s.index.Upsert(ctx, entries)
	if err != nil {
		slog.ErrorContext(ctx, "failed to index snippets", "path", path, "count", len(entries), "error", err)
		return 0, err
	}

	if s.indexed != nil {
		s.indexed.Add(float64(n))
	}
	slog.InfoContext(ctx, "indexed log contexts", "path", path, "files", stats.Files, "matches", stats.Matches,
		"count", n, "skipped", len(entries)-n)
	return n, nil
}

// Enqueue publishes an asynchronous index task and returns the resolved path.
func (s *Service) Enqueue(ctx context.Context, path, requestID string) (string, error) {
	if s.pub == nil {
		return "", ErrNoPublisher
	}
	path = s.resolve(path)
	if path == "" {
		return "", scanner.ErrEmptyPath
	}

	body, err := json.Marshal(Task{Path: path, RequestID: requestID})
	if err != nil {
		return "", err
	}
	if err := s.pub.Publish(config.TopicIndexPath, body); err != nil {
		return "", fmt.Errorf("publish index task: %w", err)
	}
	slog.InfoContext(ctx, "index task queued", "path", path, "topic", config.TopicIndexPath)
	return path, nil
}

func (s *Service) resolve(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(s.defaultPath)
	}
	return path
}
