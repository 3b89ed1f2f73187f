// Package rca binds the logs of one request to the source contexts that
// produced them and asks the report generator for an analysis.
package rca

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"logrca/internal/fault"
	"logrca/internal/logs"
	"logrca/internal/middleware"
	"logrca/internal/vector"
)

type Retriever interface {
	Query(ctx context.Context, texts []string, topK int) ([][]vector.Hit, error)
}

type Generator interface {
	Generate(ctx context.Context, events []logs.Event, contexts []string) string
}

type Report struct {
	CorrelationID string       `json:"correlation_id"`
	LogCount      int          `json:"log_count"`
	Logs          []logs.Event `json:"logs"`
	ContextCount  int          `json:"context_count"`
	RCA           string       `json:"rca"`
}

type Service struct {
	fetcher   logs.Fetcher
	retriever Retriever
	generator Generator
	topK      int
	perQuery  int
	logger    *AnalysisLogger
	duration  prometheus.Observer
}

type Option func(*Service)

func WithTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithPerQuery caps how many hits of each query reach the generator.
func WithPerQuery(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.perQuery = n
		}
	}
}

func WithAnalysisLogger(l *AnalysisLogger) Option {
	return func(s *Service) { s.logger = l }
}

func WithDurationObserver(o prometheus.Observer) Option {
	return func(s *Service) { s.duration = o }
}

func NewService(f logs.Fetcher, r Retriever, g Generator, opts ...Option) *Service {
	s := &Service{fetcher: f, retriever: r, generator: g, topK: 5, perQuery: 2}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchLogs returns the events of one correlation id in timestamp order.
func (s *Service) FetchLogs(ctx context.Context, correlationID string) ([]logs.Event, error) {
	events, err := s.fetcher.Fetch(ctx, correlationID)
	if err != nil {
		if fault.KindOf(err) == fault.KindUnknown {
			err = fault.New(fault.KindIO, "logs.fetch", err)
		}
		return nil, err
	}
	if events == nil {
		events = []logs.Event{}
	}
	return events, nil
}

// Analyze only fails when the log store fails. Retrieval problems degrade
// to an analysis without source context.
func (s *Service) Analyze(ctx context.Context, correlationID string) (*Report, error) {
	start := time.Now()

	// 1. Fetch Logs
	events, err := s.FetchLogs(ctx, correlationID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to fetch logs", "correlation_id", correlationID, "error", err)
		return nil, err
	}

	// 2. Build Queries
	queries := make([]string, 0, len(events))
	for _, e := range events {
		if e.Message != "" {
			queries = append(queries, e.Message)
		}
	}

	// 3. Retrieve Contexts
	contexts := []string{}
	degraded := false
	if len(queries) > 0 && s.retriever != nil {
		groups, err := s.retriever.Query(ctx, queries, s.topK)
		if err != nil {
			degraded = true
			slog.WarnContext(ctx, "context retrieval failed, continuing without contexts",
				"correlation_id", correlationID, "kind", fault.KindOf(err).String(), "error", err)
		}
		for _, group := range groups {
			for i, hit := range group {
				if i >= s.perQuery {
					break
				}
				contexts = append(contexts, hit.Document)
			}
		}
	}

	// 4. Generate Report
	text := s.generator.Generate(ctx, events, contexts)

	elapsed := time.Since(start)
	if s.duration != nil {
		s.duration.Observe(elapsed.Seconds())
	}
	if s.logger != nil {
		s.logger.Log(AnalysisLogEntry{
			CorrelationID: correlationID,
			RequestID:     requestID(ctx),
			LogCount:      len(events),
			QueryCount:    len(queries),
			ContextCount:  len(contexts),
			Degraded:      degraded,
			Duration:      elapsed,
		})
	}

	return &Report{
		CorrelationID: correlationID,
		LogCount:      len(events),
		Logs:          events,
		ContextCount:  len(contexts),
		RCA:           text,
	}, nil
}

func requestID(ctx context.Context) string {
	if id := middleware.GetRequestID(ctx); id != "unknown" {
		return id
	}
	return ""
}
