// Package app wires configuration and backend handles into the HTTP surface
// and the index worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"

	"logrca/features/analysis"
	"logrca/features/ingest"
	logsfeature "logrca/features/logs"
	"logrca/features/mcp"
	"logrca/internal/config"
	"logrca/internal/logs"
	"logrca/internal/metrics"
	"logrca/internal/middleware"
	"logrca/internal/rca"
	"logrca/internal/report"
	"logrca/internal/scanner"
	"logrca/internal/vector"
	"logrca/internal/worker"
)

type App struct {
	Handler       http.Handler
	Analysis      *rca.Service
	Ingest        *ingest.Service
	Index         *vector.Index
	IndexConsumer *worker.IndexConsumer

	cfg       *config.Config
	logCloser io.Closer
}

// New builds the application from already opened dependencies. deps stays
// owned by the caller.
func New(cfg *config.Config, deps *Dependencies) (*App, error) {
	sc, err := scanner.New(scanner.Config{
		Pattern:       cfg.LogRegex,
		ContextWindow: cfg.ContextWindow,
		Extensions:    cfg.FileExts,
		ExcludeDirs:   cfg.ExcludeDirs,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: LOG_REGEX: %w", config.ErrInvalid, err)
	}

	index := vector.NewIndex(deps.Collection, deps.Embedder,
		vector.WithResetCounter(metrics.IndexResets),
		vector.WithSkippedCounter(metrics.SkippedSnippets),
	)

	generator := report.New(deps.Chat, report.Options{
		Model:          cfg.LLMModel,
		Temperature:    cfg.LLMTemperature,
		Required:       cfg.RequireLLM,
		PromptContexts: cfg.RCAPromptContexts,
		SampleContexts: cfg.RCASampleContexts,
		TimelineLimit:  cfg.RCATimelineLimit,
		Reports:        metrics.Reports,
	})

	analysisLogger, logCloser, err := rca.NewFileAnalysisLogger(cfg.AnalysisLogPath)
	if err != nil {
		slog.Warn("failed to create analysis logger, falling back to stdout", "error", err)
		analysisLogger = rca.NewAnalysisLogger(os.Stdout)
	}

	fetcher := logs.New(cfg, deps.DB, deps.Influx)
	rcaService := rca.NewService(fetcher, index, generator,
		rca.WithTopK(cfg.RCATopK),
		rca.WithPerQuery(cfg.RCAPerQuery),
		rca.WithAnalysisLogger(analysisLogger),
		rca.WithDurationObserver(metrics.AnalysisDuration),
	)

	ingestOpts := []ingest.Option{ingest.WithIndexedCounter(metrics.IndexedSnippets)}
	if deps.NSQProducer != nil {
		ingestOpts = append(ingestOpts, ingest.WithPublisher(deps.NSQProducer))
	}
	ingestService := ingest.NewService(sc, index, cfg.CodePath, ingestOpts...)

	analysisHandler := analysis.NewHandler(rcaService, index)
	logsHandler := logsfeature.NewHandler(rcaService)
	ingestHandler := ingest.NewHandler(ingestService)
	mcpHandler := mcp.NewHandler(rcaService, ingestService)

	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()

	mux.Handle("GET /api/logs", middleware.RequestID(enableCORS(logsHandler.List)))
	mux.Handle("POST /analyze", middleware.RequestID(enableCORS(analysisHandler.Analyze)))
	mux.Handle("GET /index/stats", middleware.RequestID(enableCORS(analysisHandler.Stats)))
	mux.Handle("POST /ingest/path", middleware.RequestID(enableCORS(ingestHandler.IndexPath)))
	mux.Handle("POST /ingest/path/async", middleware.RequestID(enableCORS(ingestHandler.IndexPathAsync)))

	mux.Handle("/mcp", middleware.RequestID(mcpHandler))
	mux.Handle("GET /mcp/sse", middleware.RequestID(enableCORS(mcpHandler.HandleSSE)))
	mux.Handle("POST /mcp/messages", middleware.RequestID(enableCORS(mcpHandler.HandleMessage)))

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})

	return &App{
		Handler:       mux,
		Analysis:      rcaService,
		Ingest:        ingestService,
		Index:         index,
		IndexConsumer: worker.NewIndexConsumer(ingestService, 0),
		cfg:           cfg,
		logCloser:     logCloser,
	}, nil
}

// Run serves HTTP until ctx is cancelled. The index worker runs alongside
// when ENABLE_INDEX_WORKER is set.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.EnableIndexWorker {
		consumer, err := a.startIndexWorker()
		if err != nil {
			slog.Error("failed to start index worker", "error", err)
		} else {
			defer consumer.Stop()
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) startIndexWorker() (*nsq.Consumer, error) {
	consumer, err := nsq.NewConsumer(config.TopicIndexPath, config.ChannelIndexWorker, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.AddHandler(a.IndexConsumer)

	if a.cfg.NSQLookupd != "" {
		err = consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd)
	} else {
		err = consumer.ConnectToNSQD(a.cfg.NSQDHost)
	}
	if err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("nsq connect error: %w", err)
	}
	slog.Info("index worker connected", "topic", config.TopicIndexPath, "channel", config.ChannelIndexWorker)
	return consumer, nil
}

// Close releases what New opened. Bootstrap dependencies are closed by their owner.
func (a *App) Close() error {
	if a.logCloser != nil {
		return a.logCloser.Close()
	}
	return nil
}
