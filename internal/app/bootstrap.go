package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"logrca/internal/adapter/badger"
	"logrca/internal/adapter/gemini"
	"logrca/internal/adapter/ollama"
	"logrca/internal/adapter/openai"
	wstore "logrca/internal/adapter/weaviate"
	"logrca/internal/config"
	"logrca/internal/embedding"
	"logrca/internal/llm"
	"logrca/internal/metrics"
	"logrca/internal/retry"
	"logrca/internal/vector"
)

// Dependencies holds every external handle the application owns. Handles of
// backends that are not configured stay nil.
type Dependencies struct {
	DB          *sql.DB
	Influx      api.QueryAPI
	Collection  vector.Collection
	Embedder    *embedding.Provider
	Chat        llm.ChatClient
	NSQProducer *nsq.Producer

	closers []func() error
}

// Close releases handles in reverse order of acquisition.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func (d *Dependencies) onClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	deps := &Dependencies{}
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	fail := func(err error) (*Dependencies, error) {
		if closeErr := deps.Close(); closeErr != nil {
			slog.Warn("failed to release partial dependencies", "error", closeErr)
		}
		return nil, err
	}

	// Log store
	if !cfg.UseDummyLogs && cfg.LogStoreConfigured() {
		switch cfg.LogStore {
		case "postgres":
			db, err := openPostgres(ctx, cfg, retryDelay)
			if err != nil {
				return fail(err)
			}
			deps.DB = db
			deps.onClose(db.Close)
		case "influx":
			client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
			deps.Influx = client.QueryAPI(cfg.InfluxOrg)
			deps.onClose(func() error { client.Close(); return nil })
		}
	} else {
		slog.Info("serving dummy logs", "use_dummy_logs", cfg.UseDummyLogs, "log_store", cfg.LogStore)
	}

	// Vector collection
	col, err := openCollection(ctx, cfg, retryDelay)
	if err != nil {
		return fail(err)
	}
	deps.Collection = col
	deps.onClose(col.Close)

	// Embeddings
	emb, closeEmb, err := newEmbedder(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	deps.Embedder = emb
	if closeEmb != nil {
		deps.onClose(closeEmb.Close)
	}

	// Chat
	if cfg.OpenAIAPIKey != "" {
		deps.Chat = openai.NewClient(openai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Timeout: cfg.LLMTimeout,
			Retry:   retry.Config{Attempts: cfg.LLMRetryAttempts},
		})
	} else {
		slog.Warn("OPENAI_API_KEY not set, reports use the deterministic fallback", "require_llm", cfg.RequireLLM)
	}

	// NSQ Producer
	if cfg.NSQDHost != "" {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			return fail(fmt.Errorf("nsq producer error: %w", err))
		}
		deps.NSQProducer = producer
		deps.onClose(func() error { producer.Stop(); return nil })
	}

	return deps, nil
}

func openPostgres(ctx context.Context, cfg *config.Config, retryDelay time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := PingWithRetry(ctx, db, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if cfg.DBMigrate {
		if err := runMigrations(db, cfg.MigrationPath); err != nil {
			_ = db.Close()
			return nil, err
		}
		slog.Info("migrations applied successfully")
	}
	return db, nil
}

func runMigrations(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	return nil
}

func openCollection(ctx context.Context, cfg *config.Config, retryDelay time.Duration) (vector.Collection, error) {
	if cfg.VectorBackend == "weaviate" {
		wClient, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		col := wstore.NewCollection(wClient, cfg.VectorCollection)
		if err := EnsureSchemaWithRetry(ctx, col, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
			return nil, fmt.Errorf("weaviate schema error: %w", err)
		}
		slog.Info("weaviate schema ensured", "class", col.ClassName())
		return col, nil
	}

	col, err := badger.OpenCollection(cfg.VectorDir, cfg.VectorCollection, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("local vector store error: %w", err)
	}
	slog.Info("local vector store opened", "dir", cfg.VectorDir, "collection", cfg.VectorCollection)
	return col, nil
}

// newEmbedder wires the provider strategy from configuration. The returned
// closer is non-nil when a hosted client holds resources.
func newEmbedder(ctx context.Context, cfg *config.Config) (*embedding.Provider, io.Closer, error) {
	local := embedding.NewLocal(cfg.LocalEmbeddingDim)
	opts := []embedding.Option{embedding.WithMetrics(metrics.EmbeddingFallbacks)}
	var closer io.Closer

	switch {
	case cfg.UseOllamaEmbeddings:
		opts = append(opts, embedding.WithRemote(ollama.NewEmbedder(
			cfg.OllamaBaseURL, cfg.OllamaEmbeddingModel, cfg.EmbedTimeout,
			ollama.WithRetry(retry.Config{Attempts: cfg.EmbedRetryAttempts}),
		)))
	case cfg.HostedEmbeddingsConfigured() && cfg.HostedEmbeddingProvider == "gemini":
		g, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.GeminiEmbeddingModel)
		if err != nil {
			return nil, nil, fmt.Errorf("gemini embedder error: %w", err)
		}
		opts = append(opts, embedding.WithHosted(g))
		closer = g
	case cfg.HostedEmbeddingsConfigured():
		opts = append(opts, embedding.WithHosted(openai.NewClient(openai.Config{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			EmbeddingModel: cfg.OpenAIEmbeddingModel,
			Timeout:        cfg.EmbedTimeout,
			Retry:          retry.Config{Attempts: cfg.EmbedRetryAttempts},
		})))
	}

	p := embedding.New(local, opts...)
	slog.Info("embedding provider configured", "strategy", p.Strategy().String(), "local_dim", local.Dim())
	return p, closer, nil
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingWithRetry pings up to attempts times, sleeping delay between tries.
func PingWithRetry(ctx context.Context, db Pinger, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1, "max_attempts", attempts)
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}

type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// EnsureSchemaWithRetry delegates schema check to a helper with retry logic.
func EnsureSchemaWithRetry(ctx context.Context, store SchemaEnsurer, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.EnsureSchema(ctx); err == nil {
			return nil
		}
		slog.Warn("failed to ensure weaviate schema, retrying...", "attempt", i+1, "error", err)
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}
