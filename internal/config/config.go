package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

type Config struct {
	ServerPort int    `envconfig:"SERVER_PORT" default:"5001"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`

	// Log store
	UseDummyLogs     bool   `envconfig:"USE_DUMMY_LOGS" default:"true"`
	LogStore         string `envconfig:"LOG_STORE" default:"postgres"`
	DBURL            string `envconfig:"DB_URL"`
	DBMigrate        bool   `envconfig:"DB_MIGRATE" default:"false"`
	MigrationPath    string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	LogTable         string `envconfig:"LOG_TABLE" default:"logs"`
	ColTimestamp     string `envconfig:"COL_TIMESTAMP" default:"timestamp"`
	ColLevel         string `envconfig:"COL_LEVEL" default:"level"`
	ColLogger        string `envconfig:"COL_LOGGER" default:"logger"`
	ColMessage       string `envconfig:"COL_MESSAGE" default:"message"`
	ColCorrelationID string `envconfig:"COL_CORRELATION_ID" default:"correlation_id"`

	InfluxURL         string `envconfig:"INFLUX_URL"`
	InfluxToken       string `envconfig:"INFLUX_TOKEN"`
	InfluxOrg         string `envconfig:"INFLUX_ORG"`
	InfluxBucket      string `envconfig:"INFLUX_BUCKET" default:"logs"`
	InfluxMeasurement string `envconfig:"INFLUX_MEASUREMENT" default:"app_logs"`

	// Code scanning
	CodePath      string   `envconfig:"CODE_PATH" default:"./spring-app/"`
	LogRegex      string   `envconfig:"LOG_REGEX" default:"\\.(info|error|warn|debug|trace)\\s*\\((?s:.*?)\\)"`
	ContextWindow int      `envconfig:"CONTEXT_WINDOW" default:"20"`
	FileExts      []string `envconfig:"FILE_EXTS" default:".java,.kt"`
	ExcludeDirs   []string `envconfig:"EXCLUDE_DIRS" default:".git,node_modules,build,target,out,dist"`

	// Vector index
	VectorBackend    string `envconfig:"VECTOR_BACKEND" default:"local"`
	VectorDir        string `envconfig:"VECTOR_DIR" default:"./data/vectors"`
	VectorCollection string `envconfig:"VECTOR_COLLECTION" default:"log_context"`
	WeaviateHost     string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme   string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	// Embeddings
	UseOllamaEmbeddings     bool          `envconfig:"USE_OLLAMA_EMBEDDINGS" default:"true"`
	OllamaBaseURL           string        `envconfig:"OLLAMA_BASE_URL" default:"http://localhost:11434"`
	OllamaEmbeddingModel    string        `envconfig:"OLLAMA_EMBEDDING_MODEL" default:"nomic-embed-text"`
	UseHostedEmbeddings     bool          `envconfig:"USE_HOSTED_EMBEDDINGS" default:"false"`
	HostedEmbeddingProvider string        `envconfig:"HOSTED_EMBEDDING_PROVIDER" default:"openai"`
	OpenAIAPIKey            string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL           string        `envconfig:"OPENAI_BASE_URL"`
	OpenAIEmbeddingModel    string        `envconfig:"OPENAI_EMBEDDING_MODEL" default:"text-embedding-3-small"`
	GeminiAPIKey            string        `envconfig:"GEMINI_API_KEY"`
	GeminiEmbeddingModel    string        `envconfig:"GEMINI_EMBEDDING_MODEL" default:"gemini-embedding-001"`
	LocalEmbeddingDim       int           `envconfig:"LOCAL_EMBEDDING_DIM" default:"384"`
	EmbedTimeout            time.Duration `envconfig:"EMBED_TIMEOUT" default:"60s"`
	EmbedRetryAttempts      uint          `envconfig:"EMBED_RETRY_ATTEMPTS" default:"1"`

	// LLM
	LLMModel         string        `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	RequireLLM       bool          `envconfig:"REQUIRE_LLM" default:"true"`
	LLMTemperature   float32       `envconfig:"LLM_TEMPERATURE" default:"0.2"`
	LLMTimeout       time.Duration `envconfig:"LLM_TIMEOUT" default:"120s"`
	LLMRetryAttempts uint          `envconfig:"LLM_RETRY_ATTEMPTS" default:"1"`

	// Analysis
	RCATopK           int    `envconfig:"RCA_TOP_K" default:"5"`
	RCAPerQuery       int    `envconfig:"RCA_PER_QUERY" default:"2"`
	RCAPromptContexts int    `envconfig:"RCA_PROMPT_CONTEXTS" default:"10"`
	RCASampleContexts int    `envconfig:"RCA_SAMPLE_CONTEXTS" default:"5"`
	RCATimelineLimit  int    `envconfig:"RCA_TIMELINE_LIMIT" default:"10"`
	AnalysisLogPath   string `envconfig:"ANALYSIS_LOG_PATH" default:"data/logs/analysis.log"`

	// Worker
	EnableIndexWorker bool   `envconfig:"ENABLE_INDEX_WORKER" default:"false"`
	NSQDHost          string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQLookupd        string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.VectorCollection == "" {
		return fmt.Errorf("%w: VECTOR_COLLECTION", ErrMissingRequired)
	}
	switch c.VectorBackend {
	case "local":
		if c.VectorDir == "" {
			return fmt.Errorf("%w: VECTOR_DIR", ErrMissingRequired)
		}
	case "weaviate":
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND=%q", ErrInvalid, c.VectorBackend)
	}
	switch c.LogStore {
	case "postgres", "influx":
	default:
		return fmt.Errorf("%w: LOG_STORE=%q", ErrInvalid, c.LogStore)
	}
	switch c.HostedEmbeddingProvider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("%w: HOSTED_EMBEDDING_PROVIDER=%q", ErrInvalid, c.HostedEmbeddingProvider)
	}
	if c.ContextWindow < 0 {
		return fmt.Errorf("%w: CONTEXT_WINDOW must not be negative", ErrInvalid)
	}
	if c.RCATopK <= 0 || c.RCAPerQuery <= 0 {
		return fmt.Errorf("%w: RCA_TOP_K and RCA_PER_QUERY must be positive", ErrInvalid)
	}
	if c.LocalEmbeddingDim <= 0 {
		return fmt.Errorf("%w: LOCAL_EMBEDDING_DIM must be positive", ErrInvalid)
	}
	return nil
}

// LogStoreConfigured reports whether a real log store has enough settings to
// be queried. When it is false the dummy trace is served.
func (c *Config) LogStoreConfigured() bool {
	switch c.LogStore {
	case "postgres":
		return c.DBURL != ""
	case "influx":
		return c.InfluxURL != "" && c.InfluxToken != "" && c.InfluxOrg != ""
	}
	return false
}

// HostedEmbeddingsConfigured reports whether the hosted embedding API is
// enabled and has a credential for its provider.
func (c *Config) HostedEmbeddingsConfigured() bool {
	if !c.UseHostedEmbeddings {
		return false
	}
	if c.HostedEmbeddingProvider == "gemini" {
		return c.GeminiAPIKey != ""
	}
	return c.OpenAIAPIKey != ""
}
