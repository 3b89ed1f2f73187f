package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"logrca/internal/fault"
	"logrca/internal/retry"
)

var tracer = otel.Tracer("logrca.adapter.ollama")

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// embedResponse accepts both the native shape and the OpenAI-style list.
type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Data      []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type Embedder struct {
	baseURL string
	model   string
	timeout time.Duration
	retry   retry.Config
	client  *http.Client
}

type Option func(*Embedder)

func WithHTTPClient(c *http.Client) Option {
	return func(e *Embedder) { e.client = c }
}

func WithRetry(rc retry.Config) Option {
	return func(e *Embedder) { e.retry = rc }
}

func NewEmbedder(baseURL, model string, timeout time.Duration, opts ...Option) *Embedder {
	e := &Embedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		timeout: timeout,
		client:  &http.Client{},
		retry:   retry.Config{Attempts: 1},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EmbedText calls POST {base}/api/embeddings for a single prompt.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "Embedder.EmbedText")
	defer span.End()
	span.SetAttributes(attribute.String("embedding.model", e.model), attribute.Int("embedding.length", len(text)))

	vec, err := retry.Network(ctx, e.retry, func() ([]float32, error) {
		return e.embedOnce(ctx, text)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("embedding.dim", len(vec)))
	return vec, nil
}

func (e *Embedder) embedOnce(ctx context.Context, text string) ([]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	body, err := json.Marshal(embedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fault.New(fault.KindParse, "ollama.embed", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fault.New(fault.KindConfig, "ollama.embed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fault.Transport("ollama.embed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Transport("ollama.embed", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.WarnContext(ctx, "ollama embeddings returned an error", "status_code", resp.StatusCode, "model", e.model)
		return nil, fault.Status("ollama.embed", resp.StatusCode,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(raw), 200)))
	}

	var out embedResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fault.New(fault.KindParse, "ollama.embed", err)
	}
	if len(out.Embedding) > 0 {
		return out.Embedding, nil
	}
	if len(out.Data) > 0 && len(out.Data[0].Embedding) > 0 {
		return out.Data[0].Embedding, nil
	}
	return nil, fault.New(fault.KindParse, "ollama.embed", errors.New("response has no embedding"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
