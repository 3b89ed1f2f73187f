package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"logrca/internal/fault"
	"logrca/internal/llm"
	"logrca/internal/retry"
)

type Config struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	Timeout        time.Duration
	Retry          retry.Config
	HTTPClient     *http.Client
}

// Client talks to any OpenAI-compatible endpoint for chat completions and
// embeddings.
type Client struct {
	client         *goopenai.Client
	embeddingModel string
	timeout        time.Duration
	retry          retry.Config
}

func NewClient(cfg Config) *Client {
	oc := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	slog.Info("initializing openai client", "base_url", oc.BaseURL)
	return &Client{
		client:         goopenai.NewClientWithConfig(oc),
		embeddingModel: cfg.EmbeddingModel,
		timeout:        cfg.Timeout,
		retry:          cfg.Retry,
	}
}

var _ llm.ChatClient = (*Client)(nil)

func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	return retry.Network(ctx, c.retry, func() (string, error) {
		return c.completeOnce(ctx, req)
	})
}

func (c *Client) completeOnce(ctx context.Context, req llm.Request) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: req.System},
			{Role: goopenai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: req.Temperature,
	})
	if err != nil {
		slog.ErrorContext(ctx, "openai chat completion failed", "model", req.Model, "error", err)
		return "", classify("openai.chat", err)
	}
	if len(resp.Choices) == 0 {
		return "", fault.New(fault.KindParse, "openai.chat", errors.New("no choices returned"))
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", fault.New(fault.KindParse, "openai.chat", errors.New("empty content"))
	}
	slog.DebugContext(ctx, "received chat completion", "model", req.Model, "finish_reason", resp.Choices[0].FinishReason)
	return content, nil
}

// EmbedBatch embeds texts in one request and returns vectors in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return retry.Network(ctx, c.retry, func() ([][]float32, error) {
		return c.embedOnce(ctx, texts)
	})
}

func (c *Client) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: texts,
		Model: goopenai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, classify("openai.embed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fault.New(fault.KindParse, "openai.embed",
			fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts)))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// classify maps go-openai errors onto fault kinds: rejected credentials are
// auth failures, anything else the endpoint or transport reports is network.
func classify(op string, err error) error {
	status := 0
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fault.New(fault.KindAuth, op, err)
	}
	return fault.Transport(op, err)
}
