// Package embedding turns texts into vectors with one configured backend and
// a local model that serves every item the backend cannot.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"logrca/internal/fault"
)

// TextEmbedder embeds one text per call, like the Ollama embeddings API.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder embeds a batch of texts in one call and returns vectors in
// input order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Strategy int

const (
	StrategyLocal Strategy = iota
	StrategyRemote
	StrategyHosted
)

func (s Strategy) String() string {
	switch s {
	case StrategyRemote:
		return "remote"
	case StrategyHosted:
		return "hosted"
	default:
		return "local"
	}
}

type Provider struct {
	strategy  Strategy
	remote    TextEmbedder
	hosted    BatchEmbedder
	local     BatchEmbedder
	fallbacks *prometheus.CounterVec
}

type Option func(*Provider)

func WithRemote(e TextEmbedder) Option {
	return func(p *Provider) { p.remote = e }
}

func WithHosted(e BatchEmbedder) Option {
	return func(p *Provider) { p.hosted = e }
}

// WithMetrics counts fallbacks on a vector labelled by backend and kind.
func WithMetrics(c *prometheus.CounterVec) Option {
	return func(p *Provider) { p.fallbacks = c }
}

// New builds a provider. The remote backend wins over the hosted one; with
// neither, every text goes to local.
func New(local BatchEmbedder, opts ...Option) *Provider {
	p := &Provider{local: local}
	for _, opt := range opts {
		opt(p)
	}
	switch {
	case p.remote != nil:
		p.strategy = StrategyRemote
	case p.hosted != nil:
		p.strategy = StrategyHosted
	default:
		p.strategy = StrategyLocal
	}
	return p
}

func (p *Provider) Strategy() Strategy {
	return p.strategy
}

// Embed returns one vector per text in input order. Backend failures never
// surface; only a cancelled context or a failing local model is returned.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	switch p.strategy {
	case StrategyRemote:
		return p.embedRemote(ctx, texts)
	case StrategyHosted:
		return p.embedHosted(ctx, texts)
	default:
		return p.embedLocal(ctx, texts)
	}
}

func (p *Provider) embedRemote(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.remote.EmbedText(ctx, text)
		if err == nil && len(vec) > 0 {
			out[i] = vec
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err == nil {
			err = fault.New(fault.KindParse, "embedding.remote", errors.New("empty embedding"))
		}
		p.recordFallback(ctx, StrategyRemote, err)

		local, err := p.embedLocal(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		out[i] = local[0]
	}
	return out, nil
}

func (p *Provider) embedHosted(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.hosted.EmbedBatch(ctx, texts)
	if err == nil && len(vecs) != len(texts) {
		err = fault.New(fault.KindParse, "embedding.hosted",
			fmt.Errorf("got %d vectors for %d texts", len(vecs), len(texts)))
	}
	if err == nil {
		return vecs, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	p.recordFallback(ctx, StrategyHosted, err)
	return p.embedLocal(ctx, texts)
}

func (p *Provider) embedLocal(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vecs, err := p.local.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("local embedding failed: %w", err)
	}
	return vecs, nil
}

func (p *Provider) recordFallback(ctx context.Context, backend Strategy, err error) {
	kind := fault.KindOf(err)
	slog.WarnContext(ctx, "embedding backend failed, using local model",
		"backend", backend.String(), "kind", kind.String(), "error", err)
	if p.fallbacks != nil {
		p.fallbacks.WithLabelValues(backend.String(), kind.String()).Inc()
	}
}
