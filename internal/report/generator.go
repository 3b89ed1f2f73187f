// Package report turns logs and retrieved contexts into a Markdown incident
// report with eight fixed sections.
package report

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"logrca/internal/fault"
	"logrca/internal/llm"
	"logrca/internal/logs"
)

type Options struct {
	Model       string
	Temperature float32
	// Required makes LLM problems visible in the report instead of falling
	// back to the heuristic summary.
	Required       bool
	PromptContexts int
	SampleContexts int
	TimelineLimit  int
	Reports        *prometheus.CounterVec
}

func DefaultOptions() Options {
	return Options{
		Model:          "gpt-4o-mini",
		Temperature:    0.2,
		Required:       true,
		PromptContexts: 10,
		SampleContexts: 5,
		TimelineLimit:  10,
	}
}

// Path names how a report was produced.
type Path string

const (
	PathLLM           Path = "llm"
	PathNoLogs        Path = "no_logs"
	PathNotConfigured Path = "not_configured"
	PathDiagnostic    Path = "diagnostic"
	PathHeuristic     Path = "heuristic"
)

type Generator struct {
	chat llm.ChatClient
	opts Options
}

// New builds a generator. A nil chat client means no LLM is configured.
func New(chat llm.ChatClient, opts Options) *Generator {
	return &Generator{chat: chat, opts: opts}
}

func (g *Generator) Generate(ctx context.Context, events []logs.Event, contexts []string) string {
	text, path := g.generate(ctx, events, contexts)
	if g.opts.Reports != nil {
		g.opts.Reports.WithLabelValues(string(path)).Inc()
	}
	slog.InfoContext(ctx, "report generated", "path", string(path), "logs", len(events), "contexts", len(contexts))
	return text
}

func (g *Generator) generate(ctx context.Context, events []logs.Event, contexts []string) (string, Path) {
	if len(events) == 0 {
		return noLogsReport(), PathNoLogs
	}
	if g.chat == nil {
		if g.opts.Required {
			return notConfiguredReport(), PathNotConfigured
		}
		return heuristicReport(events, contexts, g.opts), PathHeuristic
	}

	out, err := g.chat.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Prompt:      buildPrompt(events, contexts, g.opts.PromptContexts),
		Model:       g.opts.Model,
		Temperature: g.opts.Temperature,
	})
	if err == nil {
		return out, PathLLM
	}

	if errors.Is(err, context.Canceled) {
		slog.WarnContext(ctx, "llm request cancelled", "error", err)
	} else {
		slog.ErrorContext(ctx, "llm generation failed", "kind", fault.KindOf(err).String(), "error", err)
	}
	if g.opts.Required {
		return diagnosticReport(err), PathDiagnostic
	}
	return heuristicReport(events, contexts, g.opts), PathHeuristic
}
