// Package metrics holds the Prometheus collectors shared by the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EmbeddingFallbacks counts items that fell back to the local model.
	// Labels: backend (remote, hosted), kind (network, parse, auth, config, unknown)
	EmbeddingFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logrca",
		Name:      "embedding_fallbacks_total",
		Help:      "Embedding requests served by the local model after a backend failure",
	}, []string{"backend", "kind"})

	// Reports counts generated reports by the path that produced them.
	// Labels: path (llm, no_logs, not_configured, diagnostic, heuristic)
	Reports = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logrca",
		Name:      "reports_total",
		Help:      "Reports generated, by generation path",
	}, []string{"path"})

	// IndexResets counts collection resets triggered by dimension mismatch.
	// Labels: op (upsert, query)
	IndexResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logrca",
		Subsystem: "index",
		Name:      "resets_total",
		Help:      "Vector collection resets after an embedding dimension mismatch",
	}, []string{"op"})

	// IndexedSnippets counts snippets written to the vector index.
	IndexedSnippets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "logrca",
		Subsystem: "index",
		Name:      "snippets_total",
		Help:      "Snippets upserted into the vector index",
	})

	// SkippedSnippets counts snippets left out of an upsert because their
	// vector length differed from the rest of the batch.
	SkippedSnippets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "logrca",
		Subsystem: "index",
		Name:      "skipped_snippets_total",
		Help:      "Snippets not upserted because of an off-length vector",
	})

	// AnalysisDuration measures end-to-end Analyze latency.
	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "logrca",
		Name:      "analysis_duration_seconds",
		Help:      "Root-cause analysis latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
