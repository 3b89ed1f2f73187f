package vector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"logrca/internal/fault"
)

// Entry is a text to be embedded and stored under ID.
type Entry struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// Record is what a Collection persists.
type Record struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"vector"`
	Document string            `json:"document"`
	Metadata map[string]string `json:"metadata"`
}

type Hit struct {
	ID       string
	Document string
	Metadata map[string]string
	Distance float32
}

// Collection is the persistence port of the index. Implementations report a
// vector of the wrong length as a fault.KindDimension error.
type Collection interface {
	Name() string
	Upsert(ctx context.Context, records []Record) error
	Query(ctx context.Context, vectors [][]float32, topK int) ([][]Hit, error)
	Reset(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// Dimensioner is implemented by collections that can report the vector
// length they hold. 0 means the collection is empty.
type Dimensioner interface {
	Dim(ctx context.Context) (int, error)
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Stats struct {
	Collection string `json:"collection"`
	Count      int    `json:"count"`
}

// Index embeds texts and keeps a collection consistent with the current
// embedding dimension. A mismatch wipes the collection: writes are retried
// once, reads return nothing. Vectors whose length differs from the rest of
// their batch are left out instead.
type Index struct {
	col     Collection
	emb     Embedder
	resets  *prometheus.CounterVec
	skipped prometheus.Counter

	// rebuild guards the collection against a reset running under a reader.
	rebuild sync.RWMutex
}

type Option func(*Index)

// WithResetCounter counts resets on a vector labelled by op.
func WithResetCounter(c *prometheus.CounterVec) Option {
	return func(i *Index) { i.resets = c }
}

// WithSkippedCounter counts entries left out of an upsert for having an
// off-length vector.
func WithSkippedCounter(c prometheus.Counter) Option {
	return func(i *Index) { i.skipped = c }
}

func NewIndex(col Collection, emb Embedder, opts ...Option) *Index {
	idx := &Index{col: col, emb: emb}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Upsert embeds and stores entries, returning how many were written.
func (i *Index) Upsert(ctx context.Context, entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	texts := make([]string, len(entries))
	for n, e := range entries {
		texts[n] = e.Text
	}
	vecs, err := i.emb.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed entries: %w", err)
	}
	if len(vecs) != len(entries) {
		return 0, fmt.Errorf("embed entries: got %d vectors for %d texts", len(vecs), len(entries))
	}

	i.rebuild.Lock()
	defer i.rebuild.Unlock()

	dim := i.batchDim(ctx, vecs)
	records := make([]Record, 0, len(entries))
	for n, e := range entries {
		if len(vecs[n]) != dim {
			continue
		}
		records = append(records, Record{ID: e.ID, Vector: vecs[n], Document: e.Text, Metadata: e.Metadata})
	}
	if skipped := len(entries) - len(records); skipped > 0 {
		slog.WarnContext(ctx, "skipping entries with off-length vectors",
			"collection", i.col.Name(), "dim", dim, "skipped", skipped)
		if i.skipped != nil {
			i.skipped.Add(float64(skipped))
		}
	}

	err = i.col.Upsert(ctx, records)
	if err == nil {
		return len(records), nil
	}
	if !fault.Is(err, fault.KindDimension) {
		return 0, fmt.Errorf("upsert into %s: %w", i.col.Name(), err)
	}

	slog.WarnContext(ctx, "embedding dimension changed, resetting collection",
		"collection", i.col.Name(), "dim", dim, "error", err)
	if err := i.reset(ctx, "upsert"); err != nil {
		return 0, fmt.Errorf("%w: reset %s: %w", fault.ErrIndexFatal, i.col.Name(), err)
	}
	if err := i.col.Upsert(ctx, records); err != nil {
		return 0, fmt.Errorf("%w: upsert into %s after reset: %w", fault.ErrIndexFatal, i.col.Name(), err)
	}
	return len(records), nil
}

// Query returns, for each text, up to topK hits ordered by ascending
// distance. Texts whose vector length differs from the rest of the batch get
// an empty group.
func (i *Index) Query(ctx context.Context, texts []string, topK int) ([][]Hit, error) {
	if len(texts) == 0 {
		return [][]Hit{}, nil
	}
	if topK <= 0 {
		return emptyGroups(len(texts)), nil
	}

	vecs, err := i.emb.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed queries: %w", err)
	}

	i.rebuild.RLock()
	dim := i.batchDim(ctx, vecs)
	var (
		pos []int
		sub [][]float32
	)
	for n, v := range vecs {
		if n < len(texts) && len(v) == dim {
			pos = append(pos, n)
			sub = append(sub, v)
		}
	}
	groups, err := i.col.Query(ctx, sub, topK)
	i.rebuild.RUnlock()

	if skipped := len(texts) - len(pos); skipped > 0 {
		slog.WarnContext(ctx, "skipping queries with off-length vectors",
			"collection", i.col.Name(), "dim", dim, "skipped", skipped)
	}

	if err != nil {
		if !fault.Is(err, fault.KindDimension) {
			return nil, fmt.Errorf("query %s: %w", i.col.Name(), err)
		}
		groups, err = i.queryOrReset(ctx, sub, topK)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", i.col.Name(), err)
		}
	}

	out := emptyGroups(len(texts))
	for k, n := range pos {
		if k >= len(groups) {
			break
		}
		hits := groups[k]
		if len(hits) == 0 {
			continue
		}
		sort.SliceStable(hits, func(a, b int) bool { return hits[a].Distance < hits[b].Distance })
		if len(hits) > topK {
			hits = hits[:topK]
		}
		out[n] = hits
	}
	return out, nil
}

// queryOrReset repeats a query that hit a dimension mismatch under the write
// lock, since a writer may have rebuilt the collection in between, and resets
// only if the mismatch persists. A reset yields nil groups.
func (i *Index) queryOrReset(ctx context.Context, vecs [][]float32, topK int) ([][]Hit, error) {
	i.rebuild.Lock()
	defer i.rebuild.Unlock()

	groups, err := i.col.Query(ctx, vecs, topK)
	if err == nil || !fault.Is(err, fault.KindDimension) {
		return groups, err
	}

	slog.WarnContext(ctx, "query dimension does not match collection, resetting",
		"collection", i.col.Name(), "error", err)
	if err := i.reset(ctx, "query"); err != nil {
		slog.ErrorContext(ctx, "collection reset failed", "collection", i.col.Name(), "error", err)
	}
	return nil, nil
}

// batchDim picks the vector length a batch is filtered to: the collection's
// own when any vector has it, otherwise the most common length, earliest
// first on ties. Callers hold the rebuild lock.
func (i *Index) batchDim(ctx context.Context, vecs [][]float32) int {
	counts := make(map[int]int, 2)
	for _, v := range vecs {
		counts[len(v)]++
	}

	if d, ok := i.col.(Dimensioner); ok && len(counts) > 1 {
		have, err := d.Dim(ctx)
		if err != nil {
			slog.WarnContext(ctx, "failed to read collection dimension", "collection", i.col.Name(), "error", err)
		} else if counts[have] > 0 {
			return have
		}
	}

	dim, best := 0, 0
	for _, v := range vecs {
		if c := counts[len(v)]; c > best {
			dim, best = len(v), c
		}
	}
	return dim
}

func (i *Index) Stats(ctx context.Context) (Stats, error) {
	i.rebuild.RLock()
	defer i.rebuild.RUnlock()
	n, err := i.col.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count %s: %w", i.col.Name(), err)
	}
	return Stats{Collection: i.col.Name(), Count: n}, nil
}

func (i *Index) Close() error {
	return i.col.Close()
}

// reset must be called with the rebuild lock held for writing.
func (i *Index) reset(ctx context.Context, op string) error {
	if i.resets != nil {
		i.resets.WithLabelValues(op).Inc()
	}
	return i.col.Reset(ctx)
}

func emptyGroups(n int) [][]Hit {
	out := make([][]Hit, n)
	for i := range out {
		out[i] = []Hit{}
	}
	return out
}
