package vector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logrca/internal/fault"
)

// fakeCollection keeps records in memory and enforces a fixed dimension
// like the real collections do.
type fakeCollection struct {
	mu         sync.Mutex
	dim        int
	records    map[string]Record
	resets     int
	failAlways bool
	queryErr   error
	// staleQueries makes that many queries report a mismatch before the
	// collection answers normally.
	staleQueries int
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{records: map[string]Record{}}
}

func (f *fakeCollection) Name() string { return "fake" }

func (f *fakeCollection) Upsert(ctx context.Context, records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		if f.failAlways || (f.dim != 0 && len(r.Vector) != f.dim) {
			return fault.New(fault.KindDimension, "fake.upsert",
				fmt.Errorf("%w: have %d, got %d", fault.ErrDimensionMismatch, f.dim, len(r.Vector)))
		}
	}
	for _, r := range records {
		f.dim = len(r.Vector)
		f.records[r.ID] = r
	}
	return nil
}

func (f *fakeCollection) Query(ctx context.Context, vectors [][]float32, topK int) ([][]Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.staleQueries > 0 {
		f.staleQueries--
		return nil, fault.New(fault.KindDimension, "fake.query", fault.ErrDimensionMismatch)
	}
	out := make([][]Hit, len(vectors))
	for i, v := range vectors {
		if f.dim != 0 && len(v) != f.dim {
			return nil, fault.New(fault.KindDimension, "fake.query", fault.ErrDimensionMismatch)
		}
		for _, r := range f.records {
			out[i] = append(out[i], Hit{ID: r.ID, Document: r.Document, Metadata: r.Metadata, Distance: l1(v, r.Vector)})
		}
	}
	return out, nil
}

func (f *fakeCollection) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.dim = 0
	f.records = map[string]Record{}
	return nil
}

func (f *fakeCollection) Count(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records), nil
}

func (f *fakeCollection) Dim(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dim, nil
}

func (f *fakeCollection) Close() error { return nil }

func mustUpsert(t *testing.T, idx *Index, entries []Entry) int {
	t.Helper()
	n, err := idx.Upsert(context.Background(), entries)
	require.NoError(t, err)
	return n
}

func l1(a, b []float32) float32 {
	var d float32
	for i := range a {
		x := a[i] - b[i]
		if x < 0 {
			x = -x
		}
		d += x
	}
	return d
}

// fakeEmbedder maps text to the vector registered for it, or to a vector
// of length dim filled with the text length.
type fakeEmbedder struct {
	dim     int
	vectors map[string][]float32
	err     error
}

func (e *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := e.vectors[t]; ok {
			out[i] = v
			continue
		}
		v := make([]float32, e.dim)
		for j := range v {
			v[j] = float32(len(t))
		}
		out[i] = v
	}
	return out, nil
}

func TestIndex_UpsertAndQuery(t *testing.T) {
	ctx := context.Background()
	col := newFakeCollection()
	emb := &fakeEmbedder{dim: 2, vectors: map[string][]float32{
		"near": {1, 1},
		"far":  {9, 9},
		"q":    {1, 2},
	}}
	idx := NewIndex(col, emb)

	n := mustUpsert(t, idx, []Entry{
		{ID: "b", Text: "far", Metadata: map[string]string{"file": "B.java"}},
		{ID: "a", Text: "near", Metadata: map[string]string{"file": "A.java"}},
	})
	assert.Equal(t, 2, n)

	groups, err := idx.Query(ctx, []string{"q"}, 5)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0], 2)
	assert.Equal(t, "near", groups[0][0].Document)
	assert.Equal(t, "A.java", groups[0][0].Metadata["file"])
	assert.LessOrEqual(t, groups[0][0].Distance, groups[0][1].Distance)

	groups, err = idx.Query(ctx, []string{"q", "q"}, 1)
	require.NoError(t, err)
	assert.Len(t, groups, 2)
	assert.Len(t, groups[1], 1)
}

func TestIndex_UpsertOverwritesSameID(t *testing.T) {
	ctx := context.Background()
	col := newFakeCollection()
	idx := NewIndex(col, &fakeEmbedder{dim: 3})

	mustUpsert(t, idx, []Entry{{ID: "x", Text: "one"}})
	mustUpsert(t, idx, []Entry{{ID: "x", Text: "two"}})

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Collection: "fake", Count: 1}, stats)
	assert.Equal(t, "two", col.records["x"].Document)
}

func TestIndex_UpsertResetsOnDimensionChange(t *testing.T) {
	col := newFakeCollection()
	resets := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_resets_total"}, []string{"op"})

	mustUpsert(t, NewIndex(col, &fakeEmbedder{dim: 3}), []Entry{{ID: "old", Text: "a"}})

	idx := NewIndex(col, &fakeEmbedder{dim: 5}, WithResetCounter(resets))
	mustUpsert(t, idx, []Entry{{ID: "new", Text: "b"}})

	assert.Equal(t, 1, col.resets)
	assert.Equal(t, 5, col.dim)
	_, hasOld := col.records["old"]
	assert.False(t, hasOld)
	assert.Equal(t, float64(1), testutil.ToFloat64(resets.WithLabelValues("upsert")))
}

func TestIndex_UpsertFatalAfterRetry(t *testing.T) {
	col := newFakeCollection()
	col.failAlways = true
	idx := NewIndex(col, &fakeEmbedder{dim: 3})

	n, err := idx.Upsert(context.Background(), []Entry{{ID: "x", Text: "a"}})
	require.Error(t, err)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, fault.ErrIndexFatal)
	assert.ErrorIs(t, err, fault.ErrDimensionMismatch)
	assert.Equal(t, 1, col.resets)
}

func TestIndex_UpsertSkipsOffLengthVectors(t *testing.T) {
	tests := []struct {
		name     string
		existing int
		vectors  map[string][]float32
		entries  []Entry
		want     []string
	}{
		{
			name:    "empty collection keeps most common length",
			vectors: map[string][]float32{"odd": {1, 2}},
			entries: []Entry{{ID: "a", Text: "one"}, {ID: "b", Text: "odd"}, {ID: "c", Text: "three"}},
			want:    []string{"a", "c"},
		},
		{
			name:    "tie keeps the first length",
			vectors: map[string][]float32{"odd": {1, 2}},
			entries: []Entry{{ID: "a", Text: "even"}, {ID: "b", Text: "odd"}},
			want:    []string{"a"},
		},
		{
			name:     "collection length wins over majority",
			existing: 2,
			vectors:  map[string][]float32{"odd": {1, 2}},
			entries:  []Entry{{ID: "a", Text: "one"}, {ID: "b", Text: "odd"}, {ID: "c", Text: "three"}},
			want:     []string{"b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col := newFakeCollection()
			col.dim = tt.existing
			skipped := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_skipped_total"})
			idx := NewIndex(col, &fakeEmbedder{dim: 3, vectors: tt.vectors}, WithSkippedCounter(skipped))

			n := mustUpsert(t, idx, tt.entries)

			assert.Equal(t, len(tt.want), n)
			assert.Equal(t, 0, col.resets)
			assert.Len(t, col.records, len(tt.want))
			for _, id := range tt.want {
				assert.Contains(t, col.records, id)
			}
			assert.Equal(t, float64(len(tt.entries)-len(tt.want)), testutil.ToFloat64(skipped))
		})
	}
}

func TestIndex_QueryIgnoresOffLengthVector(t *testing.T) {
	ctx := context.Background()
	col := newFakeCollection()
	emb := &fakeEmbedder{dim: 3, vectors: map[string][]float32{"flaky": {1, 1}}}
	idx := NewIndex(col, emb)
	mustUpsert(t, idx, []Entry{{ID: "a", Text: "alpha"}, {ID: "b", Text: "beta"}})

	groups, err := idx.Query(ctx, []string{"alpha", "flaky"}, 5)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0], 2)
	assert.Empty(t, groups[1])
	assert.Equal(t, 0, col.resets)
	assert.Len(t, col.records, 2)

	// Same batch against a bare collection without a dimension lookup.
	groups, err = NewIndex(struct{ Collection }{col}, emb).Query(ctx, []string{"flaky", "alpha", "beta"}, 5)
	require.NoError(t, err)
	assert.Empty(t, groups[0])
	assert.Len(t, groups[1], 2)
	assert.Equal(t, 0, col.resets)
}

func TestIndex_QueryRechecksBeforeReset(t *testing.T) {
	ctx := context.Background()
	col := newFakeCollection()
	idx := NewIndex(col, &fakeEmbedder{dim: 3})
	mustUpsert(t, idx, []Entry{{ID: "a", Text: "a"}})

	col.staleQueries = 1
	groups, err := idx.Query(ctx, []string{"q"}, 5)
	require.NoError(t, err)
	assert.Len(t, groups[0], 1)
	assert.Equal(t, 0, col.resets)
	assert.Len(t, col.records, 1)
}

func TestIndex_QueryMismatchResetsAndReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	col := newFakeCollection()
	mustUpsert(t, NewIndex(col, &fakeEmbedder{dim: 3}), []Entry{{ID: "a", Text: "a"}})

	idx := NewIndex(col, &fakeEmbedder{dim: 4})
	groups, err := idx.Query(ctx, []string{"q1", "q2"}, 5)
	require.NoError(t, err)
	assert.Equal(t, [][]Hit{{}, {}}, groups)
	assert.Equal(t, 1, col.resets)

	groups, err = idx.Query(ctx, []string{"q1"}, 5)
	require.NoError(t, err)
	assert.Equal(t, [][]Hit{{}}, groups)
}

func TestIndex_QueryErrors(t *testing.T) {
	ctx := context.Background()

	col := newFakeCollection()
	col.queryErr = fault.Transport("fake.query", errors.New("connection refused"))
	_, err := NewIndex(col, &fakeEmbedder{dim: 2}).Query(ctx, []string{"q"}, 3)
	assert.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindNetwork))
	assert.Equal(t, 0, col.resets)

	_, err = NewIndex(newFakeCollection(), &fakeEmbedder{err: context.Canceled}).Query(ctx, []string{"q"}, 3)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIndex_QueryEdgeCases(t *testing.T) {
	idx := NewIndex(newFakeCollection(), &fakeEmbedder{dim: 2})

	groups, err := idx.Query(context.Background(), nil, 5)
	require.NoError(t, err)
	assert.Empty(t, groups)

	groups, err = idx.Query(context.Background(), []string{"q"}, 0)
	require.NoError(t, err)
	assert.Equal(t, [][]Hit{{}}, groups)

	groups, err = idx.Query(context.Background(), []string{"q"}, 5)
	require.NoError(t, err)
	assert.Len(t, groups, 1)
	assert.Empty(t, groups[0])
}

func TestIndex_ConcurrentQueriesDuringReset(t *testing.T) {
	ctx := context.Background()
	col := newFakeCollection()
	mustUpsert(t, NewIndex(col, &fakeEmbedder{dim: 3}), []Entry{{ID: "a", Text: "a"}})

	idx := NewIndex(col, &fakeEmbedder{dim: 4})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := idx.Query(ctx, []string{"q"}, 2)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, col.resets, 1)
}
