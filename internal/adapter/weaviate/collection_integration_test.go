//go:build integration

package weaviate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wv "logrca/internal/adapter/weaviate"
	"logrca/internal/embedding"
	"logrca/internal/fault"
	"logrca/internal/testutils"
	"logrca/internal/vector"
)

func TestCollection_Integration(t *testing.T) {
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	ctx := context.Background()
	col := wv.NewCollection(s.Weaviate, "log_context_it")
	require.NoError(t, col.EnsureSchema(ctx))

	idx := vector.NewIndex(col, embedding.New(embedding.NewLocal(32)))
	entries := []vector.Entry{
		{ID: "a", Text: "NullPointerException in UserAssembler", Metadata: map[string]string{"file": "UserAssembler.java", "range": "0-10", "line": "4", "type": "java_log_context"}},
		{ID: "b", Text: "cache miss for user id", Metadata: map[string]string{"file": "UserCache.java", "range": "0-10", "line": "2", "type": "java_log_context"}},
	}
	for range 2 {
		n, err := idx.Upsert(ctx, entries)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	}

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)

	groups, err := idx.Query(ctx, []string{"NullPointerException in UserAssembler"}, 1)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0], 1)
	assert.Equal(t, "NullPointerException in UserAssembler", groups[0][0].Document)
	assert.Equal(t, "UserAssembler.java", groups[0][0].Metadata["file"])

	err = col.Upsert(ctx, []vector.Record{{ID: "c", Vector: make([]float32, 8), Document: "short"}})
	assert.True(t, fault.Is(err, fault.KindDimension), "got %v", err)

	require.NoError(t, col.Reset(ctx))
	n, err := col.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
