package dedup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memoryproxy/memoryproxy/internal/store"
)

type stubEmbedder struct{ vector []float32 }

func (s stubEmbedder) Embed(context.Context, []string, string) ([][]float32, error) {
	return [][]float32{s.vector}, nil
}

func TestCheckFlagsNearDuplicateAboveThreshold(t *testing.T) {
	ctx := context.Background()
	vec := store.NewMemoryVectorStore()
	require.NoError(t, vec.Upsert(ctx, store.VectorRecord{ID: "v1", PersonaID: "bob", Embedding: []float32{1, 0, 0}}))

	checker := New(vec, stubEmbedder{vector: []float32{1, 0, 0}}, "embed-model", DefaultThreshold)
	decision, err := checker.Check(ctx, "bob", "my birthday is may 12")
	require.NoError(t, err)
	require.True(t, decision.IsDuplicate)
}

func TestCheckAcceptsDissimilarContent(t *testing.T) {
	ctx := context.Background()
	vec := store.NewMemoryVectorStore()
	require.NoError(t, vec.Upsert(ctx, store.VectorRecord{ID: "v1", PersonaID: "bob", Embedding: []float32{1, 0, 0}}))

	checker := New(vec, stubEmbedder{vector: []float32{0, 1, 0}}, "embed-model", DefaultThreshold)
	decision, err := checker.Check(ctx, "bob", "completely different content")
	require.NoError(t, err)
	require.False(t, decision.IsDuplicate)
}

func TestCheckIsIdempotentWithinABatch(t *testing.T) {
	ctx := context.Background()
	vec := store.NewMemoryVectorStore()
	embedder := stubEmbedder{vector: []float32{1, 0, 0}}
	checker := New(vec, embedder, "embed-model", DefaultThreshold)

	first, err := checker.Check(ctx, "p", "same content")
	require.NoError(t, err)
	require.False(t, first.IsDuplicate)
	require.NoError(t, vec.Upsert(ctx, store.VectorRecord{ID: "v1", PersonaID: "p", Embedding: first.Embedding}))

	second, err := checker.Check(ctx, "p", "same content")
	require.NoError(t, err)
	require.True(t, second.IsDuplicate)
}

func TestDefaultThresholdAppliedWhenZero(t *testing.T) {
	checker := New(store.NewMemoryVectorStore(), stubEmbedder{}, "m", 0)
	require.Equal(t, DefaultThreshold, checker.threshold)
}
