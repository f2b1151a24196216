package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memoryproxy/memoryproxy/internal/scoring"
	"github.com/memoryproxy/memoryproxy/internal/store"
)

type stubEmbedder struct {
	vector []float32
}

func (s stubEmbedder) Embed(context.Context, []string, string) ([][]float32, error) {
	return [][]float32{s.vector}, nil
}

func setupStores(t *testing.T) (*store.MemoryVectorStore, *store.MemoryGraphStore, *store.MemoryMetadataStore) {
	t.Helper()
	return store.NewMemoryVectorStore(), store.NewMemoryGraphStore(), store.NewMemoryMetadataStore()
}

func TestRetrieveReturnsOnlyRequestedPersona(t *testing.T) {
	ctx := context.Background()
	vec, graph, meta := setupStores(t)

	for _, p := range []string{"alice", "bob"} {
		memID, vecID := p+"-mem", p+"-vec"
		require.NoError(t, vec.Upsert(ctx, store.VectorRecord{ID: vecID, PersonaID: p, Embedding: []float32{1, 0, 0}}))
		_, err := meta.CreateMemory(ctx, store.Memory{ID: memID, PersonaID: p, VectorID: vecID, Content: "content for " + p})
		require.NoError(t, err)
	}

	engine := New(vec, graph, meta, stubEmbedder{vector: []float32{1, 0, 0}}, nil, "embed-model", DefaultConfig())
	results := engine.Retrieve(ctx, "alice", "anything")

	require.Len(t, results, 1)
	require.Equal(t, "alice-mem", results[0].MemoryID)
}

func TestRetrieveRespectsMaxInject(t *testing.T) {
	ctx := context.Background()
	vec, graph, meta := setupStores(t)

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		require.NoError(t, vec.Upsert(ctx, store.VectorRecord{ID: id, PersonaID: "p", Embedding: []float32{1, 0, 0}}))
		_, err := meta.CreateMemory(ctx, store.Memory{ID: "mem-" + id, PersonaID: "p", VectorID: id, Content: id})
		require.NoError(t, err)
	}

	cfg := DefaultConfig()
	cfg.MaxInject = 2
	engine := New(vec, graph, meta, stubEmbedder{vector: []float32{1, 0, 0}}, nil, "embed-model", cfg)
	results := engine.Retrieve(ctx, "p", "q")

	require.Len(t, results, 2)
}

func TestRetrieveEmptyVectorStoreReturnsEmptyNotNilError(t *testing.T) {
	ctx := context.Background()
	vec, graph, meta := setupStores(t)
	engine := New(vec, graph, meta, stubEmbedder{vector: []float32{1, 0, 0}}, nil, "embed-model", DefaultConfig())
	results := engine.Retrieve(ctx, "nobody", "q")
	require.Empty(t, results)
}

func TestRetrieveUpdatesAccessMetricsAsynchronously(t *testing.T) {
	ctx := context.Background()
	vec, graph, meta := setupStores(t)
	require.NoError(t, vec.Upsert(ctx, store.VectorRecord{ID: "v1", PersonaID: "p", Embedding: []float32{1, 0, 0}}))
	created, err := meta.CreateMemory(ctx, store.Memory{ID: "m1", PersonaID: "p", VectorID: "v1", Content: "x"})
	require.NoError(t, err)
	require.Zero(t, created.AccessCount)

	engine := New(vec, graph, meta, stubEmbedder{vector: []float32{1, 0, 0}}, nil, "embed-model", DefaultConfig())
	results := engine.Retrieve(ctx, "p", "q")
	require.Len(t, results, 1)

	require.Eventually(t, func() bool {
		m, err := meta.GetMemory(ctx, "m1")
		return err == nil && m.AccessCount == 1
	}, time.Second, 10*time.Millisecond)
}

func TestGraphDensityOfEmptyNeighborhoodIsZero(t *testing.T) {
	require.Equal(t, 0.0, graphDensityOf(store.GraphNeighborhood{}))
}

func TestFinalScoreStaysWithinUnitInterval(t *testing.T) {
	w := scoring.DefaultWeights()
	got := scoring.FinalScore(w, 1.5, 1_000_000, -100, 5)
	require.GreaterOrEqual(t, got, 0.0)
	require.LessOrEqual(t, got, 1.0)
}
