// Package dedup implements the semantic near-duplicate check applied to
// extracted content before it is inserted as a new persona memory.
package dedup

import (
	"context"
	"fmt"

	"github.com/memoryproxy/memoryproxy/internal/llm"
	"github.com/memoryproxy/memoryproxy/internal/store"
)

// DefaultThreshold is the similarity at or above which content is treated
// as a near-duplicate and skipped.
const DefaultThreshold = 0.85

// DefaultTopK bounds how many existing candidates are checked per content.
const DefaultTopK = 5

// Checker decides whether a piece of content is a near-duplicate of an
// existing persona memory.
type Checker struct {
	vector     store.VectorStore
	embedder   llm.Embedder
	embedModel string
	threshold  float64
	topK       int
}

func New(vector store.VectorStore, embedder llm.Embedder, embedModel string, threshold float64) *Checker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Checker{vector: vector, embedder: embedder, embedModel: embedModel, threshold: threshold, topK: DefaultTopK}
}

// Decision is the outcome of a duplicate check, carrying the embedding so
// callers that proceed to insert do not need to re-embed the content.
type Decision struct {
	IsDuplicate   bool
	Embedding     []float32
	MaxSimilarity float64
}

// Check embeds content and searches the persona-scoped vector store for
// near-duplicates. A record is treated as a duplicate iff its similarity
// is >= the configured threshold; content is accepted iff
// max_similarity(content, existing) < threshold.
func (c *Checker) Check(ctx context.Context, personaID, content string) (Decision, error) {
	vecs, err := c.embedder.Embed(ctx, []string{content}, c.embedModel)
	if err != nil {
		return Decision{}, fmt.Errorf("dedup: embed content: %w", err)
	}
	if len(vecs) == 0 {
		return Decision{}, fmt.Errorf("dedup: embedder returned no vectors")
	}
	embedding := vecs[0]

	matches, err := c.vector.SimilaritySearch(ctx, personaID, embedding, c.topK)
	if err != nil {
		return Decision{}, fmt.Errorf("dedup: similarity search: %w", err)
	}

	var maxSim float64
	for _, m := range matches {
		if m.Similarity > maxSim {
			maxSim = m.Similarity
		}
	}
	return Decision{IsDuplicate: maxSim >= c.threshold, Embedding: embedding, MaxSimilarity: maxSim}, nil
}
