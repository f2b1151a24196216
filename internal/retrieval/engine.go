// Package retrieval implements the retrieval engine: embed the query,
// vector-search, enrich with metadata and graph, rescore, and return the
// top-ranked memories.
package retrieval

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/memoryproxy/memoryproxy/internal/cache"
	"github.com/memoryproxy/memoryproxy/internal/llm"
	"github.com/memoryproxy/memoryproxy/internal/observability"
	"github.com/memoryproxy/memoryproxy/internal/scoring"
	"github.com/memoryproxy/memoryproxy/internal/store"
)

// Candidate is one ranked, enriched memory ready for injection.
type Candidate struct {
	MemoryID   string
	VectorID   string
	Content    string
	EventTime  *time.Time
	CreatedAt  time.Time
	Similarity float64
	FinalScore float64
}

// Config tunes the engine's defaults, sourced from config.MilvusConfig,
// config.MemoryScoringConfig, and a fixed k-hop depth.
type Config struct {
	TopK       int // default 10
	MaxInject  int // default 3
	GraphDepth int // default 2
	Weights    scoring.Weights
}

func DefaultConfig() Config {
	return Config{TopK: 10, MaxInject: 3, GraphDepth: 2, Weights: scoring.DefaultWeights()}
}

// Engine is the retrieval engine. All fields are safe for concurrent use.
type Engine struct {
	vector     store.VectorStore
	graph      store.GraphStore
	metadata   store.MetadataStore
	embedder   llm.Embedder
	cache      cache.EmbeddingCache
	cfg        Config
	embedModel string
}

func New(vector store.VectorStore, graph store.GraphStore, metadata store.MetadataStore,
	embedder llm.Embedder, embCache cache.EmbeddingCache, embedModel string, cfg Config) *Engine {
	return &Engine{vector: vector, graph: graph, metadata: metadata, embedder: embedder,
		cache: embCache, embedModel: embedModel, cfg: cfg}
}

// Retrieve runs the full pipeline for one query. It never returns an error
// to the caller: any failure degrades to an empty list, since retrieval is
// best-effort and must never block the chat turn.
func (e *Engine) Retrieve(ctx context.Context, personaID, queryText string) []Candidate {
	log := observability.LoggerWithTrace(ctx)

	embedding, err := e.embed(ctx, queryText)
	if err != nil {
		log.Warn().Err(err).Msg("retrieval: embed query failed, returning empty memory list")
		return nil
	}

	topK := e.cfg.TopK
	if topK <= 0 {
		topK = 10
	}
	matches, err := e.vector.SimilaritySearch(ctx, personaID, embedding, topK)
	if err != nil {
		log.Warn().Err(err).Msg("retrieval: vector search failed, returning empty memory list")
		return nil
	}
	if len(matches) == 0 {
		return nil
	}

	candidates := e.enrichWithMetadata(ctx, personaID, matches)
	densities := e.enrichWithGraph(ctx, personaID, candidates)

	now := time.Now()
	for i := range candidates {
		c := &candidates[i]
		ageMillis := float64(now.Sub(c.lastAccessedAt).Milliseconds())
		density := densities[c.entityID]
		c.FinalScore = scoring.FinalScore(e.cfg.Weights, c.Similarity, c.accessCount, ageMillis, density)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].FinalScore != candidates[j].FinalScore {
			return candidates[i].FinalScore > candidates[j].FinalScore
		}
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})

	maxInject := e.cfg.MaxInject
	if maxInject < 0 {
		maxInject = 0
	}
	if maxInject < len(candidates) {
		candidates = candidates[:maxInject]
	}

	out := make([]Candidate, len(candidates))
	for i, c := range candidates {
		out[i] = c.Candidate
	}

	e.touchAsync(out, personaID)
	return out
}

func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	if e.cache != nil {
		if v, ok := e.cache.Get(ctx, text); ok {
			return v, nil
		}
	}
	vecs, err := e.embedder.Embed(ctx, []string{text}, e.embedModel)
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	if e.cache != nil {
		e.cache.Set(ctx, text, vecs[0])
	}
	return vecs[0], nil
}

// enrichedCandidate carries the extra fields needed for scoring alongside
// the public Candidate.
type enrichedCandidate struct {
	Candidate
	entityID       string
	accessCount    int64
	lastAccessedAt time.Time
}

// enrichWithMetadata replaces each vector-store id with the stable memory
// id and pulls access/recency fields, falling back to created_at when
// event_time is absent.
func (e *Engine) enrichWithMetadata(ctx context.Context, personaID string, matches []store.VectorMatch) []enrichedCandidate {
	log := observability.LoggerWithTrace(ctx)
	out := make([]enrichedCandidate, 0, len(matches))
	for _, match := range matches {
		mem, err := e.metadata.GetMemoryByVectorID(ctx, match.ID)
		if err != nil {
			log.Warn().Err(err).Str("vector_id", match.ID).Msg("retrieval: memory row missing for vector match, skipping")
			continue
		}
		if mem.PersonaID != personaID {
			continue // never cross persona boundaries
		}
		eventTime := mem.EventTime
		if eventTime == nil {
			eventTime = &mem.CreatedAt
		}
		out = append(out, enrichedCandidate{
			Candidate: Candidate{
				MemoryID:   mem.ID,
				VectorID:   mem.VectorID,
				Content:    mem.Content,
				EventTime:  eventTime,
				CreatedAt:  mem.CreatedAt,
				Similarity: match.Similarity,
			},
			entityID:       mem.EntityID,
			accessCount:    mem.AccessCount,
			lastAccessedAt: mem.LastAccessedAt,
		})
	}
	return out
}

// enrichWithGraph issues one k-hop neighborhood query per distinct entity
// id in parallel via errgroup, returning a graph-density score per entity.
// A failing entity contributes density 0 and is logged, never aborting
// the batch.
func (e *Engine) enrichWithGraph(ctx context.Context, personaID string, candidates []enrichedCandidate) map[string]float64 {
	entityIDs := map[string]bool{}
	for _, c := range candidates {
		if c.entityID != "" {
			entityIDs[c.entityID] = true
		}
	}
	if len(entityIDs) == 0 {
		return nil
	}

	var mu sync.Mutex
	densities := make(map[string]float64, len(entityIDs))
	depth := e.cfg.GraphDepth
	if depth <= 0 {
		depth = 2
	}

	group, gctx := errgroup.WithContext(ctx)
	log := observability.LoggerWithTrace(ctx)
	for entityID := range entityIDs {
		entityID := entityID
		group.Go(func() error {
			neighborhood, err := e.graph.Neighbors(gctx, personaID, entityID, depth)
			if err != nil {
				log.Warn().Err(err).Str("entity_id", entityID).Msg("retrieval: graph enrichment failed, density=0")
				return nil // never abort the batch for one entity's failure
			}
			density := graphDensityOf(neighborhood)
			mu.Lock()
			densities[entityID] = density
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait() // errors are already swallowed per-entity above
	return densities
}

func graphDensityOf(n store.GraphNeighborhood) float64 {
	if len(n.Edges) == 0 {
		return scoring.GraphDensity(len(n.Nodes), 0, 0)
	}
	var total float64
	for _, edge := range n.Edges {
		total += edge.Weight
	}
	avg := total / float64(len(n.Edges))
	return scoring.GraphDensity(len(n.Nodes), len(n.Edges), avg)
}

// touchAsync updates last_accessed_at/access_count for every returned
// memory without blocking the caller; failures are logged, not fatal.
func (e *Engine) touchAsync(candidates []Candidate, personaID string) {
	if len(candidates) == 0 {
		return
	}
	go func() {
		ctx := context.Background()
		log := observability.LoggerWithTrace(ctx)
		for _, c := range candidates {
			if err := e.metadata.Touch(ctx, c.MemoryID); err != nil {
				log.Warn().Err(err).Str("memory_id", c.MemoryID).Msg("retrieval: failed to update access metrics")
			}
			if err := e.vector.Touch(ctx, personaID, c.VectorID); err != nil {
				log.Warn().Err(err).Str("vector_id", c.VectorID).Msg("retrieval: failed to touch vector record")
			}
		}
	}()
}
