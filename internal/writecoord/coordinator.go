// Package writecoord implements the multi-store write coordinator: a
// three-step fan-out (embed, vector insert, metadata insert plus optional
// graph upserts) with a compensating vector delete on metadata failure.
package writecoord

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/memoryproxy/memoryproxy/internal/llm"
	"github.com/memoryproxy/memoryproxy/internal/observability"
	"github.com/memoryproxy/memoryproxy/internal/store"
)

// EntityInput and RelationInput mirror the extraction engine's Entity and
// Relation shapes without importing that package, keeping the coordinator
// usable from both extraction-driven writes and direct CRUD writes.
type EntityInput struct {
	Name string
	Type string
}

type RelationInput struct {
	From string
	To   string
	Type string
}

// Request is one memory to write.
type Request struct {
	PersonaID string
	Content   string
	EventTime *time.Time
	// Embedding, if non-nil, skips the embed step (e.g. the dedup checker
	// already computed it for this content).
	Embedding []float32
	Entities  []EntityInput
	Relations []RelationInput
}

// Coordinator writes one memory across all three stores.
type Coordinator struct {
	vector     store.VectorStore
	metadata   store.MetadataStore
	graph      store.GraphStore
	embedder   llm.Embedder
	embedModel string
}

func New(vector store.VectorStore, metadata store.MetadataStore, graph store.GraphStore, embedder llm.Embedder, embedModel string) *Coordinator {
	return &Coordinator{vector: vector, metadata: metadata, graph: graph, embedder: embedder, embedModel: embedModel}
}

// Write performs the fan-out for one request. If the vector insert
// succeeds and the metadata insert fails, a compensating vector delete is
// issued and the original error is returned. Graph writes are never
// rolled back.
func (c *Coordinator) Write(ctx context.Context, req Request) (store.Memory, error) {
	log := observability.LoggerWithTrace(ctx)

	embedding := req.Embedding
	if embedding == nil {
		vecs, err := c.embedder.Embed(ctx, []string{req.Content}, c.embedModel)
		if err != nil {
			return store.Memory{}, fmt.Errorf("writecoord: embed content: %w", err)
		}
		if len(vecs) == 0 {
			return store.Memory{}, fmt.Errorf("writecoord: embedder returned no vectors")
		}
		embedding = vecs[0]
	}

	vectorID := uuid.NewString()
	memoryID := uuid.NewString()

	var entityID string
	if len(req.Entities) > 0 {
		entityID = req.Entities[0].Name
	}

	vecRecord := store.VectorRecord{
		ID:        vectorID,
		PersonaID: req.PersonaID,
		Content:   req.Content,
		Embedding: embedding,
		EntityID:  entityID,
		CreatedAt: time.Now(),
	}
	if err := c.vector.Upsert(ctx, vecRecord); err != nil {
		return store.Memory{}, fmt.Errorf("writecoord: vector insert: %w", err)
	}

	memory := store.Memory{
		ID:        memoryID,
		PersonaID: req.PersonaID,
		VectorID:  vectorID,
		EntityID:  entityID,
		Type:      store.MemoryTypeLongTerm,
		Content:   req.Content,
		EventTime: req.EventTime,
		Score:     0.0, // persisted as 0.0 and never updated; see DESIGN.md
	}
	created, err := c.metadata.CreateMemory(ctx, memory)
	if err != nil {
		if delErr := c.vector.Delete(ctx, req.PersonaID, vectorID); delErr != nil {
			log.Error().Err(delErr).Str("vector_id", vectorID).
				Msg("writecoord: compensating vector delete failed after metadata insert failure")
		}
		return store.Memory{}, fmt.Errorf("writecoord: metadata insert failed, vector record compensated: %w", err)
	}

	c.writeGraph(ctx, req.PersonaID, req.Entities, req.Relations)

	return created, nil
}

// writeGraph upserts entities and relations extracted alongside this
// memory. Failures are logged, never rolled back; stray graph nodes are
// tolerated.
func (c *Coordinator) writeGraph(ctx context.Context, personaID string, entities []EntityInput, relations []RelationInput) {
	if c.graph == nil {
		return
	}
	log := observability.LoggerWithTrace(ctx)

	for _, e := range entities {
		if err := c.graph.UpsertNode(ctx, store.GraphNode{PersonaID: personaID, Name: e.Name, Type: e.Type}); err != nil {
			log.Warn().Err(err).Str("entity", e.Name).Msg("writecoord: graph node upsert failed")
		}
	}
	for _, r := range relations {
		kind, known := store.NormalizeRelationKind(r.Type)
		if !known {
			log.Warn().Str("relation_type", r.Type).Msg("writecoord: unknown relation kind, downgraded to RELATED_TO")
		}
		if err := c.graph.UpsertEdge(ctx, store.GraphEdge{PersonaID: personaID, From: r.From, To: r.To, Kind: kind, Weight: 1.0}); err != nil {
			log.Warn().Err(err).Str("from", r.From).Str("to", r.To).Msg("writecoord: graph edge upsert failed")
		}
	}
}
