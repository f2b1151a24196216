package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by any store lookup that found nothing.
var ErrNotFound = errors.New("store: not found")

// VectorStore is the persona-scoped embedding index.
type VectorStore interface {
	Upsert(ctx context.Context, rec VectorRecord) error
	Delete(ctx context.Context, personaID, id string) error
	SimilaritySearch(ctx context.Context, personaID string, embedding []float32, topK int) ([]VectorMatch, error)
	Touch(ctx context.Context, personaID, id string) error
	Close() error
}

// GraphStore is the persona-scoped entity/relation index. There is
// deliberately no delete path: entities and concepts are long-lived
// knowledge, not cascade-deleted with their persona.
type GraphStore interface {
	UpsertNode(ctx context.Context, node GraphNode) error
	UpsertEdge(ctx context.Context, edge GraphEdge) error
	Neighbors(ctx context.Context, personaID, name string, depth int) (GraphNeighborhood, error)
	Dump(ctx context.Context, personaID string) (GraphNeighborhood, error)
	GetNode(ctx context.Context, personaID, name string) (GraphNode, bool, error)
	Close() error
}

// MetadataStore is the relational store for personas, memories, and
// configuration overlay rows.
type MetadataStore interface {
	CreatePersona(ctx context.Context, p Persona) (Persona, error)
	GetPersona(ctx context.Context, id string) (Persona, error)
	ListPersonas(ctx context.Context) ([]Persona, error)
	UpdatePersonaFields(ctx context.Context, p Persona) (Persona, error)
	DeletePersona(ctx context.Context, id string) error

	CreateMemory(ctx context.Context, m Memory) (Memory, error)
	GetMemory(ctx context.Context, id string) (Memory, error)
	GetMemoryByVectorID(ctx context.Context, vectorID string) (Memory, error)
	ListMemories(ctx context.Context, personaID string) ([]Memory, error)
	UpdateMemory(ctx context.Context, m Memory) (Memory, error)
	DeleteMemory(ctx context.Context, id string) error
	Touch(ctx context.Context, id string) error // last_accessed_at=now, access_count+=1

	GetConfig(ctx context.Context, key string) (ConfigEntry, bool, error)
	ListConfig(ctx context.Context) ([]ConfigEntry, error)
	PutConfig(ctx context.Context, key string, value map[string]any) error

	Close() error
}
