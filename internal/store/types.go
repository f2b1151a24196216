// Package store defines the three coordinated stores behind the memory
// pipeline (vector, graph, and relational metadata) as plain interfaces,
// with in-memory, Postgres, and Qdrant implementations.
package store

import "time"

// Persona is an isolated memory namespace.
type Persona struct {
	ID           string
	Description  string
	SystemPrompt string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MemoryType enumerates the memory kinds; only long_term exists today.
type MemoryType string

const MemoryTypeLongTerm MemoryType = "long_term"

// Memory is one unit of remembered content.
type Memory struct {
	ID             string
	PersonaID      string
	VectorID       string
	EntityID       string
	Type           MemoryType
	Content        string
	CreatedAt      time.Time
	EventTime      *time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	Score          float64 // persisted 0.0, never updated; see DESIGN.md
	Metadata       map[string]string
}

// VectorRecord is the persona-scoped embedding record.
type VectorRecord struct {
	ID             string
	PersonaID      string
	Content        string
	Embedding      []float32
	EntityID       string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	Score          float64
	Metadata       map[string]string
}

// VectorMatch is one similarity-search hit.
type VectorMatch struct {
	ID         string
	Similarity float64
	Record     VectorRecord
}

// RelationKind enumerates the two known graph relation kinds; anything
// else degrades to RelationRelatedTo with a warning.
type RelationKind string

const (
	RelationRelatedTo RelationKind = "RELATED_TO"
	RelationBelongsTo RelationKind = "BELONGS_TO"
)

// NormalizeRelationKind returns kind unchanged if it is known, otherwise
// RelationRelatedTo plus ok=false so the caller can log the downgrade.
func NormalizeRelationKind(kind string) (RelationKind, bool) {
	switch RelationKind(kind) {
	case RelationRelatedTo, RelationBelongsTo:
		return RelationKind(kind), true
	default:
		return RelationRelatedTo, false
	}
}

// GraphNode is an entity or concept node keyed by (persona_id, name).
type GraphNode struct {
	PersonaID   string
	Name        string
	Type        string
	Description string
}

// GraphEdge is a weighted relation between two nodes in the same persona.
type GraphEdge struct {
	PersonaID string
	From      string
	To        string
	Kind      RelationKind
	Weight    float64
}

// GraphNeighborhood is the result of a k-hop expansion around one entity.
type GraphNeighborhood struct {
	Nodes []GraphNode
	Edges []GraphEdge
}

// ConfigEntry is one row of the relational `configurations` table.
type ConfigEntry struct {
	Key       string
	Value     map[string]any
	UpdatedAt time.Time
}
