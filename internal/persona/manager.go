// Package persona implements persona CRUD plus cascade delete of owned
// memories and vectors.
package persona

import (
	"context"
	"fmt"

	"github.com/memoryproxy/memoryproxy/internal/observability"
	"github.com/memoryproxy/memoryproxy/internal/store"
)

// Manager is the persona CRUD + cascade-delete surface.
type Manager struct {
	metadata store.MetadataStore
	vector   store.VectorStore
}

func New(metadata store.MetadataStore, vector store.VectorStore) *Manager {
	return &Manager{metadata: metadata, vector: vector}
}

// Create is idempotent: repeated calls with the same id are a no-op after
// the first.
func (m *Manager) Create(ctx context.Context, id, description, systemPrompt string) (store.Persona, error) {
	return m.metadata.CreatePersona(ctx, store.Persona{ID: id, Description: description, SystemPrompt: systemPrompt})
}

// Update overwrites description and system_prompt for an existing
// persona, distinct from Create's idempotent-no-op-after-first semantics.
func (m *Manager) Update(ctx context.Context, id, description, systemPrompt string) (store.Persona, error) {
	existing, err := m.metadata.GetPersona(ctx, id)
	if err != nil {
		return store.Persona{}, fmt.Errorf("persona update: %w", err)
	}
	existing.Description = description
	existing.SystemPrompt = systemPrompt
	return m.metadata.UpdatePersonaFields(ctx, existing)
}

func (m *Manager) Get(ctx context.Context, id string) (store.Persona, error) {
	return m.metadata.GetPersona(ctx, id)
}

func (m *Manager) List(ctx context.Context) ([]store.Persona, error) {
	return m.metadata.ListPersonas(ctx)
}

// Delete cascades: enumerate all memories, delete each from the vector
// store, delete the metadata rows, finally delete the persona row.
// Individual vector-delete failures are logged but never abort the
// cascade: the metadata row is still removed, and a detached vector
// record is invisible to future persona-scoped retrievals.
// Graph entities are left in place: the persona's entities and concepts
// outlive the memories and the persona row that this cascade removes.
func (m *Manager) Delete(ctx context.Context, id string) error {
	log := observability.LoggerWithTrace(ctx)

	memories, err := m.metadata.ListMemories(ctx, id)
	if err != nil {
		return fmt.Errorf("persona cascade: list memories: %w", err)
	}

	for _, mem := range memories {
		if err := m.vector.Delete(ctx, id, mem.VectorID); err != nil {
			log.Warn().Err(err).Str("persona_id", id).Str("vector_id", mem.VectorID).
				Msg("persona cascade: vector delete failed, continuing")
		}
		if err := m.metadata.DeleteMemory(ctx, mem.ID); err != nil {
			log.Warn().Err(err).Str("persona_id", id).Str("memory_id", mem.ID).
				Msg("persona cascade: metadata delete failed, continuing")
		}
	}

	if err := m.metadata.DeletePersona(ctx, id); err != nil {
		return fmt.Errorf("persona cascade: delete persona row: %w", err)
	}
	return nil
}
