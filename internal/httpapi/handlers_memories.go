package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/memoryproxy/memoryproxy/internal/observability"
	"github.com/memoryproxy/memoryproxy/internal/store"
	"github.com/memoryproxy/memoryproxy/internal/writecoord"
)

type memoryRequest struct {
	PersonaID string     `json:"persona_id"`
	Content   string     `json:"content"`
	EventTime *time.Time `json:"event_time"`
}

type memorySearchRequest struct {
	PersonaID string `json:"persona_id"`
	Query     string `json:"query"`
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	personaID := r.URL.Query().Get("persona_id")
	if personaID == "" {
		respondError(w, http.StatusBadRequest, "persona_id query parameter is required")
		return
	}
	memories, err := s.stores.Metadata.ListMemories(r.Context(), personaID)
	if err != nil {
		respondError(w, statusFromError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, memories)
}

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var req memoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PersonaID == "" || req.Content == "" {
		respondError(w, http.StatusBadRequest, "persona_id and content are required")
		return
	}

	created, err := s.writer.Write(r.Context(), writecoord.Request{
		PersonaID: req.PersonaID,
		Content:   req.Content,
		EventTime: req.EventTime,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, err := s.stores.Metadata.GetMemory(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "unknown memory")
			return
		}
		respondError(w, statusFromError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// handleUpdateMemory updates content (and re-embeds it), preserving id,
// created_at, and access_count.
func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req memoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	existing, err := s.stores.Metadata.GetMemory(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "unknown memory")
			return
		}
		respondError(w, statusFromError(err), err.Error())
		return
	}

	vecs, err := s.embedder.Embed(r.Context(), []string{req.Content}, s.cfg.Embedding.Model)
	if err != nil || len(vecs) == 0 {
		respondError(w, http.StatusInternalServerError, "re-embedding failed")
		return
	}
	if err := s.stores.Vector.Upsert(r.Context(), store.VectorRecord{
		ID: existing.VectorID, PersonaID: existing.PersonaID, Content: req.Content, Embedding: vecs[0],
		EntityID: existing.EntityID, CreatedAt: time.Now(),
	}); err != nil {
		respondError(w, http.StatusInternalServerError, "vector update failed")
		return
	}

	existing.Content = req.Content
	if req.EventTime != nil {
		existing.EventTime = req.EventTime
	}
	updated, err := s.stores.Metadata.UpdateMemory(r.Context(), existing)
	if err != nil {
		respondError(w, statusFromError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	mem, err := s.stores.Metadata.GetMemory(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		respondError(w, statusFromError(err), err.Error())
		return
	}
	if err := s.stores.Vector.Delete(r.Context(), mem.PersonaID, mem.VectorID); err != nil {
		observability.LoggerWithTrace(r.Context()).Warn().Err(err).Str("memory_id", id).Msg("memory delete: vector delete failed")
	}
	if err := s.stores.Metadata.DeleteMemory(r.Context(), id); err != nil {
		respondError(w, statusFromError(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearchMemories(w http.ResponseWriter, r *http.Request) {
	var req memorySearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PersonaID == "" {
		respondError(w, http.StatusBadRequest, "persona_id is required")
		return
	}
	candidates := s.retrieval.Retrieve(r.Context(), req.PersonaID, req.Query)
	respondJSON(w, http.StatusOK, map[string]any{"results": candidates})
}
