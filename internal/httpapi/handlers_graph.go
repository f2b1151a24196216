package httpapi

import (
	"net/http"
	"strconv"

	"github.com/memoryproxy/memoryproxy/internal/store"
)

// handleGetGraph returns the k-hop neighborhood of one entity within a
// persona's graph, or the persona's whole graph if no entity is focused.
func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	personaID := r.URL.Query().Get("persona_id")
	if personaID == "" {
		respondError(w, http.StatusBadRequest, "persona_id query parameter is required")
		return
	}
	entity := r.URL.Query().Get("entity")
	depth := 1
	if raw := r.URL.Query().Get("depth"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			depth = parsed
		}
	}

	var (
		neighborhood store.GraphNeighborhood
		err          error
	)
	if entity == "" {
		neighborhood, err = s.stores.Graph.Dump(r.Context(), personaID)
	} else {
		neighborhood, err = s.stores.Graph.Neighbors(r.Context(), personaID, entity, depth)
	}
	if err != nil {
		respondError(w, statusFromError(err), err.Error())
		return
	}
	if neighborhood.Nodes == nil {
		neighborhood.Nodes = []store.GraphNode{}
	}
	if neighborhood.Edges == nil {
		neighborhood.Edges = []store.GraphEdge{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"nodes": neighborhood.Nodes,
		"edges": neighborhood.Edges,
	})
}
