package httpapi

import "net/http"

// handleListConfig returns every relational-overlay configuration row.
// It does not merge in file/env defaults; those are only visible through
// the resolved process config, not this overlay-inspection surface.
func (s *Server) handleListConfig(w http.ResponseWriter, r *http.Request) {
	entries, err := s.stores.Metadata.ListConfig(r.Context())
	if err != nil {
		respondError(w, statusFromError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	entry, ok, err := s.stores.Metadata.GetConfig(r.Context(), key)
	if err != nil {
		respondError(w, statusFromError(err), err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "no overlay value for this key")
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

type configPutRequest struct {
	Value map[string]any `json:"value"`
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var req configPutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.stores.Metadata.PutConfig(r.Context(), key, req.Value); err != nil {
		respondError(w, statusFromError(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
