package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/knoguchi/rag/internal/pipeline"
	"github.com/knoguchi/rag/internal/repository"
)

// handleGetTenantConfig returns a tenant's current retrieval, reranker, and
// guardrail configuration, loading a default if none has been set yet.
func (s *Server) handleGetTenantConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	cfg, err := s.tc.Get(r.Context(), tenantID)
	if err != nil {
		http.Error(w, "loading tenant config: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handlePutTenantConfig validates and replaces a tenant's configuration,
// notifying subscribers of the change.
func (s *Server) handlePutTenantConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var cfg repository.TenantConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	cfg.TenantID = tenantID

	if err := s.tc.Update(r.Context(), cfg); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrConfigInvalid) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleResetTenantConfig restores a tenant's configuration to the built-in
// default.
func (s *Server) handleResetTenantConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	cfg, err := s.tc.Reset(r.Context(), tenantID)
	if err != nil {
		http.Error(w, "resetting tenant config: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
