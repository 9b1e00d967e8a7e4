package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/knoguchi/rag/internal/audit"
	"github.com/knoguchi/rag/internal/orchestrator"
	"github.com/knoguchi/rag/internal/synthesis"
)

// queryRequest is the POST /v1/query body.
type queryRequest struct {
	Query     string `json:"query"`
	Limit     int    `json:"limit"`
	DocID     string `json:"doc_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// handleQuery runs the guarded retrieval pipeline and, when the result is
// answerable, streams the synthesized answer as Server-Sent Events; when
// the guardrail declines, it returns the structured IDK response as a
// single JSON object instead of opening a stream.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		http.Error(w, "missing authenticated user", http.StatusUnauthorized)
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	orchReq := orchestrator.Request{Query: req.Query, Limit: limit, DocID: req.DocID}
	result, err := s.orch.Retrieve(r.Context(), s.coll, orchReq, user)
	if err != nil {
		s.log.Error("retrieve failed", "error", err, "tenant", user.TenantID)
		http.Error(w, "retrieval failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if s.metrics != nil {
		s.metrics.Observe(user.TenantID, result.Metrics, result.IsAnswerable)
	}
	if s.rolling != nil {
		if count, err := s.rolling.Incr(r.Context(), user.TenantID); err != nil {
			s.log.Warn("rolling counter increment failed", "error", err, "tenant", user.TenantID)
		} else {
			s.log.Debug("tenant query count in window", "tenant", user.TenantID, "count", count)
		}
	}
	s.audit.Record(r.Context(), audit.FromResult(result))

	if !result.IsAnswerable {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"answerable": false,
			"idk":        result.IDKResponse,
		})
		return
	}

	events, err := s.synth.Synthesize(r.Context(), req.Query, result, synthesis.Options{SessionID: req.SessionID})
	if err != nil {
		http.Error(w, "synthesis failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	streamSSE(w, events)
}

// streamSSE writes each synthesis event as a Server-Sent Events frame,
// flushing after every event so a client sees tokens as they arrive.
func streamSSE(w http.ResponseWriter, events <-chan synthesis.Event) {
	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, payload)
		if canFlush {
			flusher.Flush()
		}
	}
}
