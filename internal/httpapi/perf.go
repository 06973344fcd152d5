package httpapi

import (
	"net/http"

	"github.com/harshmpotenz/SideBar/internal/observability"
)

// handlePerfLatency reports the rolling session, fetch and relay latencies.
func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, observability.LatencySnapshot{Stages: []observability.StageStats{}})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.LatencySnapshot())
}

func (s *Server) handlePerfReset(w http.ResponseWriter, _ *http.Request) {
	if s.metrics != nil {
		s.metrics.ResetLatency()
	}
	w.WriteHeader(http.StatusNoContent)
}
