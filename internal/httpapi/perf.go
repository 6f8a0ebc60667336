package httpapi

import (
	"net/http"

	"github.com/antoniostano/vistaar/internal/observability"
)

// handlePerfLatency serves the rolling latency window. ?reset=1 clears it
// after the snapshot is taken.
func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, observability.LatencySnapshot{Stages: []observability.StageLatency{}})
		return
	}
	snap := s.metrics.LatencySnapshot()
	if r.URL.Query().Get("reset") == "1" {
		s.metrics.ResetLatency()
	}
	respondJSON(w, http.StatusOK, snap)
}
