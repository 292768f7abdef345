package api

import (
	"net/http"

	"github.com/cuemby/fluxion/pkg/metrics"
)

// handleHealth reports liveness: the process is up and serving HTTP.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.RegisterComponent("api", true, "")
	metrics.LivenessHandler()(w, r)
}

// handleReady reports readiness: whether the Store this server depends on
// is currently reachable. Component state is refreshed on every call
// rather than on a background ticker, since the submission API has exactly
// one dependency to probe.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if _, err := s.store.ListWorkflows(); err != nil {
		metrics.UpdateComponent("store", false, err.Error())
	} else {
		metrics.UpdateComponent("store", true, "")
	}
	metrics.UpdateComponent("api", true, "")

	metrics.ReadyHandler()(w, r)
}
