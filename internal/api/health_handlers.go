// ABOUTME: Liveness and downstream reachability endpoints
// ABOUTME: Root banner, healthz, and the Synapse version probe

package api

import (
	"errors"
	"net/http"

	"github.com/chatsender/keygate/internal/bridge"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"service": "keygate",
		"status":  "ok",
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSynapseVersion proxies the homeserver's supported versions as a
// reachability check for operators.
func (s *Server) handleSynapseVersion(w http.ResponseWriter, r *http.Request) {
	versions, err := s.probe.Versions(r.Context())
	if err != nil {
		if errors.Is(err, bridge.ErrUpstreamUnavailable) {
			s.writeError(w, http.StatusServiceUnavailable, "messaging server unavailable")
			return
		}
		s.logger.Error("version probe failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}
