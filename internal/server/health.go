package server

import (
	"net/http"
	"time"
)

// handleHealth reports process liveness and the current admin
// connection count, for orchestration probes and dev tooling — the
// read-only status endpoint shape an embedder's host process checks
// before considering the runtime ready.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"uptime":            time.Since(s.startedAt).String(),
		"admin_connections": s.connectionCount(),
		"auth_enabled":      s.validator != nil,
	})
}
