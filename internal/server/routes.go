package server

import (
	"encoding/json"
	"net/http"
)

// registerRoutes builds the admin server's route table: a read-only
// health check and the op-dispatch WebSocket endpoint. Built the way a
// route table is built with http.ServeMux registration, one handler per
// path, nothing dynamic past startup.
func registerRoutes(mux *http.ServeMux, s *Server) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleOpSocket)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
