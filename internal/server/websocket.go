package server

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/layerdynamics/forge-runtime/internal/oprt"
)

// createUpgrader builds a WebSocket upgrader with explicit origin
// validation: WebSocket upgrades bypass CORS, so allowed origins are
// checked by hand against config.AllowedOrigins, including a simple
// "https://*.example.com" wildcard-subdomain form.
func (s *Server) createUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return s.isOriginAllowed(origin)
		},
	}
}

func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
		if strings.Contains(allowed, "*") && matchWildcardOrigin(origin, allowed) {
			return true
		}
	}
	s.logger.Warn("admin websocket origin rejected", "origin", origin)
	return false
}

func matchWildcardOrigin(origin, pattern string) bool {
	parts := strings.SplitN(pattern, "*", 2)
	if len(parts) != 2 {
		return false
	}
	prefix, suffix := parts[0], parts[1]
	if !strings.HasPrefix(origin, prefix) || !strings.HasSuffix(origin, suffix) {
		return false
	}
	middle := origin[len(prefix) : len(origin)-len(suffix)]
	return !strings.Contains(middle, "/")
}

// bearerToken extracts the token from an Authorization header or, for
// clients that can't set headers on a WebSocket handshake, a "token"
// query parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// opRequest is one admin-socket call: a client-chosen correlation id,
// the op name, and its positional arguments.
type opRequest struct {
	ID   string `json:"id"`
	Op   string `json:"op"`
	Args []any  `json:"args"`
}

// opResponse carries exactly one of Result or Error back, echoing ID.
type opResponse struct {
	ID     string      `json:"id"`
	Result oprt.Value  `json:"result,omitempty"`
	Error  *oprt.Error `json:"error,omitempty"`
}

// handleOpSocket upgrades the connection and runs the op-call loop:
// authenticate first (if auth is enabled), then upgrade, mirroring the
// token-before-upgrade ordering so a rejected caller never completes a
// WebSocket handshake.
func (s *Server) handleOpSocket(w http.ResponseWriter, r *http.Request) {
	if s.validator != nil {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := s.validator.Validate(token); err != nil {
			s.logger.Warn("admin websocket auth failed", "error", err)
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("admin websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.trackConn(conn)
	defer s.untrackConn(conn)

	var writeMu sync.Mutex
	for {
		var req opRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		go func(req opRequest) {
			resp := s.dispatch(r.Context(), req)
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := conn.WriteJSON(resp); err != nil {
				s.logger.Debug("admin websocket write failed", "error", err)
			}
		}(req)
	}
}

func (s *Server) dispatch(ctx context.Context, req opRequest) opResponse {
	args := make(oprt.Args, len(req.Args))
	for i, a := range req.Args {
		args[i] = normalizeValue(a)
	}

	result, opErr := s.dispatcher.Call(ctx, req.Op, args)
	if opErr != nil {
		return opResponse{ID: req.ID, Error: opErr}
	}
	return opResponse{ID: req.ID, Result: result}
}

// normalizeValue converts a json.Unmarshal-produced value (map[string]any,
// []any, or a primitive) into the op protocol's typed Value grammar.
// Byte-buffer arguments have no native JSON representation, so the wire
// convention is a single-key {"$bytes": "<base64>"} object; every other
// map becomes an oprt.Struct and every slice an oprt.Args-shaped []Value.
func normalizeValue(v any) oprt.Value {
	switch x := v.(type) {
	case map[string]any:
		if len(x) == 1 {
			if b64, ok := x["$bytes"].(string); ok {
				if data, err := base64.StdEncoding.DecodeString(b64); err == nil {
					return oprt.Bytes(data)
				}
			}
		}
		out := oprt.Struct{}
		for k, vv := range x {
			out[k] = normalizeValue(vv)
		}
		return out
	case []any:
		out := make([]oprt.Value, len(x))
		for i, vv := range x {
			out[i] = normalizeValue(vv)
		}
		return out
	default:
		return v
	}
}
