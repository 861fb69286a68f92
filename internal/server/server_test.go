package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/layerdynamics/forge-runtime/internal/auth"
	"github.com/layerdynamics/forge-runtime/internal/config"
	"github.com/layerdynamics/forge-runtime/internal/oprt"
)

func testConfig() *config.Config {
	return &config.Config{
		Host:            "127.0.0.1",
		Port:            0,
		AllowedOrigins:  []string{"*"},
		HTTPReadTimeout: 5 * time.Second,
		HTTPIdleTimeout: 5 * time.Second,
	}
}

func testDispatcher(t *testing.T) *oprt.Dispatcher {
	t.Helper()
	reg := oprt.NewRegistry()
	reg.Register("test.echo", "", func(_ context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		if len(args) == 0 {
			return nil, nil
		}
		return args[0], nil
	})
	return oprt.NewDispatcher(reg, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestHandleHealth(t *testing.T) {
	srv := New(testConfig(), testDispatcher(t), nil, nil)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	resp, err := http.Get(httpSrv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["auth_enabled"] != false {
		t.Errorf("auth_enabled = %v, want false", body["auth_enabled"])
	}
}

func TestHandleOpSocketDispatchesOp(t *testing.T) {
	srv := New(testConfig(), testDispatcher(t), nil, nil)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(httpSrv.URL)+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()

	if err := conn.WriteJSON(opRequest{ID: "1", Op: "test.echo", Args: []any{"hello"}}); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var got opResponse
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if got.ID != "1" {
		t.Errorf("ID = %q, want 1", got.ID)
	}
	if got.Error != nil {
		t.Fatalf("unexpected error: %v", got.Error)
	}
	if got.Result != "hello" {
		t.Errorf("Result = %v, want hello", got.Result)
	}
}

func TestHandleOpSocketUnknownOp(t *testing.T) {
	srv := New(testConfig(), testDispatcher(t), nil, nil)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(httpSrv.URL)+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()

	if err := conn.WriteJSON(opRequest{ID: "2", Op: "nope.op"}); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var got opResponse
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if got.Error == nil {
		t.Fatal("want error for unknown op, got nil")
	}
	if got.Error.Code != oprt.ErrWebViewGeneric.Code {
		t.Errorf("error code = %d, want %d", got.Error.Code, oprt.ErrWebViewGeneric.Code)
	}
}

func TestHandleOpSocketRejectsMissingToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwksSrv := newServerTestJWKS(t, key)
	defer jwksSrv.Close()

	validator, err := auth.NewJWTValidator(jwksSrv.URL, "app", "", "")
	if err != nil {
		t.Fatalf("NewJWTValidator: %v", err)
	}
	defer validator.Close()

	srv := New(testConfig(), testDispatcher(t), validator, nil)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(httpSrv.URL)+"/ws", nil)
	if err == nil {
		t.Fatal("dial: want error for missing token, got nil")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Errorf("status = %d, want 401", status)
	}
	if resp != nil {
		resp.Body.Close()
	}
}

func TestIsOriginAllowedWildcardSubdomain(t *testing.T) {
	srv := &Server{cfg: &config.Config{AllowedOrigins: []string{"https://*.example.com"}}, logger: slog.Default()}
	if !srv.isOriginAllowed("https://app.example.com") {
		t.Error("want https://app.example.com allowed")
	}
	if srv.isOriginAllowed("https://evil.com") {
		t.Error("want https://evil.com rejected")
	}
}

func TestNormalizeValueBytesConvention(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("abc"))
	v := normalizeValue(map[string]any{"$bytes": encoded})
	b, ok := v.(oprt.Bytes)
	if !ok {
		t.Fatalf("normalizeValue returned %T, want oprt.Bytes", v)
	}
	if string(b) != "abc" {
		t.Errorf("decoded bytes = %q, want abc", string(b))
	}
}

func TestNormalizeValueNestedStruct(t *testing.T) {
	v := normalizeValue(map[string]any{"a": map[string]any{"b": float64(1)}})
	s, ok := v.(oprt.Struct)
	if !ok {
		t.Fatalf("normalizeValue returned %T, want oprt.Struct", v)
	}
	inner, ok := s["a"].(oprt.Struct)
	if !ok {
		t.Fatalf("s[a] = %T, want oprt.Struct", s["a"])
	}
	if inner["b"] != float64(1) {
		t.Errorf("inner[b] = %v, want 1", inner["b"])
	}
}

func newServerTestJWKS(t *testing.T, key *rsa.PrivateKey) *httptest.Server {
	t.Helper()
	eBytes := []byte{0x01, 0x00, 0x01}
	jwk := map[string]any{
		"kty": "RSA",
		"kid": "test-key",
		"use": "sig",
		"alg": "RS256",
		"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(eBytes),
	}
	body, err := json.Marshal(map[string]any{"keys": []any{jwk}})
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
}
