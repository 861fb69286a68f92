// Package config loads the runtime's process-wide settings from
// environment variables: a flat Config struct populated once by Load,
// with getEnv/getEnvInt/getEnvDuration helpers and no hot reload.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every process-wide setting the runtime needs before the
// Capability Policy, Resource Table, and Op Dispatcher can be built.
type Config struct {
	// Host/Port serve the admin op-dispatch WebSocket endpoint
	// (internal/server) and the read-only health check.
	Host string
	Port int

	AllowedOrigins []string

	// ManifestPath points at manifest.app.toml. DevOverride disables
	// capability enforcement entirely and must never be the default.
	ManifestPath string
	DevOverride  bool

	// DataDir is the root directory for the storage service's sqlite file.
	// The temp_file/temp_dir ops use the OS temp directory, not DataDir.
	DataDir string
	// AppID scopes the storage service's key-value table to a single
	// application identifier.
	AppID string

	// Debugger client settings.
	DebuggerURL            string
	DebuggerConnectTimeout time.Duration
	DebuggerRequestTimeout time.Duration
	DebuggerReceiverQueue  int

	// Event Bus per-receiver queue capacity (default 64).
	EventReceiverQueue int

	// NET service defaults.
	FetchTimeout time.Duration

	// PROC service defaults.
	ProcessOutputBufferSize int

	// WASM service defaults: a wall-clock budget substituting for fuel
	// metering (see the internal/wasm package doc).
	WASMCallBudget time.Duration

	// HTTP server timeouts for the op-dispatch WebSocket host.
	HTTPReadTimeout time.Duration
	HTTPIdleTimeout time.Duration

	// Admin surface settings. AdminJWKSEndpoint gates the op-dispatch
	// WebSocket's dev/admin surface with bearer-token auth; empty disables
	// auth entirely (loud warning, never the production default).
	AdminJWKSEndpoint string
	AdminJWTIssuer    string
	AdminJWTAudience  string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables, applying a
// defaults-then-override pattern: every setting has a sane default,
// overridden only when its env var is set and non-empty.
func Load() (*Config, error) {
	cfg := &Config{
		Host:                    getEnv("FORGE_HOST", "127.0.0.1"),
		Port:                    getEnvInt("FORGE_PORT", 7800),
		AllowedOrigins:          getEnvList("FORGE_ALLOWED_ORIGINS", []string{"*"}),
		ManifestPath:            getEnv("FORGE_MANIFEST_PATH", "./manifest.app.toml"),
		DevOverride:             getEnvBool("FORGE_DEV_CAPABILITY_OVERRIDE", false),
		DataDir:                 getEnv("FORGE_DATA_DIR", "./data"),
		AppID:                   getEnv("FORGE_APP_ID", "default"),
		DebuggerURL:             getEnv("FORGE_DEBUGGER_URL", "ws://127.0.0.1:9229"),
		DebuggerConnectTimeout:  getEnvDuration("FORGE_DEBUGGER_CONNECT_TIMEOUT", 5*time.Second),
		DebuggerRequestTimeout:  getEnvDuration("FORGE_DEBUGGER_REQUEST_TIMEOUT", 30*time.Second),
		DebuggerReceiverQueue:   getEnvInt("FORGE_DEBUGGER_RECEIVER_QUEUE", 64),
		EventReceiverQueue:      getEnvInt("FORGE_EVENT_RECEIVER_QUEUE", 64),
		FetchTimeout:            getEnvDuration("FORGE_FETCH_TIMEOUT", 30*time.Second),
		ProcessOutputBufferSize: getEnvInt("FORGE_PROCESS_OUTPUT_BUFFER", 262144),
		WASMCallBudget:          getEnvDuration("FORGE_WASM_CALL_BUDGET", 10*time.Second),
		HTTPReadTimeout:         getEnvDuration("FORGE_HTTP_READ_TIMEOUT", 15*time.Second),
		HTTPIdleTimeout:         getEnvDuration("FORGE_HTTP_IDLE_TIMEOUT", 2*time.Minute),
		AdminJWKSEndpoint:       getEnv("FORGE_ADMIN_JWKS_ENDPOINT", ""),
		AdminJWTIssuer:          getEnv("FORGE_ADMIN_JWT_ISSUER", ""),
		AdminJWTAudience:        getEnv("FORGE_ADMIN_JWT_AUDIENCE", ""),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		LogFormat:               getEnv("LOG_FORMAT", "json"),
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid FORGE_PORT: %d", cfg.Port)
	}
	if cfg.DevOverride {
		// Loud on purpose: capability-enforcement bypass must be
		// audit-logged, never silent.
		fmt.Fprintln(os.Stderr, "WARNING: FORGE_DEV_CAPABILITY_OVERRIDE=1 — capability enforcement is DISABLED")
	}
	if cfg.AdminJWKSEndpoint == "" {
		fmt.Fprintln(os.Stderr, "WARNING: FORGE_ADMIN_JWKS_ENDPOINT unset — admin WebSocket surface auth is DISABLED")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
