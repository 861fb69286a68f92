// Command forge-runtime hosts the capability-gated native extension
// runtime: it loads configuration and the application manifest, builds
// the Capability Policy and Resource Table, wires every service's ops
// into the Op Dispatcher, and serves the admin WebSocket surface until
// a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/layerdynamics/forge-runtime/internal/auth"
	"github.com/layerdynamics/forge-runtime/internal/capability"
	"github.com/layerdynamics/forge-runtime/internal/config"
	"github.com/layerdynamics/forge-runtime/internal/crypto"
	"github.com/layerdynamics/forge-runtime/internal/debugger"
	"github.com/layerdynamics/forge-runtime/internal/fs"
	"github.com/layerdynamics/forge-runtime/internal/manifest"
	"github.com/layerdynamics/forge-runtime/internal/network"
	"github.com/layerdynamics/forge-runtime/internal/oprt"
	"github.com/layerdynamics/forge-runtime/internal/process"
	"github.com/layerdynamics/forge-runtime/internal/resource"
	"github.com/layerdynamics/forge-runtime/internal/runtimeinfo"
	"github.com/layerdynamics/forge-runtime/internal/server"
	"github.com/layerdynamics/forge-runtime/internal/storage"
	"github.com/layerdynamics/forge-runtime/internal/wasm"
)

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func mergeCapArgs(dst map[string]oprt.CapArgFunc, src map[string]oprt.CapArgFunc) {
	for k, v := range src {
		dst[k] = v
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	m, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	policy, err := capability.New(m, cfg.DevOverride, logger)
	if err != nil {
		return fmt.Errorf("build capability policy: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := storage.Open(cfg.DataDir + "/storage.db")
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	table := resource.NewTable()

	fsSvc := fs.NewService(table)
	netSvc := network.NewService(network.Config{Timeout: cfg.FetchTimeout})
	procSvc := process.NewService(table)
	crySvc := crypto.NewService()
	wasmSvc := wasm.NewService(table, cfg.WASMCallBudget)
	storageSvc := storage.NewService(store, cfg.AppID)

	debugSession := debugger.NewSession(debugger.Config{
		URL:                cfg.DebuggerURL,
		ConnectTimeout:     cfg.DebuggerConnectTimeout,
		RequestTimeout:     cfg.DebuggerRequestTimeout,
		ReceiverQueueDepth: cfg.DebuggerReceiverQueue,
	}, logger)
	debugSvc := debugger.NewService(debugSession, table)

	registry := oprt.NewRegistry()
	capArgs := map[string]oprt.CapArgFunc{}
	mergeCapArgs(capArgs, fs.RegisterOps(registry, fsSvc))
	mergeCapArgs(capArgs, network.RegisterOps(registry, netSvc))
	mergeCapArgs(capArgs, process.RegisterOps(registry, procSvc))
	mergeCapArgs(capArgs, crypto.RegisterOps(registry, crySvc))
	mergeCapArgs(capArgs, storage.RegisterOps(registry, storageSvc))
	mergeCapArgs(capArgs, wasm.RegisterOps(registry, wasmSvc))
	mergeCapArgs(capArgs, debugger.RegisterOps(registry, debugSvc))
	runtimeinfo.RegisterOps(registry, policy)

	dispatcher := oprt.NewDispatcher(registry, policy, capArgs, logger)

	var validator *auth.JWTValidator
	if cfg.AdminJWKSEndpoint != "" {
		validator, err = auth.NewJWTValidator(cfg.AdminJWKSEndpoint, cfg.AppID, cfg.AdminJWTIssuer, cfg.AdminJWTAudience)
		if err != nil {
			return fmt.Errorf("build admin JWT validator: %w", err)
		}
		defer validator.Close()
	}

	srv := server.New(cfg, dispatcher, validator, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	}

	_ = debugSession.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("error during shutdown", "error", err)
	}

	logger.Info("forge-runtime stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
