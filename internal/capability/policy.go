// Package capability implements the Capability Policy (CP): the
// yes/no answer for every gated op, loaded once from the application
// manifest and checked many times, pure and side-effect-free.
//
// It follows the same load-once/check-many structure as
// internal/config.Config and internal/auth.JWTValidator; the glob
// matching itself uses github.com/gobwas/glob, the glob library several
// example repos reach for (jordigilh-kubernaut, wudi-gateway,
// goadesign-goa-ai, among others).
package capability

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"github.com/layerdynamics/forge-runtime/internal/manifest"
	"github.com/layerdynamics/forge-runtime/internal/oprt"
)

// Kind of capability, one per gated op family.
const (
	KindFSRead           = "fs.read"
	KindFSWrite          = "fs.write"
	KindNetFetch         = "net.fetch"
	KindSysClipboard     = "sys.clipboard"
	KindSysNotifications = "sys.notifications"
	KindProcessSpawn     = "process.spawn"
	KindUITray           = "ui.tray"
	KindUIWindows        = "ui.windows"
	KindUIMenus          = "ui.menus"
	KindUIDialogs        = "ui.dialogs"
	KindWASMLoad         = "wasm.load"
	KindWASMExecute      = "wasm.execute"
	KindChannels         = "channels"
)

type globGrant struct {
	raw     string
	pattern glob.Glob
}

// Policy is the in-memory, immutable-after-init capability policy.
type Policy struct {
	fsRead   []globGrant
	fsWrite  []globGrant
	netFetch []globGrant
	channels []globGrant
	spawn    map[string]bool

	clipboard     bool
	notifications bool
	uiTray        bool
	uiWindows     bool
	uiMenus       bool
	uiDialogs     bool
	wasmLoad      bool
	wasmExecute   bool

	// devOverride disables enforcement entirely when set. Never the
	// default; audit-logged on every check while active.
	devOverride bool
	logger      *slog.Logger
	auditOnce   sync.Once
}

// New builds a Policy from a parsed manifest. devOverride must be set
// explicitly by the embedder (e.g. from a CLI flag or env var); it is
// never derived from the manifest itself.
func New(m *manifest.Manifest, devOverride bool, logger *slog.Logger) (*Policy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Policy{
		clipboard:     m.Capabilities.Sys.Clipboard,
		notifications: m.Capabilities.Sys.Notifications,
		uiTray:        m.Capabilities.UI.Tray,
		uiWindows:     m.Capabilities.UI.Windows,
		uiMenus:       m.Capabilities.UI.Menus,
		uiDialogs:     m.Capabilities.UI.Dialogs,
		wasmLoad:      m.Capabilities.WASM.Load,
		wasmExecute:   m.Capabilities.WASM.Execute,
		devOverride:   devOverride,
		logger:        logger,
		spawn:         make(map[string]bool, len(m.Capabilities.Process.Spawn)),
	}

	var err error
	if p.fsRead, err = compilePathGlobs(m.Capabilities.FS.Read); err != nil {
		return nil, fmt.Errorf("capabilities.fs.read: %w", err)
	}
	if p.fsWrite, err = compilePathGlobs(m.Capabilities.FS.Write); err != nil {
		return nil, fmt.Errorf("capabilities.fs.write: %w", err)
	}
	if p.netFetch, err = compileGlobs(m.Capabilities.Net.Fetch); err != nil {
		return nil, fmt.Errorf("capabilities.net.fetch: %w", err)
	}
	if p.channels, err = compileGlobs(m.Capabilities.Channels.Allowed); err != nil {
		return nil, fmt.Errorf("capabilities.channels.allowed: %w", err)
	}
	for _, bin := range m.Capabilities.Process.Spawn {
		p.spawn[bin] = true
	}

	if devOverride {
		logger.Warn("capability enforcement disabled by development override; this must never be used in production")
	}

	return p, nil
}

// compileGlobs compiles URL and channel-pattern grants as-is, with no
// normalization. Path-shaped grants go through compilePathGlobs, which
// normalizes them with NormalizePath first.
func compileGlobs(patterns []string) ([]globGrant, error) {
	grants := make([]globGrant, 0, len(patterns))
	for _, raw := range patterns {
		g, err := glob.Compile(raw, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", raw, err)
		}
		grants = append(grants, globGrant{raw: raw, pattern: g})
	}
	return grants, nil
}

// compilePathGlobs is compileGlobs for fs.read/fs.write grant lists,
// which are resolved to absolute form at load time so matching happens
// in the same normalized space NormalizePath produces for candidates.
func compilePathGlobs(patterns []string) ([]globGrant, error) {
	grants := make([]globGrant, 0, len(patterns))
	for _, raw := range patterns {
		normalized, err := NormalizePath(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid path glob %q: %w", raw, err)
		}
		g, err := glob.Compile(normalized, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", raw, err)
		}
		grants = append(grants, globGrant{raw: raw, pattern: g})
	}
	return grants, nil
}

// Check answers permit(capability, argument). For path/URL kinds, arg
// must be a string; paths are normalized with NormalizePath before
// matching, URLs are matched as given. For boolean feature-flag kinds,
// arg is ignored.
func (p *Policy) Check(kind string, arg oprt.Value) *oprt.Error {
	if p.devOverride {
		p.logger.Warn("capability check bypassed by development override", "kind", kind)
		return nil
	}

	switch kind {
	case KindFSRead:
		return p.checkPathGlob(p.fsRead, arg, "fs.read")
	case KindFSWrite:
		return p.checkPathGlob(p.fsWrite, arg, "fs.write")
	case KindNetFetch:
		return p.checkURLGlob(p.netFetch, arg)
	case KindChannels:
		return p.checkChannelGlob(p.channels, arg)
	case KindProcessSpawn:
		return p.checkSpawn(arg)
	case KindSysClipboard:
		return boolCheck(p.clipboard, kind)
	case KindSysNotifications:
		return boolCheck(p.notifications, kind)
	case KindUITray:
		return boolCheck(p.uiTray, kind)
	case KindUIWindows:
		return boolCheck(p.uiWindows, kind)
	case KindUIMenus:
		return boolCheck(p.uiMenus, kind)
	case KindUIDialogs:
		return boolCheck(p.uiDialogs, kind)
	case KindWASMLoad:
		return boolCheck(p.wasmLoad, kind)
	case KindWASMExecute:
		return boolCheck(p.wasmExecute, kind)
	default:
		return oprt.New(oprt.ErrWebViewPermissionDenied, "unknown capability kind: "+kind)
	}
}

func boolCheck(allowed bool, kind string) *oprt.Error {
	if allowed {
		return nil
	}
	return oprt.New(oprt.ErrWebViewPermissionDenied, "capability not granted: "+kind)
}

func (p *Policy) checkPathGlob(grants []globGrant, arg oprt.Value, kind string) *oprt.Error {
	raw, ok := arg.(string)
	if !ok {
		return oprt.New(oprt.ErrFSPermissionDenied, "missing path argument for "+kind)
	}
	normalized, err := NormalizePath(raw)
	if err != nil {
		return oprt.New(oprt.ErrFSPermissionDenied, "invalid path: "+err.Error())
	}
	for _, g := range grants {
		if g.pattern.Match(normalized) {
			return nil
		}
	}
	return oprt.New(oprt.ErrFSPermissionDenied, fmt.Sprintf("path %q not granted by any %s glob", raw, kind))
}

func (p *Policy) checkURLGlob(grants []globGrant, arg oprt.Value) *oprt.Error {
	raw, ok := arg.(string)
	if !ok {
		return oprt.New(oprt.ErrWebViewPermissionDenied, "missing url argument for net.fetch")
	}
	for _, g := range grants {
		if g.pattern.Match(raw) {
			return nil
		}
	}
	return oprt.New(oprt.ErrWebViewPermissionDenied, fmt.Sprintf("url %q not granted by any net.fetch glob", raw))
}

func (p *Policy) checkChannelGlob(grants []globGrant, arg oprt.Value) *oprt.Error {
	raw, ok := arg.(string)
	if !ok {
		return oprt.New(oprt.ErrWebViewPermissionDenied, "missing channel argument")
	}
	for _, g := range grants {
		if g.pattern.Match(raw) {
			return nil
		}
	}
	return oprt.New(oprt.ErrWebViewPermissionDenied, fmt.Sprintf("channel %q not permitted", raw))
}

func (p *Policy) checkSpawn(arg oprt.Value) *oprt.Error {
	bin, ok := arg.(string)
	if !ok {
		return oprt.New(oprt.ErrWebViewPermissionDenied, "missing binary argument for process.spawn")
	}
	if p.spawn[bin] {
		return nil
	}
	return oprt.New(oprt.ErrWebViewPermissionDenied, fmt.Sprintf("binary %q not permitted to spawn", bin))
}

func grantList(grants []globGrant) []string {
	out := make([]string, len(grants))
	for i, g := range grants {
		out[i] = g.raw
	}
	return out
}

// Snapshot reports the active grant set, for the read-only
// runtime.capabilities introspection op. It never mutates the policy and
// is safe to call from any goroutine.
func (p *Policy) Snapshot() oprt.Struct {
	spawn := make([]string, 0, len(p.spawn))
	for bin := range p.spawn {
		spawn = append(spawn, bin)
	}
	return oprt.Struct{
		"fs": oprt.Struct{
			"read":  grantList(p.fsRead),
			"write": grantList(p.fsWrite),
		},
		"net": oprt.Struct{"fetch": grantList(p.netFetch)},
		"sys": oprt.Struct{
			"clipboard":     p.clipboard,
			"notifications": p.notifications,
		},
		"process":  oprt.Struct{"spawn": spawn},
		"channels": oprt.Struct{"allowed": grantList(p.channels)},
		"ui": oprt.Struct{
			"windows": p.uiWindows,
			"menus":   p.uiMenus,
			"dialogs": p.uiDialogs,
			"tray":    p.uiTray,
		},
		"wasm": oprt.Struct{
			"load":    p.wasmLoad,
			"execute": p.wasmExecute,
		},
		"dev_override": p.devOverride,
	}
}

// NormalizePath resolves ~ to the current user's home directory,
// collapses ".." segments, and converts the result to an absolute path,
// so grant globs and candidate paths always compare in the same space
// and "../" can't escape a granted subtree.
func NormalizePath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve ~: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}
