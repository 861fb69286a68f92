package capability

import (
	"log/slog"
	"testing"

	"github.com/layerdynamics/forge-runtime/internal/manifest"
	"github.com/layerdynamics/forge-runtime/internal/oprt"
)

func testPolicy(t *testing.T, toml string, devOverride bool) *Policy {
	t.Helper()
	m, err := manifest.Parse(toml)
	if err != nil {
		t.Fatalf("manifest.Parse: %v", err)
	}
	p, err := New(m, devOverride, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestCheckFSReadGrantedWithinGlob(t *testing.T) {
	p := testPolicy(t, `
[capabilities.fs]
read = ["/tmp/app-data/**"]
`, false)

	if err := p.Check(KindFSRead, "/tmp/app-data/notes.txt"); err != nil {
		t.Errorf("Check: want granted, got %v", err)
	}
}

func TestCheckFSReadDeniedOutsideGlob(t *testing.T) {
	p := testPolicy(t, `
[capabilities.fs]
read = ["/tmp/app-data/**"]
`, false)

	if err := p.Check(KindFSRead, "/etc/passwd"); err == nil {
		t.Error("Check: want denied, got nil error")
	} else if err.Kind != "PermissionDenied" {
		t.Errorf("err.Kind = %q, want PermissionDenied", err.Kind)
	}
}

func TestCheckFSReadDeniedOnMissingPathArg(t *testing.T) {
	p := testPolicy(t, `
[capabilities.fs]
read = ["/tmp/**"]
`, false)

	if err := p.Check(KindFSRead, 123); err == nil {
		t.Error("Check with non-string arg: want denied, got nil")
	}
}

func TestCheckNetFetchURLGlob(t *testing.T) {
	p := testPolicy(t, `
[capabilities.net]
fetch = ["https://api.example.com/**"]
`, false)

	if err := p.Check(KindNetFetch, "https://api.example.com/v1/users"); err != nil {
		t.Errorf("Check granted url: %v", err)
	}
	if err := p.Check(KindNetFetch, "https://evil.example.org/x"); err == nil {
		t.Error("Check ungranted url: want denied, got nil")
	}
}

func TestCheckProcessSpawnAllowlist(t *testing.T) {
	p := testPolicy(t, `
[capabilities.process]
spawn = ["git", "node"]
`, false)

	if err := p.Check(KindProcessSpawn, "git"); err != nil {
		t.Errorf("Check git: %v", err)
	}
	if err := p.Check(KindProcessSpawn, "rm"); err == nil {
		t.Error("Check rm: want denied, got nil")
	}
}

func TestCheckBooleanFeatureFlags(t *testing.T) {
	p := testPolicy(t, `
[capabilities.ui]
tray = true
`, false)

	if err := p.Check(KindUITray, nil); err != nil {
		t.Errorf("Check ui.tray (granted): %v", err)
	}
	// ui.windows/menus/dialogs default true per defaults(), tray defaults false.
	if err := p.Check(KindUIWindows, nil); err != nil {
		t.Errorf("Check ui.windows default-true: %v", err)
	}
}

func TestCheckUnknownKindIsDenied(t *testing.T) {
	p := testPolicy(t, ``, false)
	if err := p.Check("not.a.real.kind", nil); err == nil {
		t.Error("Check unknown kind: want denied, got nil")
	}
}

func TestDevOverrideBypassesEveryCheck(t *testing.T) {
	p := testPolicy(t, ``, true)
	if err := p.Check(KindFSRead, "/etc/shadow"); err != nil {
		t.Errorf("Check under dev override: want nil, got %v", err)
	}
	if err := p.Check(KindProcessSpawn, "rm"); err != nil {
		t.Errorf("Check spawn under dev override: want nil, got %v", err)
	}
}

func TestSnapshotReflectsGrantsAndNeverMutates(t *testing.T) {
	p := testPolicy(t, `
[capabilities.fs]
read = ["/tmp/**"]
write = ["/tmp/out/**"]

[capabilities.net]
fetch = ["https://api.example.com/**"]

[capabilities.process]
spawn = ["git"]

[capabilities.ui]
tray = true
`, false)

	snap := p.Snapshot()

	if snap["dev_override"] != false {
		t.Errorf("dev_override = %v, want false", snap["dev_override"])
	}

	ui, ok := snap["ui"].(oprt.Struct)
	if !ok {
		t.Fatalf("snap[ui] = %T", snap["ui"])
	}
	if ui["tray"] != true {
		t.Errorf("ui.tray = %v, want true", ui["tray"])
	}

	// A second Snapshot call must not reflect any mutation from reading
	// the first — Snapshot builds a fresh map on every call.
	snap2 := p.Snapshot()
	proc, ok := snap2["process"].(oprt.Struct)
	if !ok {
		t.Fatalf("snap2[process] = %T", snap2["process"])
	}
	spawn, ok := proc["spawn"].([]string)
	if !ok || len(spawn) != 1 || spawn[0] != "git" {
		t.Errorf("process.spawn = %v, want [git]", proc["spawn"])
	}

	if err := p.Check(KindFSRead, "/tmp/x"); err != nil {
		t.Errorf("Check after Snapshot: %v", err)
	}
}

func TestNormalizePathCollapsesDotDotAndTilde(t *testing.T) {
	got, err := NormalizePath("~")
	if err != nil {
		t.Fatalf("NormalizePath(~): %v", err)
	}
	if got == "~" {
		t.Error("NormalizePath did not resolve ~")
	}

	got2, err := NormalizePath("/tmp/a/../b")
	if err != nil {
		t.Fatalf("NormalizePath: %v", err)
	}
	if got2 != "/tmp/b" {
		t.Errorf("NormalizePath(/tmp/a/../b) = %q, want /tmp/b", got2)
	}
}
