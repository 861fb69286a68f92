package manifest

import "testing"

func TestDefaults(t *testing.T) {
	m, err := Parse(`capabilities.process.spawn = ["git"]`)
	if err != nil {
		t.Fatal(err)
	}
	if m.Capabilities.UI.Tray {
		t.Fatal("ui.tray should default false")
	}
	if !m.Capabilities.UI.Windows || !m.Capabilities.UI.Menus || !m.Capabilities.UI.Dialogs {
		t.Fatal("other ui capabilities should default true")
	}
	if !m.Capabilities.Sys.Clipboard || !m.Capabilities.Sys.Notifications {
		t.Fatal("sys capabilities should default true")
	}
	if len(m.Capabilities.FS.Read) != 0 || len(m.Capabilities.FS.Write) != 0 {
		t.Fatal("fs should default deny (empty grant list)")
	}
	if len(m.Capabilities.Net.Fetch) != 0 {
		t.Fatal("net should default deny (empty grant list)")
	}
}

func TestExplicitOverridesDefault(t *testing.T) {
	m, err := Parse(`
capabilities.fs.read = ["./data/**"]
capabilities.fs.write = ["./data/**"]
capabilities.net.fetch = ["https://api.example.com/**"]
capabilities.ui.tray = true
capabilities.sys.clipboard = false
`)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Capabilities.FS.Read) != 1 || m.Capabilities.FS.Read[0] != "./data/**" {
		t.Fatalf("got %v", m.Capabilities.FS.Read)
	}
	if !m.Capabilities.UI.Tray {
		t.Fatal("expected explicit tray=true to stick")
	}
	if m.Capabilities.Sys.Clipboard {
		t.Fatal("expected explicit clipboard=false to stick")
	}
}

func TestProcessAndChannelGrants(t *testing.T) {
	m, err := Parse(`
capabilities.process.spawn = ["git", "node"]
capabilities.channels.allowed = ["app://*", "plugin://**"]
`)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Capabilities.Process.Spawn) != 2 {
		t.Fatalf("got %v", m.Capabilities.Process.Spawn)
	}
	if len(m.Capabilities.Channels.Allowed) != 2 {
		t.Fatalf("got %v", m.Capabilities.Channels.Allowed)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/manifest.app.toml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
