// Package manifest parses manifest.app.toml, the capability-grant file:
// per-kind grant lists (globs for path/URL kinds, booleans for feature
// flags, string lists for allowed process binaries and IPC channel
// patterns).
//
// Uses github.com/BurntSushi/toml, the TOML library used by
// teranos-QNTX — the manifest file here is explicitly TOML.
package manifest

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Capabilities mirrors the manifest's capability-grant TOML keys.
type Capabilities struct {
	FS struct {
		Read  []string `toml:"read"`
		Write []string `toml:"write"`
	} `toml:"fs"`

	Net struct {
		Fetch []string `toml:"fetch"`
	} `toml:"net"`

	Sys struct {
		Clipboard     bool `toml:"clipboard"`
		Notifications bool `toml:"notifications"`
	} `toml:"sys"`

	Process struct {
		Spawn []string `toml:"spawn"`
	} `toml:"process"`

	Channels struct {
		Allowed []string `toml:"allowed"`
	} `toml:"channels"`

	UI struct {
		Windows bool `toml:"windows"`
		Menus   bool `toml:"menus"`
		Dialogs bool `toml:"dialogs"`
		Tray    bool `toml:"tray"`
	} `toml:"ui"`

	WASM struct {
		Load    bool `toml:"load"`
		Execute bool `toml:"execute"`
	} `toml:"wasm"`
}

// Manifest is the top-level manifest.app.toml document.
type Manifest struct {
	Capabilities Capabilities `toml:"capabilities"`
}

// defaults applies the manifest's default grant set: ui.tray defaults
// false, every other UI capability defaults true, fs/net default deny
// (empty glob lists, which is already the Go zero value).
func defaults() Manifest {
	var m Manifest
	m.Capabilities.UI.Windows = true
	m.Capabilities.UI.Menus = true
	m.Capabilities.UI.Dialogs = true
	m.Capabilities.UI.Tray = false
	m.Capabilities.Sys.Clipboard = true
	m.Capabilities.Sys.Notifications = true
	return m
}

// Load parses the manifest at path. Keys absent from the TOML document
// keep their mandated defaults: toml.Decode only overwrites keys present
// in the source, so starting from defaults() and decoding on top of it
// gives exactly that behavior.
func Load(path string) (*Manifest, error) {
	m := defaults()
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("load manifest %s: %w", path, err)
	}
	return &m, nil
}

// Parse decodes a manifest from an in-memory TOML document (used by
// tests and by embedders that construct the manifest programmatically).
func Parse(data string) (*Manifest, error) {
	m := defaults()
	if _, err := toml.Decode(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}
