// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package clients knows where MCP client applications keep their
// configuration documents on each platform.
//
// The registry is a static table of well-known locations keyed by
// client name, with per-client overrides for hosts that relocate their
// config (portable installs, XDG redirects). Overrides win over the
// table unconditionally.
package clients

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
)

// Known client names.
const (
	Claude = "claude"
	Cursor = "cursor"
	Codex  = "codex"
	VSCode = "vscode"
)

// Client describes one MCP client application.
type Client struct {
	// Name is the registry key ("claude", "cursor", ...).
	Name string `json:"name"`

	// DisplayName is the human-facing product name.
	DisplayName string `json:"display_name"`

	// ConfigPath is the absolute path to the client's config document.
	ConfigPath string `json:"config_path"`
}

// Registry resolves client names to config document locations.
type Registry struct {
	home      string
	goos      string
	overrides map[string]string
}

// NewRegistry creates a registry for the current platform. overrides
// maps client names to replacement config paths and may be nil.
func NewRegistry(home string, overrides map[string]string) *Registry {
	return &Registry{home: home, goos: runtime.GOOS, overrides: overrides}
}

// newRegistryForOS exists so tests can exercise other platforms' path
// tables.
func newRegistryForOS(home, goos string, overrides map[string]string) *Registry {
	return &Registry{home: home, goos: goos, overrides: overrides}
}

// Names returns every known client name, sorted.
func Names() []string {
	names := []string{Claude, Cursor, Codex, VSCode}
	sort.Strings(names)
	return names
}

// Lookup resolves a client by name.
func (r *Registry) Lookup(name string) (Client, error) {
	if path, ok := r.overrides[name]; ok {
		return Client{Name: name, DisplayName: displayName(name), ConfigPath: path}, nil
	}

	var path string
	switch name {
	case Claude:
		path = r.claudePath()
	case Cursor:
		path = filepath.Join(r.home, ".cursor", "mcp.json")
	case Codex:
		path = filepath.Join(r.home, ".codex", "config.json")
	case VSCode:
		path = r.vscodePath()
	default:
		return Client{}, fmt.Errorf("unknown client %q (known: %v)", name, Names())
	}
	return Client{Name: name, DisplayName: displayName(name), ConfigPath: path}, nil
}

// All resolves every known client.
func (r *Registry) All() []Client {
	out := make([]Client, 0, len(Names()))
	for _, name := range Names() {
		c, err := r.Lookup(name)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (r *Registry) claudePath() string {
	switch r.goos {
	case "darwin":
		return filepath.Join(r.home, "Library", "Application Support", "Claude", "claude_desktop_config.json")
	case "windows":
		return filepath.Join(r.home, "AppData", "Roaming", "Claude", "claude_desktop_config.json")
	default:
		return filepath.Join(r.home, ".config", "Claude", "claude_desktop_config.json")
	}
}

func (r *Registry) vscodePath() string {
	switch r.goos {
	case "darwin":
		return filepath.Join(r.home, "Library", "Application Support", "Code", "User", "mcp.json")
	case "windows":
		return filepath.Join(r.home, "AppData", "Roaming", "Code", "User", "mcp.json")
	default:
		return filepath.Join(r.home, ".config", "Code", "User", "mcp.json")
	}
}

func displayName(name string) string {
	switch name {
	case Claude:
		return "Claude Desktop"
	case Cursor:
		return "Cursor"
	case Codex:
		return "Codex CLI"
	case VSCode:
		return "Visual Studio Code"
	default:
		return name
	}
}
