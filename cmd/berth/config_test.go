// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsWhenMissing(t *testing.T) {
	loaded, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), loaded)
}

func TestLoadConfigExplicitMissingFails(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), true)
	assert.Error(t, err)
}

func TestLoadConfigParsesValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
target_dir: /opt/berth
log_level: debug
min_free_mb: 250
step_timeout_seconds: 120
backup_keep: 3
personality: minimal
client_config_paths:
  cursor: /custom/mcp.json
`), 0o644))

	loaded, err := LoadConfig(path, true)
	require.NoError(t, err)
	assert.Equal(t, "/opt/berth", loaded.TargetDir)
	assert.Equal(t, "debug", loaded.LogLevel)
	assert.Equal(t, int64(250), loaded.MinFreeMB)
	assert.Equal(t, 120, loaded.StepTimeoutSeconds)
	assert.Equal(t, 3, loaded.BackupKeep)
	assert.Equal(t, "minimal", loaded.Personality)
	assert.Equal(t, "/custom/mcp.json", loaded.ClientConfigPaths["cursor"])
	// Unset fields keep their defaults.
	assert.Equal(t, DefaultConfig().LockDir, loaded.LockDir)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad personality", "personality: sarcastic\n"},
		{"bad log level", "log_level: shouty\n"},
		{"negative floor", "min_free_mb: -5\n"},
		{"not yaml", "{{{{\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))
			_, err := LoadConfig(path, true)
			assert.Error(t, err)
		})
	}
}

func TestDefaultConfigPathHonorsXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "berth", "config.yaml"), DefaultConfigPath())
}
