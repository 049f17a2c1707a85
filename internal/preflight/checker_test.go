// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package preflight

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckWritable(t *testing.T) {
	checker := NewChecker()

	t.Run("writable directory passes", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, checker.CheckWritable(dir))

		// Probe must not survive the check.
		_, err := os.Stat(filepath.Join(dir, probeName))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("read-only directory fails with structured error", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("mode bits do not restrict writes on windows")
		}
		if os.Geteuid() == 0 {
			t.Skip("root bypasses mode bits")
		}
		dir := t.TempDir()
		require.NoError(t, os.Chmod(dir, 0o555))
		t.Cleanup(func() { os.Chmod(dir, 0o755) })

		err := checker.CheckWritable(dir)
		require.Error(t, err)

		var ce *CheckError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, CheckErrorTargetNotWritable, ce.Type)
		assert.NotEmpty(t, ce.Remediation)
	})

	t.Run("missing directory fails", func(t *testing.T) {
		err := checker.CheckWritable(filepath.Join(t.TempDir(), "absent"))
		assert.Error(t, err)
	})
}

func TestCheckFreeSpace(t *testing.T) {
	checker := NewChecker()

	t.Run("trivial floor passes", func(t *testing.T) {
		assert.NoError(t, checker.CheckFreeSpace(t.TempDir(), 1))
	})

	t.Run("impossible floor fails", func(t *testing.T) {
		// No test host has an exabyte free.
		err := checker.CheckFreeSpace(t.TempDir(), 1<<40)
		require.Error(t, err)

		var ce *CheckError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, CheckErrorDiskSpaceLow, ce.Type)
	})

	t.Run("nonexistent path uses nearest ancestor", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "not", "yet", "created")
		assert.NoError(t, checker.CheckFreeSpace(path, 1))
	})
}

func TestDetectShellProfile(t *testing.T) {
	home := "/home/tester"

	tests := []struct {
		shellEnv    string
		wantShell   string
		wantProfile string
	}{
		{"/bin/zsh", "zsh", filepath.Join(home, ".zshrc")},
		{"/usr/bin/bash", "bash", filepath.Join(home, ".bashrc")},
		{"/usr/bin/fish", "fish", filepath.Join(home, ".config", "fish", "config.fish")},
		{"/bin/dash", "dash", filepath.Join(home, ".bashrc")},
		{"", "", filepath.Join(home, ".bashrc")},
	}

	for _, tt := range tests {
		t.Run("SHELL="+tt.shellEnv, func(t *testing.T) {
			t.Setenv("SHELL", tt.shellEnv)
			shell, profile := DetectShellProfile(home)
			assert.Equal(t, tt.wantShell, shell)
			assert.Equal(t, tt.wantProfile, profile)
		})
	}
}

func TestFacts(t *testing.T) {
	checker := NewChecker()
	facts := checker.Facts(t.TempDir())

	assert.Equal(t, runtime.GOOS, facts.OS)
	assert.NotEmpty(t, facts.Home)
	assert.Greater(t, facts.FreeBytes, uint64(0))
}

func TestCheckErrorFullError(t *testing.T) {
	ce := &CheckError{
		Type:        CheckErrorDiskSpaceLow,
		Message:     "insufficient disk space",
		Detail:      "42 MB available",
		Remediation: "Free up disk space and retry.",
	}
	full := ce.FullError()
	assert.Contains(t, full, "insufficient disk space")
	assert.Contains(t, full, "Details:")
	assert.Contains(t, full, "To fix:")
	assert.Equal(t, "DISK_SPACE_LOW", ce.Type.String())
}
