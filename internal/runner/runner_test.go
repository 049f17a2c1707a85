// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecProcessManager_Run(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test commands assume a unix shell environment")
	}
	pm := NewExecProcessManager()

	t.Run("captures stdout", func(t *testing.T) {
		out, err := pm.Run(context.Background(), "echo", "hello")
		require.NoError(t, err)
		assert.Equal(t, "hello\n", string(out))
	})

	t.Run("failure includes stderr", func(t *testing.T) {
		_, err := pm.Run(context.Background(), "sh", "-c", "echo broken >&2; exit 3")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken")
	})

	t.Run("missing binary", func(t *testing.T) {
		_, err := pm.Run(context.Background(), "definitely-not-a-binary-xyz")
		assert.Error(t, err)
	})

	t.Run("cancelled context kills the command", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := pm.Run(ctx, "sleep", "10")
		assert.Error(t, err)
	})
}

func TestExecProcessManager_RunIn(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test commands assume a unix shell environment")
	}
	dir := t.TempDir()
	pm := NewExecProcessManager()

	out, err := pm.RunIn(context.Background(), dir, "pwd")
	require.NoError(t, err)
	assert.Contains(t, string(out), dir)
}

func TestMockProcessManager(t *testing.T) {
	t.Run("records calls", func(t *testing.T) {
		mock := &MockProcessManager{
			RunFunc: func(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
				return []byte("ok"), nil
			},
		}

		_, err := mock.Run(context.Background(), "uv", "sync")
		require.NoError(t, err)
		_, err = mock.RunIn(context.Background(), "/target", "uv", "sync")
		require.NoError(t, err)

		calls := mock.GetCalls()
		require.Len(t, calls, 2)
		assert.Equal(t, "Run", calls[0].Method)
		assert.Equal(t, "RunIn", calls[1].Method)
		assert.Equal(t, "/target", calls[1].Dir)
	})

	t.Run("propagates configured errors", func(t *testing.T) {
		boom := errors.New("network down")
		mock := &MockProcessManager{
			RunFunc: func(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
				return nil, boom
			},
		}
		_, err := mock.Run(context.Background(), "pip", "install")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("default LookPath resolves everything", func(t *testing.T) {
		mock := &MockProcessManager{}
		path, err := mock.LookPath("python3")
		require.NoError(t, err)
		assert.Equal(t, "/usr/bin/python3", path)
	})
}
