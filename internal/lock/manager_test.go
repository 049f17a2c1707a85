// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{
		Dir:       filepath.Join(t.TempDir(), "locks"),
		SessionID: "test-session",
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestAcquireRelease(t *testing.T) {
	m := newTestManager(t)
	target := filepath.Join(t.TempDir(), "settings.json")

	require.NoError(t, m.Acquire(target, "testing"))

	holder, err := m.Holder(target)
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, os.Getpid(), holder.PID)
	assert.Equal(t, "test-session", holder.SessionID)
	assert.Equal(t, "testing", holder.Reason)

	require.NoError(t, m.Release(target))

	holder, err = m.Holder(target)
	require.NoError(t, err)
	assert.Nil(t, holder)
}

func TestAcquireIsReentrantWithinSession(t *testing.T) {
	m := newTestManager(t)
	target := filepath.Join(t.TempDir(), "f")

	require.NoError(t, m.Acquire(target, "first"))
	require.NoError(t, m.Acquire(target, "second"))

	holder, err := m.Holder(target)
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "second", holder.Reason)
}

func TestAcquireConflict(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks")
	target := filepath.Join(t.TempDir(), "f")

	m1, err := NewManager(ManagerConfig{Dir: dir, SessionID: "one"})
	require.NoError(t, err)
	t.Cleanup(m1.Close)
	m2, err := NewManager(ManagerConfig{Dir: dir, SessionID: "two"})
	require.NoError(t, err)
	t.Cleanup(m2.Close)

	require.NoError(t, m1.Acquire(target, "holding"))

	err = m2.Acquire(target, "wanting")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)

	var le *LockError
	require.ErrorAs(t, err, &le)
	require.NotNil(t, le.Holder)
	assert.Equal(t, "one", le.Holder.SessionID)

	// Released locks become acquirable.
	require.NoError(t, m1.Release(target))
	assert.NoError(t, m2.Acquire(target, "wanting"))
}

func TestStaleLockIsReclaimed(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks")
	target := filepath.Join(t.TempDir(), "f")

	m, err := NewManager(ManagerConfig{Dir: dir, SessionID: "live"})
	require.NoError(t, err)
	t.Cleanup(m.Close)

	// Forge a lock file from a long-dead PID with an expired TTL.
	stale := LockInfo{
		FilePath:  target,
		PID:       99999999,
		SessionID: "dead",
		LockedAt:  time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(m.lockPath(target), data, 0o644))

	assert.NoError(t, m.Acquire(target, "reclaiming"))
}

func TestCleanupStale(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks")
	m, err := NewManager(ManagerConfig{Dir: dir, SessionID: "live"})
	require.NoError(t, err)
	t.Cleanup(m.Close)

	stale := LockInfo{
		FilePath:  "/some/file",
		PID:       99999999,
		SessionID: "dead",
		LockedAt:  time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dead.lock"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "garbage.lock"), []byte("not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("keep"), 0o644))

	cleaned, err := m.CleanupStale()
	require.NoError(t, err)
	assert.Equal(t, 2, cleaned)

	_, err = os.Stat(filepath.Join(dir, "unrelated.txt"))
	assert.NoError(t, err)
}

func TestReleaseAll(t *testing.T) {
	m := newTestManager(t)
	base := t.TempDir()

	require.NoError(t, m.Acquire(filepath.Join(base, "a"), ""))
	require.NoError(t, m.Acquire(filepath.Join(base, "b"), ""))

	m.ReleaseAll()

	for _, name := range []string{"a", "b"} {
		holder, err := m.Holder(filepath.Join(base, name))
		require.NoError(t, err)
		assert.Nil(t, holder)
	}
}

func TestWatchSeesExternalWrites(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()
	target := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(target, []byte("{}"), 0o644))

	changed := make(chan string, 4)
	require.NoError(t, m.Watch(target, func(path string) {
		changed <- path
	}))

	require.NoError(t, os.WriteFile(target, []byte(`{"touched":true}`), 0o644))

	select {
	case path := <-changed:
		assert.Equal(t, target, path)
	case <-time.After(3 * time.Second):
		t.Fatal("external write was not observed")
	}
}
