// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock serializes install sessions that would otherwise race on
// the same documents.
//
// Locks are advisory: a sidecar lock file per guarded path is held via
// the platform locking primitive (flock on Unix, LockFileEx on
// Windows) and carries a JSON info payload (PID, session, expiry) for
// visibility and stale-lock cleanup. The guarded file itself is never
// locked directly: atomic replacement renames a new inode over it,
// which would silently detach any lock held on the old one.
//
// Locking is cooperative between runs of this tool only. Client
// applications do not take these locks; the watcher exists to at least
// notice when they write underneath us.
package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultTTL is how long a lock is honored after acquisition when the
// holding process can no longer be observed.
const DefaultTTL = time.Hour

// LockInfo is the JSON payload stored in a lock file.
type LockInfo struct {
	// FilePath is the guarded file.
	FilePath string `json:"file_path"`

	// PID is the process holding the lock.
	PID int `json:"pid"`

	// SessionID identifies the install session holding the lock.
	SessionID string `json:"session_id"`

	// LockedAt is when the lock was acquired.
	LockedAt time.Time `json:"locked_at"`

	// ExpiresAt is when the lock stops being honored even if the holder
	// cannot be probed.
	ExpiresAt time.Time `json:"expires_at"`

	// Reason is a human-readable explanation for debugging.
	Reason string `json:"reason,omitempty"`
}

// IsExpired reports whether the lock's TTL has lapsed.
func (i *LockInfo) IsExpired() bool {
	return time.Now().After(i.ExpiresAt)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Dir is where lock files live. Required.
	Dir string

	// SessionID identifies this session in lock payloads.
	SessionID string

	// TTL bounds how long locks are honored. Zero uses DefaultTTL.
	TTL time.Duration

	// CleanupOnInit removes stale locks from crashed processes when the
	// manager is created.
	CleanupOnInit bool
}

type lockEntry struct {
	file *os.File
	info *LockInfo
}

// Manager acquires and releases advisory locks for guarded paths.
//
// All methods are safe for concurrent use.
type Manager struct {
	dir       string
	sessionID string
	ttl       time.Duration
	locker    FileLocker
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*lockEntry

	watcherMu sync.Mutex
	watcher   *fsnotify.Watcher
	callbacks map[string][]func(string)
	done      chan struct{}
}

// NewManager creates a lock manager rooted at config.Dir.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("lock directory is required")
	}
	if config.TTL == 0 {
		config.TTL = DefaultTTL
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory %s: %w", config.Dir, err)
	}

	m := &Manager{
		dir:       config.Dir,
		sessionID: config.SessionID,
		ttl:       config.TTL,
		locker:    newFileLocker(),
		logger:    slog.Default(),
		locks:     make(map[string]*lockEntry),
		callbacks: make(map[string][]func(string)),
		done:      make(chan struct{}),
	}

	if config.CleanupOnInit {
		if cleaned, err := m.CleanupStale(); err != nil {
			m.logger.Warn("stale lock cleanup failed", "error", err)
		} else if cleaned > 0 {
			m.logger.Info("cleaned up stale locks", "count", cleaned)
		}
	}
	return m, nil
}

// Acquire takes an exclusive advisory lock guarding filePath.
// Non-blocking: if another live session holds the lock, a *LockError
// wrapping ErrLocked is returned, carrying the holder's info.
func (m *Manager) Acquire(filePath, reason string) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("resolving path %s: %w", filePath, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.locks[absPath]; ok {
		// Re-acquisition by the same session just refreshes the reason.
		entry.info.Reason = reason
		return nil
	}

	lockPath := m.lockPath(absPath)
	if existing, err := readLockInfo(lockPath); err == nil && existing != nil {
		if !existing.IsExpired() && IsProcessAlive(existing.PID) {
			return &LockError{Path: absPath, Holder: existing, Err: ErrLocked}
		}
		m.logger.Info("removing stale lock", "path", absPath, "old_pid", existing.PID)
		_ = os.Remove(lockPath)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("opening lock file %s: %w", lockPath, err)
	}
	if err := m.locker.Lock(f); err != nil {
		f.Close()
		if err == ErrLocked {
			return &LockError{Path: absPath, Err: ErrLocked}
		}
		return fmt.Errorf("locking %s: %w", absPath, err)
	}

	now := time.Now()
	info := &LockInfo{
		FilePath:  absPath,
		PID:       os.Getpid(),
		SessionID: m.sessionID,
		LockedAt:  now,
		ExpiresAt: now.Add(m.ttl),
		Reason:    reason,
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		m.locker.Unlock(f)
		f.Close()
		return fmt.Errorf("encoding lock info: %w", err)
	}
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt(data, 0)
		_ = f.Sync()
	}

	m.locks[absPath] = &lockEntry{file: f, info: info}
	m.logger.Debug("lock acquired", "path", absPath, "reason", reason)
	return nil
}

// Release drops the lock guarding filePath. Releasing a lock this
// session does not hold is a no-op.
func (m *Manager) Release(filePath string) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("resolving path %s: %w", filePath, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[absPath]
	if !ok {
		return nil
	}
	delete(m.locks, absPath)

	_ = m.locker.Unlock(entry.file)
	_ = entry.file.Close()
	if err := os.Remove(m.lockPath(absPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file for %s: %w", absPath, err)
	}
	m.logger.Debug("lock released", "path", absPath)
	return nil
}

// ReleaseAll drops every lock this session holds. Used on shutdown and
// after rollback.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	paths := make([]string, 0, len(m.locks))
	for path := range m.locks {
		paths = append(paths, path)
	}
	m.mu.Unlock()

	for _, path := range paths {
		if err := m.Release(path); err != nil {
			m.logger.Warn("releasing lock failed", "path", path, "error", err)
		}
	}
}

// Holder returns the live holder of the lock guarding filePath, or nil
// when the path is unlocked or the lock is stale.
func (m *Manager) Holder(filePath string) (*LockInfo, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, err
	}
	info, err := readLockInfo(m.lockPath(absPath))
	if err != nil || info == nil {
		return nil, nil
	}
	if info.IsExpired() || !IsProcessAlive(info.PID) {
		return nil, nil
	}
	return info, nil
}

// CleanupStale removes lock files whose holders are dead or expired,
// returning how many were removed.
func (m *Manager) CleanupStale() (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading lock directory: %w", err)
	}

	cleaned := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		lockPath := filepath.Join(m.dir, entry.Name())
		info, err := readLockInfo(lockPath)
		if err != nil || info == nil {
			// Unreadable lock files count as stale.
			if os.Remove(lockPath) == nil {
				cleaned++
			}
			continue
		}
		if info.IsExpired() || !IsProcessAlive(info.PID) {
			m.logger.Info("cleaning up stale lock",
				"path", info.FilePath,
				"pid", info.PID,
				"expired", info.IsExpired())
			if err := os.Remove(lockPath); err == nil {
				cleaned++
			}
		}
	}
	return cleaned, nil
}

// Watch invokes cb with the path whenever filePath is modified by
// anyone, including other processes. The first Watch call starts the
// watcher goroutine; Close stops it.
func (m *Manager) Watch(filePath string, cb func(path string)) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return err
	}

	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()

	if m.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("creating file watcher: %w", err)
		}
		m.watcher = w
		go m.watchLoop(w)
	}
	// Watch the directory: atomic renames replace the file's inode, and
	// a watch on the old inode would go quiet after the first write.
	if err := m.watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("watching %s: %w", absPath, err)
	}
	m.callbacks[absPath] = append(m.callbacks[absPath], cb)
	return nil
}

// Close releases all locks and stops the watcher.
func (m *Manager) Close() {
	m.ReleaseAll()

	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()
	if m.watcher != nil {
		close(m.done)
		_ = m.watcher.Close()
		m.watcher = nil
	}
}

func (m *Manager) watchLoop(w *fsnotify.Watcher) {
	for {
		select {
		case <-m.done:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			m.watcherMu.Lock()
			cbs := append([]func(string){}, m.callbacks[event.Name]...)
			m.watcherMu.Unlock()
			for _, cb := range cbs {
				cb(event.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.logger.Warn("file watcher error", "error", err)
		}
	}
}

// lockPath maps a guarded path to its sidecar lock file. Hashing keeps
// lock names flat and filesystem-safe regardless of the guarded path.
func (m *Manager) lockPath(absPath string) string {
	sum := sha256.Sum256([]byte(absPath))
	return filepath.Join(m.dir, hex.EncodeToString(sum[:8])+".lock")
}

func readLockInfo(lockPath string) (*LockInfo, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing lock file %s: %w", lockPath, err)
	}
	return &info, nil
}
