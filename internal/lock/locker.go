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
	"errors"
	"fmt"
	"os"
)

// ErrLocked indicates the lock is held by another live session.
var ErrLocked = errors.New("file is locked by another session")

// LockError carries the holder's info alongside the sentinel so the
// CLI can tell the user who to wait for.
type LockError struct {
	Path   string
	Holder *LockInfo
	Err    error
}

func (e *LockError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("%s is locked by pid %d (session %s, since %s)",
			e.Path, e.Holder.PID, e.Holder.SessionID, e.Holder.LockedAt.Format("15:04:05"))
	}
	return fmt.Sprintf("%s is locked", e.Path)
}

func (e *LockError) Unwrap() error {
	return e.Err
}

// FileLocker abstracts the platform locking primitive. Unix uses
// flock(2); Windows uses LockFileEx. Non-blocking in both cases.
type FileLocker interface {
	// Lock acquires an exclusive lock, returning ErrLocked when the
	// file is already locked elsewhere.
	Lock(f *os.File) error

	// Unlock releases the lock. Safe to call when not locked.
	Unlock(f *os.File) error
}

// IsProcessAlive reports whether a process with the given PID can be
// observed. Used for stale lock detection.
func IsProcessAlive(pid int) bool {
	return isProcessAlive(pid)
}

func newFileLocker() FileLocker {
	return newPlatformLocker()
}
