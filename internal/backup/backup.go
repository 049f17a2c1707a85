// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backup creates pre-mutation copies of files this tool is about
// to overwrite, allowing recovery if an edit goes wrong.
//
// Backups live beside the original, are never overwritten (every write
// produces a fresh, uniquely named backup), and can be rotated so a
// frequently edited document does not accumulate copies forever.
package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config controls backup naming and retention.
type Config struct {
	// Suffix is inserted between the original name and the unique tag.
	// Default: ".backup"
	Suffix string

	// TimeFormat is the timestamp portion of the backup name.
	// Default: "2006-01-02_150405"
	TimeFormat string

	// MaxBackups is the number of backups retained per original path.
	// Older backups beyond this count are removed after each new backup.
	// Zero or negative keeps everything.
	MaxBackups int
}

// DefaultConfig returns the standard naming scheme with 10-copy retention.
func DefaultConfig() Config {
	return Config{
		Suffix:     ".backup",
		TimeFormat: "2006-01-02_150405",
		MaxBackups: 10,
	}
}

// Info describes one existing backup.
type Info struct {
	// Path is the full path to the backup file.
	Path string

	// OriginalPath is the file that was backed up.
	OriginalPath string

	// CreatedAt is parsed from the backup name's timestamp.
	CreatedAt time.Time

	// Size is the backup size in bytes.
	Size int64
}

// Manager creates and lists backups for files.
//
// Manager is safe for concurrent use; it holds no mutable state beyond
// its configuration.
type Manager struct {
	config Config
}

// NewManager creates a backup manager, applying defaults for zero fields.
func NewManager(config Config) *Manager {
	if config.Suffix == "" {
		config.Suffix = ".backup"
	}
	if config.TimeFormat == "" {
		config.TimeFormat = "2006-01-02_150405"
	}
	return &Manager{config: config}
}

// Create copies path to a fresh, uniquely named sibling backup.
//
// # Description
//
// Returns the backup path, or an empty string with a nil error when the
// original does not exist (there is nothing to protect). The backup name
// combines a timestamp with a short random tag so two writes inside the
// same second still produce distinct backups. After a successful copy,
// backups beyond MaxBackups are rotated out, oldest first.
//
// # Example
//
//	backupPath, err := mgr.Create(configPath)
//	if err != nil {
//	    return fmt.Errorf("backing up %s: %w", configPath, err)
//	}
func (m *Manager) Create(path string) (string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("cannot backup directory %s", path)
	}

	backupPath := m.generatePath(path)
	if err := copyFile(path, backupPath, info.Mode()); err != nil {
		return "", err
	}

	if m.config.MaxBackups > 0 {
		// Rotation failure is not worth failing the caller's write over.
		_ = m.rotate(path)
	}
	return backupPath, nil
}

// List returns all backups for originalPath, newest first.
func (m *Manager) List(originalPath string) ([]Info, error) {
	dir := filepath.Dir(originalPath)
	prefix := filepath.Base(originalPath) + m.config.Suffix + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var backups []Info
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || entry.IsDir() {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		// Name layout: <base><suffix>.<timestamp>.<tag>
		rest := strings.TrimPrefix(name, prefix)
		stamp := rest
		if idx := strings.LastIndex(rest, "."); idx > 0 {
			stamp = rest[:idx]
		}
		createdAt, err := time.Parse(m.config.TimeFormat, stamp)
		if err != nil {
			createdAt = fi.ModTime()
		}
		backups = append(backups, Info{
			Path:         filepath.Join(dir, name),
			OriginalPath: originalPath,
			CreatedAt:    createdAt,
			Size:         fi.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// Restore copies a backup's bytes back over its original location.
func (m *Manager) Restore(backupPath string) error {
	originalPath := m.originalPath(backupPath)
	if originalPath == "" {
		return fmt.Errorf("cannot determine original path from backup %s", backupPath)
	}
	info, err := os.Stat(backupPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", backupPath, err)
	}
	return copyFile(backupPath, originalPath, info.Mode())
}

func (m *Manager) generatePath(originalPath string) string {
	stamp := time.Now().Format(m.config.TimeFormat)
	tag := uuid.NewString()[:8]
	return originalPath + m.config.Suffix + "." + stamp + "." + tag
}

func (m *Manager) originalPath(backupPath string) string {
	idx := strings.Index(backupPath, m.config.Suffix+".")
	if idx <= 0 {
		return ""
	}
	return backupPath[:idx]
}

func (m *Manager) rotate(originalPath string) error {
	backups, err := m.List(originalPath)
	if err != nil {
		return err
	}
	for i := m.config.MaxBackups; i < len(backups); i++ {
		os.Remove(backups[i].Path)
	}
	return nil
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", dst, err)
	}
	return nil
}
