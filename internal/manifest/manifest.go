// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package manifest persists the committed record of an install session.
//
// The manifest is the sole durable contract between install and the
// later verify, repair, and uninstall operations: a JSON document under
// the install root listing every artifact the session created, plus
// install metadata. Its presence also gates future installs (the
// conflict check). Writes are atomic so a crash can never leave a
// half-written manifest; a manifest that has become unparsable is
// quarantined rather than silently overwritten.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/berth/internal/artifact"
	"github.com/AleutianAI/berth/internal/backup"
	"github.com/AleutianAI/berth/internal/fsatomic"
)

const (
	// DirName is the directory created under the install root to hold
	// the manifest and related bookkeeping.
	DirName = ".berth"

	// FileName is the manifest file name inside DirName.
	FileName = "manifest.json"

	// FormatVersion identifies the manifest schema.
	FormatVersion = "1"
)

// Info carries the session metadata stored alongside the artifact list.
type Info struct {
	// Mode is the install mode ("managed" or "dev").
	Mode string `json:"install_mode"`

	// ToolVersion is the version of the tool that performed the install.
	ToolVersion string `json:"tool_version"`

	// SessionID identifies the install session that produced this manifest.
	SessionID string `json:"session_id"`
}

// Manifest is the durable snapshot of a committed session ledger.
type Manifest struct {
	FormatVersion string            `json:"format_version"`
	InstalledAt   time.Time         `json:"installed_at"`
	Info          Info              `json:"info"`
	Artifacts     []artifact.Record `json:"artifacts"`
}

// New assembles a manifest from session metadata and its artifact list.
func New(info Info, artifacts []artifact.Record) *Manifest {
	recs := make([]artifact.Record, len(artifacts))
	copy(recs, artifacts)
	return &Manifest{
		FormatVersion: FormatVersion,
		InstalledAt:   time.Now().UTC(),
		Info:          info,
		Artifacts:     recs,
	}
}

// Dir returns the bookkeeping directory for an install root.
func Dir(root string) string {
	return filepath.Join(root, DirName)
}

// Path returns the manifest location for an install root.
func Path(root string) string {
	return filepath.Join(root, DirName, FileName)
}

// Exists reports whether a manifest is present under root.
func Exists(root string) bool {
	_, err := os.Stat(Path(root))
	return err == nil
}

// Load reads and parses the manifest at path.
//
// A missing file yields ErrNotFound. A file that exists but cannot be
// parsed yields a *CorruptError; callers decide whether to quarantine
// it (see Recover); Load itself never modifies anything.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	return &m, nil
}

// Save atomically writes the manifest to path, creating the parent
// directory if needed.
func (m *Manifest) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating manifest directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	data = append(data, '\n')
	return fsatomic.WriteFile(path, data, 0o644)
}

// Recover quarantines a corrupt manifest and writes a minimal valid
// replacement so subsequent runs stop tripping over malformed JSON.
//
// The corrupt bytes are preserved in a uniquely named backup beside the
// manifest; the replacement carries an empty artifact list and a
// "recovered" tool version. Returns the quarantine path.
func Recover(path string) (string, error) {
	backups := backup.NewManager(backup.Config{Suffix: ".corrupt"})
	quarantine, err := backups.Create(path)
	if err != nil {
		return "", fmt.Errorf("quarantining corrupt manifest: %w", err)
	}

	recovered := &Manifest{
		FormatVersion: FormatVersion,
		InstalledAt:   time.Time{},
		Info:          Info{ToolVersion: "recovered"},
		Artifacts:     []artifact.Record{},
	}
	if err := recovered.Save(path); err != nil {
		return quarantine, fmt.Errorf("writing recovered manifest: %w", err)
	}
	return quarantine, nil
}

// IsCorrupt reports whether err is a manifest corruption error.
func IsCorrupt(err error) bool {
	var ce *CorruptError
	return errors.As(err, &ce)
}
