// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package artifact defines the tagged record type used to track every
// filesystem side effect of an install session.
//
// Each mutation performed during an install is recorded as exactly one
// Record. The record's Kind selects which inverse action undoes it, and
// the kind-specific fields carry whatever that inverse action needs
// (the owning client and entry name for config entries, the marker id
// for shell profile blocks). Records are immutable once created.
package artifact

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind categorizes an artifact for inverse-action dispatch.
//
// Adding a new kind means adding one constant here and one entry in the
// ledger's undo table.
type Kind string

const (
	// KindFile is a regular file created during the session.
	KindFile Kind = "file"

	// KindDirectory is a directory created during the session. Directory
	// records are always appended before records for anything created
	// inside them, so reverse-order removal empties children first.
	KindDirectory Kind = "directory"

	// KindConfigEntry is a named entry injected into a client-owned JSON
	// configuration document. Client and Entry identify it.
	KindConfigEntry Kind = "config_entry"

	// KindShellBlock is a marker-delimited span appended to a shell
	// profile file. MarkerID identifies the span.
	KindShellBlock Kind = "shell_block"
)

// Valid reports whether k is one of the known artifact kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindFile, KindDirectory, KindConfigEntry, KindShellBlock:
		return true
	}
	return false
}

// Record describes one tracked mutation.
//
// Path is always the absolute path touched: the created file or
// directory, the client config document, or the shell profile file.
// Kind-specific fields are empty for kinds that do not use them.
type Record struct {
	// ID uniquely identifies the record within and across sessions.
	ID string `json:"id"`

	// Kind selects the inverse action on rollback or uninstall.
	Kind Kind `json:"kind"`

	// Path is the absolute filesystem path this record refers to.
	Path string `json:"path"`

	// CreatedAt is when the mutation was performed.
	CreatedAt time.Time `json:"created_at"`

	// Client names the owning application for config_entry records.
	Client string `json:"client,omitempty"`

	// Entry is the managed-subtree key for config_entry records.
	Entry string `json:"entry,omitempty"`

	// MarkerID identifies the marker pair for shell_block records.
	MarkerID string `json:"marker_id,omitempty"`
}

// New creates a validated record with a fresh ID and timestamp.
func New(kind Kind, path string) (Record, error) {
	rec := Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		Path:      path,
		CreatedAt: time.Now().UTC(),
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Validate checks structural invariants: a known kind, a non-empty path,
// and the metadata the kind requires.
func (r Record) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown artifact kind %q", r.Kind)
	}
	if r.Path == "" {
		return fmt.Errorf("artifact %s has empty path", r.Kind)
	}
	switch r.Kind {
	case KindConfigEntry:
		if r.Client == "" || r.Entry == "" {
			return fmt.Errorf("config_entry artifact for %s requires client and entry metadata", r.Path)
		}
	case KindShellBlock:
		if r.MarkerID == "" {
			return fmt.Errorf("shell_block artifact for %s requires a marker id", r.Path)
		}
	}
	return nil
}

// Describe returns a short human-readable summary used in reports.
func (r Record) Describe() string {
	switch r.Kind {
	case KindConfigEntry:
		return fmt.Sprintf("config entry %q (%s) in %s", r.Entry, r.Client, r.Path)
	case KindShellBlock:
		return fmt.Sprintf("shell block %q in %s", r.MarkerID, r.Path)
	default:
		return fmt.Sprintf("%s %s", r.Kind, r.Path)
	}
}
