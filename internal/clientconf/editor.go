// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package clientconf edits the JSON configuration documents of MCP client
applications without disturbing anything the user or other tools put
there.

# Problem Statement

Client configs (Claude Desktop, Cursor, VS Code, and friends) are shared
documents: the user's own settings, other tools' server registrations,
and our entry all live in one file. A careless editor that round-trips
the whole document through typed structs silently drops every key it
does not know about, and a crash mid-write leaves the client unable to
start at all.

# Solution

Editor treats the document as opaque except for the one subtree it
manages (the "mcpServers" object):

  - Foreign top-level keys and foreign entries inside the managed
    subtree are carried as raw bytes, never re-interpreted, so their
    values survive byte-for-byte.
  - Every mutation re-parses the candidate bytes before they replace
    the document, backs up the previous version, and writes through an
    atomic rename. A malformed document can therefore never be our
    fault: we either produce valid JSON or change nothing.
  - A document that is already malformed stops the edit with a typed
    CorruptError naming the file, rather than being overwritten.

Key order is not preserved (output keys are sorted); values are.
*/
package clientconf

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/AleutianAI/berth/internal/backup"
	"github.com/AleutianAI/berth/internal/fsatomic"
)

// ManagedKey is the top-level document key this editor owns entries
// under. Everything else in the document is foreign.
const ManagedKey = "mcpServers"

// entryNamePattern constrains entry names to characters every known
// client accepts in a server identifier.
var entryNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ServerEntry is the launch specification stored under an entry name.
type ServerEntry struct {
	// Command is the executable the client should launch.
	Command string `json:"command"`

	// Args are passed to Command in order.
	Args []string `json:"args,omitempty"`

	// Env is added to the server process environment.
	Env map[string]string `json:"env,omitempty"`
}

// Option configures an Editor.
type Option func(*Editor)

// WithBackups replaces the backup manager used before each write.
func WithBackups(mgr *backup.Manager) Option {
	return func(e *Editor) {
		e.backups = mgr
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Editor) {
		e.logger = logger
	}
}

// Editor performs safe add/remove operations on client config documents.
//
// Editor is stateless between calls; each operation reads the document
// fresh, mutates it in memory, and writes it back. It is safe for
// concurrent use against distinct paths; concurrent edits of the same
// path need external serialization.
type Editor struct {
	backups *backup.Manager
	logger  *slog.Logger
}

// NewEditor creates an editor with default backup retention.
func NewEditor(opts ...Option) *Editor {
	e := &Editor{
		backups: backup.NewManager(backup.DefaultConfig()),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// document is the parsed form: the managed subtree plus everything else
// as raw bytes.
type document struct {
	foreign map[string]json.RawMessage
	servers map[string]json.RawMessage
}

// AddEntry inserts or replaces the named entry in the document at path.
//
// # Description
//
// A missing document is treated as empty and created (parent
// directories included). The previous document, if any, is backed up
// before the write. Returns true when an existing entry was replaced.
//
// # Example
//
//	replaced, err := editor.AddEntry(cfgPath, "shesha", clientconf.ServerEntry{
//	    Command: launcher,
//	})
func (e *Editor) AddEntry(path, name string, entry ServerEntry) (bool, error) {
	if err := validateEntryName(name); err != nil {
		return false, err
	}
	if entry.Command == "" {
		return false, fmt.Errorf("entry %q has no command", name)
	}

	doc, err := e.read(path)
	if err != nil {
		return false, err
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("encoding entry %q: %w", name, err)
	}
	_, replaced := doc.servers[name]
	doc.servers[name] = raw

	if err := e.write(path, doc); err != nil {
		return false, err
	}
	e.logger.Debug("config entry written", "path", path, "entry", name, "replaced", replaced)
	return replaced, nil
}

// RemoveEntry deletes the named entry from the document at path.
//
// Removing from a missing document, or removing an entry that is not
// present, is a no-op reported via the boolean. Foreign entries and
// foreign top-level keys are untouched.
func (e *Editor) RemoveEntry(path, name string) (bool, error) {
	if err := validateEntryName(name); err != nil {
		return false, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}

	doc, err := e.read(path)
	if err != nil {
		return false, err
	}
	if _, ok := doc.servers[name]; !ok {
		return false, nil
	}
	delete(doc.servers, name)

	if err := e.write(path, doc); err != nil {
		return false, err
	}
	e.logger.Debug("config entry removed", "path", path, "entry", name)
	return true, nil
}

// Entries returns the entry names currently present under the managed
// key, sorted. A missing document yields an empty list.
func (e *Editor) Entries(path string) ([]string, error) {
	doc, err := e.read(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(doc.servers))
	for name := range doc.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Entry returns the named entry's launch specification. The boolean is
// false when the entry is absent or was not written by this tool's
// schema.
func (e *Editor) Entry(path, name string) (ServerEntry, bool, error) {
	doc, err := e.read(path)
	if err != nil {
		return ServerEntry{}, false, err
	}
	raw, ok := doc.servers[name]
	if !ok {
		return ServerEntry{}, false, nil
	}
	var entry ServerEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return ServerEntry{}, false, nil
	}
	return entry, true, nil
}

// read parses the document at path, treating a missing file as empty.
func (e *Editor) read(path string) (*document, error) {
	doc := &document{
		foreign: map[string]json.RawMessage{},
		servers: map[string]json.RawMessage{},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(data) == 0 {
		// Some clients ship an empty settings file. Same as missing.
		return doc, nil
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}

	for key, raw := range top {
		if key != ManagedKey {
			doc.foreign[key] = raw
			continue
		}
		if err := json.Unmarshal(raw, &doc.servers); err != nil {
			return nil, &CorruptError{
				Path: path,
				Err:  fmt.Errorf("%q is not an object: %w", ManagedKey, err),
			}
		}
	}
	return doc, nil
}

// write serializes doc and replaces path atomically, backing up the
// previous version and verifying the candidate bytes parse before the
// rename.
func (e *Editor) write(path string, doc *document) error {
	top := make(map[string]json.RawMessage, len(doc.foreign)+1)
	for key, raw := range doc.foreign {
		top[key] = raw
	}
	serversRaw, err := json.Marshal(doc.servers)
	if err != nil {
		return fmt.Errorf("encoding %q subtree: %w", ManagedKey, err)
	}
	top[ManagedKey] = serversRaw

	data, err := json.MarshalIndent(top, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	data = append(data, '\n')

	// The gate: candidate bytes must parse before they may replace the
	// document. This can only trip on an editor bug, and that is the
	// point; the bug corrupts nothing.
	var check map[string]json.RawMessage
	if err := json.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("candidate document failed validation, refusing to write %s: %w", path, err)
	}

	if _, err := e.backups.Create(path); err != nil {
		return fmt.Errorf("backing up %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &WriteDeniedError{Path: path, Err: err}
	}
	if err := fsatomic.WriteFile(path, data, 0o644); err != nil {
		return &WriteDeniedError{Path: path, Err: err}
	}
	return nil
}

func validateEntryName(name string) error {
	if !entryNamePattern.MatchString(name) {
		return fmt.Errorf("invalid entry name %q: must start with an alphanumeric and contain only alphanumerics, dots, underscores, or hyphens", name)
	}
	return nil
}
