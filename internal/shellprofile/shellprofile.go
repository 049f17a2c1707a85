// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package shellprofile manages marker-delimited blocks in shell rc
// files (.zshrc, .bashrc, and friends).
//
// A block is a span of lines bracketed by comment markers that carry a
// block id. Markers are matched by substring, line by line, so the
// block survives editors that re-indent or append trailing whitespace.
// All writes back up the profile first and replace it atomically; the
// user's own lines outside the span are never altered.
package shellprofile

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/AleutianAI/berth/internal/backup"
	"github.com/AleutianAI/berth/internal/fsatomic"
)

// Markers for a block id. The id appears in both so two tools (or two
// block kinds from one tool) never collide.
func startMarker(id string) string { return fmt.Sprintf("# %s START", id) }
func endMarker(id string) string   { return fmt.Sprintf("# %s END", id) }

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

// Editor adds and removes marker-delimited blocks in profile files.
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

// AddBlock ensures the profile at path contains exactly one block for
// id holding content.
//
// # Description
//
// If no block exists, one is appended, separated from existing content
// by a blank line. If a block already exists its content is replaced in
// place, preserving its position in the file. Multiple existing spans
// for the same id (a damaged profile) are collapsed into one; the
// collapse is logged. A missing profile file is created.
//
// content should be the block body without markers; a trailing newline
// is optional.
func (e *Editor) AddBlock(path, id, content string) error {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	body := strings.TrimRight(content, "\n")
	block := startMarker(id) + "\n" + body + "\n" + endMarker(id)

	outside, spans := splitSpans(string(data), id)
	if spans > 1 {
		e.logger.Warn("collapsing duplicate profile blocks", "path", path, "id", id, "spans", spans)
	}

	var out string
	if spans == 0 {
		out = string(data)
		if out != "" && !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		out += "\n" + block + "\n"
	} else {
		// Replace the first span in place; later duplicates are dropped
		// by splitSpans.
		out = strings.Replace(outside, spanPlaceholder, block, 1)
	}

	if _, err := e.backups.Create(path); err != nil {
		return fmt.Errorf("backing up %s: %w", path, err)
	}
	if err := fsatomic.WriteFile(path, []byte(out), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	e.logger.Debug("profile block written", "path", path, "id", id)
	return nil
}

// RemoveBlock deletes every span for id from the profile at path,
// returning how many spans were removed. A missing profile, or a
// profile with no matching span, is a no-op returning zero.
func (e *Editor) RemoveBlock(path, id string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}

	outside, spans := splitSpans(string(data), id)
	if spans == 0 {
		return 0, nil
	}
	out := outside
	switch {
	case strings.HasPrefix(out, spanPlaceholder+"\n"):
		out = strings.TrimPrefix(out, spanPlaceholder+"\n")
	case strings.Contains(out, "\n"+spanPlaceholder+"\n"):
		out = strings.Replace(out, "\n"+spanPlaceholder+"\n", "\n", 1)
	default:
		out = strings.Replace(out, spanPlaceholder, "", 1)
	}
	// Dropping the span can leave the blank separator line AddBlock
	// inserted; collapse trailing blanks back to a single newline.
	for strings.HasSuffix(out, "\n\n") {
		out = strings.TrimSuffix(out, "\n")
	}

	if _, err := e.backups.Create(path); err != nil {
		return 0, fmt.Errorf("backing up %s: %w", path, err)
	}
	if err := fsatomic.WriteFile(path, []byte(out), 0o644); err != nil {
		return 0, fmt.Errorf("writing %s: %w", path, err)
	}
	e.logger.Debug("profile block removed", "path", path, "id", id, "spans", spans)
	return spans, nil
}

// HasBlock reports whether at least one span for id exists in the
// profile at path.
func (e *Editor) HasBlock(path, id string) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	_, spans := splitSpans(string(data), id)
	return spans > 0, nil
}

// BlockContent returns the body of the first span for id, without
// markers. The boolean is false when no span exists.
func (e *Editor) BlockContent(path, id string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", path, err)
	}

	var body []string
	inside := false
	for _, line := range strings.Split(string(data), "\n") {
		if !inside && strings.Contains(line, startMarker(id)) {
			inside = true
			continue
		}
		if inside {
			if strings.Contains(line, endMarker(id)) {
				return strings.Join(body, "\n"), true, nil
			}
			body = append(body, line)
		}
	}
	if inside {
		// Unterminated span: treat everything after START as the body,
		// mirroring how removal treats it.
		return strings.Join(body, "\n"), true, nil
	}
	return "", false, nil
}

// spanPlaceholder stands in for the first removed span so callers can
// substitute a replacement block at the original position.
const spanPlaceholder = "\x00span\x00"

// splitSpans removes every span for id from text, leaving
// spanPlaceholder where the first span was. It returns the remaining
// text and the number of spans found. A START with no matching END
// swallows the rest of the file, the span being unterminated.
func splitSpans(text, id string) (string, int) {
	if text == "" {
		return "", 0
	}
	lines := strings.Split(text, "\n")
	var kept []string
	inside := false
	spans := 0
	for _, line := range lines {
		if !inside && strings.Contains(line, startMarker(id)) {
			inside = true
			spans++
			if spans == 1 {
				kept = append(kept, spanPlaceholder)
			}
			continue
		}
		if inside {
			if strings.Contains(line, endMarker(id)) {
				inside = false
			}
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n"), spans
}
