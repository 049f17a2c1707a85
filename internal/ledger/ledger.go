// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ledger tracks the side effects of an install session and can
// undo them in reverse order.
//
// A Ledger is append-only while a session is active: every mutation is
// recorded immediately after it succeeds, never before, so the ledger
// only ever describes effects that actually happened. On failure,
// Rollback walks the records newest-first and applies each kind's
// inverse action, continuing past individual undo failures so one stuck
// artifact does not strand the rest. On success, Commit persists the
// records to the install manifest.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/berth/internal/artifact"
	"github.com/AleutianAI/berth/internal/manifest"
)

// UndoFunc reverses one recorded mutation.
type UndoFunc func(ctx context.Context, rec artifact.Record) error

// Failure describes one record whose undo did not succeed.
type Failure struct {
	Record artifact.Record `json:"record"`
	Reason string          `json:"reason"`
}

// RollbackReport summarizes a rollback pass.
type RollbackReport struct {
	// Removed lists records whose inverse action succeeded.
	Removed []artifact.Record `json:"removed"`

	// Failed lists records whose inverse action failed, with reasons.
	Failed []Failure `json:"failed,omitempty"`
}

// Clean reports whether every record was undone.
func (r RollbackReport) Clean() bool {
	return len(r.Failed) == 0
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithUndoer registers the inverse action for an artifact kind,
// replacing any previous registration. File and directory kinds have
// built-in defaults; config entries and shell blocks must be registered
// by the component that knows how to edit those documents.
func WithUndoer(kind artifact.Kind, fn UndoFunc) Option {
	return func(l *Ledger) {
		l.undoers[kind] = fn
	}
}

// WithLogger sets the logger used to narrate rollback progress.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// Ledger is an ordered, append-only record of session side effects.
//
// Methods are safe for concurrent use, though a session typically
// appends from a single goroutine.
type Ledger struct {
	mu        sync.Mutex
	sessionID string
	records   []artifact.Record
	undoers   map[artifact.Kind]UndoFunc
	logger    *slog.Logger
}

// New creates an empty ledger for a session identified by sessionID.
func New(sessionID string, opts ...Option) *Ledger {
	l := &Ledger{
		sessionID: sessionID,
		undoers: map[artifact.Kind]UndoFunc{
			artifact.KindFile:      undoFile,
			artifact.KindDirectory: undoDirectory,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FromRecords creates a ledger pre-populated with existing records, in
// the order given. Uninstall uses this to replay a committed manifest
// through the same reverse-order undo machinery an aborted session uses.
func FromRecords(sessionID string, records []artifact.Record, opts ...Option) *Ledger {
	l := New(sessionID, opts...)
	l.records = make([]artifact.Record, len(records))
	copy(l.records, records)
	return l
}

// SessionID returns the session this ledger belongs to.
func (l *Ledger) SessionID() string {
	return l.sessionID
}

// Append records an already-performed mutation. The record must be
// structurally valid; callers record effects only after they succeed.
func (l *Ledger) Append(rec artifact.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("appending to ledger: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

// RecordFile records a file created at path.
func (l *Ledger) RecordFile(path string) error {
	rec, err := artifact.New(artifact.KindFile, path)
	if err != nil {
		return err
	}
	return l.Append(rec)
}

// RecordDirectory records a directory created at path.
func (l *Ledger) RecordDirectory(path string) error {
	rec, err := artifact.New(artifact.KindDirectory, path)
	if err != nil {
		return err
	}
	return l.Append(rec)
}

// RecordConfigEntry records an entry named entry injected into the
// client configuration document at path, owned by client.
func (l *Ledger) RecordConfigEntry(path, client, entry string) error {
	rec := artifact.Record{
		ID:        uuid.NewString(),
		Kind:      artifact.KindConfigEntry,
		Path:      path,
		CreatedAt: time.Now().UTC(),
		Client:    client,
		Entry:     entry,
	}
	return l.Append(rec)
}

// RecordShellBlock records a marker-delimited block written to the
// shell profile at path.
func (l *Ledger) RecordShellBlock(path, markerID string) error {
	rec := artifact.Record{
		ID:        uuid.NewString(),
		Kind:      artifact.KindShellBlock,
		Path:      path,
		CreatedAt: time.Now().UTC(),
		MarkerID:  markerID,
	}
	return l.Append(rec)
}

// Records returns a copy of the current record list in append order.
func (l *Ledger) Records() []artifact.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]artifact.Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of recorded mutations.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Rollback undoes every recorded mutation in reverse order.
//
// # Description
//
// Each record is popped newest-first and handed to the undoer for its
// kind. A failed undo is reported and the walk continues, so the report
// always accounts for every record: either in Removed or in Failed.
// Context cancellation stops the walk; records not yet attempted are
// reported as failed with the context error so nothing silently
// disappears from the accounting.
//
// After Rollback returns, the ledger is empty regardless of outcome.
func (l *Ledger) Rollback(ctx context.Context) RollbackReport {
	l.mu.Lock()
	records := l.records
	l.records = nil
	l.mu.Unlock()

	report := RollbackReport{}
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]

		if err := ctx.Err(); err != nil {
			report.Failed = append(report.Failed, Failure{Record: rec, Reason: err.Error()})
			continue
		}

		undo, ok := l.undoers[rec.Kind]
		if !ok {
			report.Failed = append(report.Failed, Failure{
				Record: rec,
				Reason: fmt.Sprintf("no undo action registered for kind %q", rec.Kind),
			})
			continue
		}

		if err := undo(ctx, rec); err != nil {
			l.logger.Warn("rollback step failed",
				"kind", string(rec.Kind),
				"path", rec.Path,
				"error", err)
			report.Failed = append(report.Failed, Failure{Record: rec, Reason: err.Error()})
			continue
		}

		l.logger.Debug("rolled back", "kind", string(rec.Kind), "path", rec.Path)
		report.Removed = append(report.Removed, rec)
	}
	return report
}

// Commit persists the ledger's records as the install manifest at path
// and clears the ledger; a committed session can no longer roll back.
// On a save failure the records are kept so the caller can still roll
// back.
func (l *Ledger) Commit(path string, info manifest.Info) error {
	info.SessionID = l.sessionID
	m := manifest.New(info, l.Records())
	if err := m.Save(path); err != nil {
		return fmt.Errorf("committing session %s: %w", l.sessionID, err)
	}
	l.mu.Lock()
	l.records = nil
	l.mu.Unlock()
	return nil
}

// undoFile removes a file created during the session. A file that is
// already gone counts as undone.
func undoFile(_ context.Context, rec artifact.Record) error {
	err := os.Remove(rec.Path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", rec.Path, err)
	}
	return nil
}

// undoDirectory removes a directory created during the session. The
// directory was created by this tool, so removing it recursively only
// destroys session artifacts; anything inside it that was separately
// recorded has already been undone by the time the walk reaches the
// directory record.
func undoDirectory(_ context.Context, rec artifact.Record) error {
	if err := os.RemoveAll(rec.Path); err != nil {
		return fmt.Errorf("removing directory %s: %w", rec.Path, err)
	}
	return nil
}
