// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package installer

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/AleutianAI/berth/internal/ledger"
	"github.com/AleutianAI/berth/internal/manifest"
)

// UninstallOptions controls an uninstall pass.
type UninstallOptions struct {
	// KeepTargetDir leaves the install root in place (its recorded
	// contents are still removed).
	KeepTargetDir bool
}

// UninstallReport is the outcome of an uninstall.
type UninstallReport struct {
	SessionID string                `json:"session_id"`
	Root      string                `json:"root"`
	Rollback  ledger.RollbackReport `json:"rollback"`

	// RecoveredManifest is set when the manifest was corrupt and had to
	// be quarantined before anything could be removed.
	RecoveredManifest string `json:"recovered_manifest,omitempty"`
}

// Uninstall removes everything the committed manifest under root
// records, newest-first, through the same undo machinery a failed
// session uses.
//
// # Description
//
// The manifest's artifact list is replayed into a ledger and rolled
// back. Undo failures are collected, not fatal: the report accounts for
// every artifact either way. The manifest and its bookkeeping directory
// are removed only when every artifact came off cleanly, so a partial
// uninstall can be retried.
//
// A corrupt manifest is quarantined (bytes preserved beside it) and the
// uninstall proceeds with an empty artifact list; the user keeps both
// the quarantine file and their installed files.
func (i *Installer) Uninstall(ctx context.Context, root string, opts UninstallOptions) (*UninstallReport, error) {
	sessionID := uuid.NewString()
	logger := i.logger.With("session_id", sessionID)
	report := &UninstallReport{SessionID: sessionID, Root: root}

	path := manifest.Path(root)
	m, err := manifest.Load(path)
	if manifest.IsCorrupt(err) {
		quarantine, recoverErr := manifest.Recover(path)
		if recoverErr != nil {
			return report, fmt.Errorf("manifest is corrupt and recovery failed: %w", recoverErr)
		}
		logger.Warn("manifest was corrupt; quarantined", "quarantine", quarantine)
		report.RecoveredManifest = quarantine
		m, err = manifest.Load(path)
	}
	if err != nil {
		return report, err
	}

	led := ledger.FromRecords(sessionID, m.Artifacts, i.undoerOptions(logger)...)
	report.Rollback = led.Rollback(ctx)

	if !report.Rollback.Clean() {
		logger.Warn("uninstall incomplete",
			"removed", len(report.Rollback.Removed),
			"failed", len(report.Rollback.Failed))
		return report, &StepError{Step: "uninstall", Err: fmt.Errorf("%d artifacts could not be removed", len(report.Rollback.Failed)), Rollback: report.Rollback}
	}

	// Clean removal: retire the bookkeeping too. The manifest comes off
	// by name, not RemoveAll, so a quarantined corrupt manifest survives
	// for the user to inspect.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return report, fmt.Errorf("removing %s: %w", path, err)
	}
	removeIfEmpty(manifest.Dir(root))
	if !opts.KeepTargetDir {
		// Only remove the root when nothing of the user's is left in it.
		if removeIfEmpty(root) {
			logger.Info("install root removed", "root", root)
		}
	}
	logger.Info("uninstall complete", "artifacts", len(report.Rollback.Removed))
	return report, nil
}

// removeIfEmpty removes dir when it contains nothing, reporting whether
// it did.
func removeIfEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return false
	}
	return os.Remove(dir) == nil
}
