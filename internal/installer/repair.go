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

	"github.com/AleutianAI/berth/internal/artifact"
	"github.com/AleutianAI/berth/internal/clientconf"
	"github.com/AleutianAI/berth/internal/manifest"
)

// RepairReport is the outcome of a repair pass.
type RepairReport struct {
	Root string `json:"root"`

	// Repaired lists artifacts that were missing or drifted and have
	// been recreated.
	Repaired []artifact.Record `json:"repaired,omitempty"`

	// Failed lists artifacts that could not be recreated, with reasons.
	Failed []ledgerFailure `json:"failed,omitempty"`

	// RecoveredManifest is set when a corrupt manifest was quarantined.
	RecoveredManifest string `json:"recovered_manifest,omitempty"`
}

type ledgerFailure struct {
	Record artifact.Record `json:"record"`
	Reason string          `json:"reason"`
}

// Clean reports whether every broken artifact was repaired.
func (r *RepairReport) Clean() bool {
	return len(r.Failed) == 0
}

// Repair recreates missing or drifted artifacts of a committed install.
//
// # Description
//
// The manifest records what an install created, not how; opts must
// therefore carry the same inputs the original install ran with (the
// server command, env, clients). Artifacts that verify clean are left
// completely untouched; only broken ones are re-executed. The manifest
// itself is rewritten only when repair changed something, preserving
// the original session id.
//
// A manifest too corrupt to parse is quarantined first; repair then has
// nothing to go on and reports the recovery so the user can reinstall.
func (i *Installer) Repair(ctx context.Context, opts Options) (*RepairReport, error) {
	if err := i.validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid repair options: %w", err)
	}
	report := &RepairReport{Root: opts.TargetDir}
	path := manifest.Path(opts.TargetDir)

	m, err := manifest.Load(path)
	if manifest.IsCorrupt(err) {
		quarantine, recoverErr := manifest.Recover(path)
		if recoverErr != nil {
			return report, fmt.Errorf("manifest is corrupt and recovery failed: %w", recoverErr)
		}
		report.RecoveredManifest = quarantine
		i.logger.Warn("manifest was corrupt; quarantined, nothing to repair from", "quarantine", quarantine)
		return report, nil
	}
	if err != nil {
		return report, err
	}

	changed := false
	for idx, rec := range m.Artifacts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if i.verifyRecord(rec).Status == StatusOK {
			continue
		}
		if err := i.repairRecord(ctx, rec, opts); err != nil {
			report.Failed = append(report.Failed, ledgerFailure{Record: rec, Reason: err.Error()})
			continue
		}
		changed = true
		report.Repaired = append(report.Repaired, rec)
		m.Artifacts[idx] = rec
		i.logger.Info("artifact repaired", "kind", string(rec.Kind), "path", rec.Path)
	}

	if changed {
		if err := m.Save(path); err != nil {
			return report, fmt.Errorf("rewriting manifest after repair: %w", err)
		}
	}
	return report, nil
}

// repairRecord re-executes the creation step for one broken artifact.
func (i *Installer) repairRecord(ctx context.Context, rec artifact.Record, opts Options) error {
	switch rec.Kind {
	case artifact.KindDirectory:
		return os.MkdirAll(rec.Path, 0o755)

	case artifact.KindFile:
		// The only file artifact an install produces is the launcher.
		if opts.Mode != ModeManaged {
			return fmt.Errorf("file artifact %s cannot be rebuilt in %s mode", rec.Path, opts.Mode)
		}
		launcher, err := i.writeLauncher(opts)
		if err != nil {
			return err
		}
		if launcher != rec.Path {
			return fmt.Errorf("rebuilt launcher landed at %s, manifest records %s", launcher, rec.Path)
		}
		return nil

	case artifact.KindConfigEntry:
		entry := clientconf.ServerEntry{Command: opts.Command, Args: opts.Args, Env: opts.Env}
		if opts.Mode == ModeManaged {
			entry = clientconf.ServerEntry{Command: launcherPath(opts), Env: opts.Env}
		}
		_, err := i.editor.AddEntry(rec.Path, rec.Entry, entry)
		return err

	case artifact.KindShellBlock:
		content := pathBlockContent(opts.TargetDir)
		return i.profiles.AddBlock(rec.Path, rec.MarkerID, content)

	default:
		return fmt.Errorf("unknown artifact kind %q", rec.Kind)
	}
}
