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
	"github.com/AleutianAI/berth/internal/manifest"
)

// ArtifactStatus classifies one manifest artifact during verification.
type ArtifactStatus string

const (
	StatusOK      ArtifactStatus = "ok"
	StatusMissing ArtifactStatus = "missing"
	StatusDrifted ArtifactStatus = "drifted"
)

// VerifyResult is one artifact's verification outcome.
type VerifyResult struct {
	Record artifact.Record `json:"record"`
	Status ArtifactStatus  `json:"status"`
	Detail string          `json:"detail,omitempty"`
}

// VerifyReport summarizes a verification pass over a committed install.
type VerifyReport struct {
	Root    string         `json:"root"`
	Results []VerifyResult `json:"results"`
}

// Healthy reports whether every artifact checked out.
func (r *VerifyReport) Healthy() bool {
	for _, res := range r.Results {
		if res.Status != StatusOK {
			return false
		}
	}
	return true
}

// Counts returns (ok, missing, drifted).
func (r *VerifyReport) Counts() (ok, missing, drifted int) {
	for _, res := range r.Results {
		switch res.Status {
		case StatusOK:
			ok++
		case StatusMissing:
			missing++
		case StatusDrifted:
			drifted++
		}
	}
	return
}

// Verify checks every artifact in the committed manifest under root
// against the filesystem. It mutates nothing.
//
// A corrupt manifest is surfaced as the manifest package's typed error;
// the caller decides whether to invoke recovery.
func (i *Installer) Verify(ctx context.Context, root string) (*VerifyReport, error) {
	m, err := manifest.Load(manifest.Path(root))
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{Root: root}
	for _, rec := range m.Artifacts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Results = append(report.Results, i.verifyRecord(rec))
	}
	return report, nil
}

func (i *Installer) verifyRecord(rec artifact.Record) VerifyResult {
	result := VerifyResult{Record: rec, Status: StatusOK}

	switch rec.Kind {
	case artifact.KindFile:
		fi, err := os.Stat(rec.Path)
		if err != nil {
			result.Status = StatusMissing
			result.Detail = "file not found"
		} else if fi.IsDir() {
			result.Status = StatusDrifted
			result.Detail = "expected a file, found a directory"
		}

	case artifact.KindDirectory:
		fi, err := os.Stat(rec.Path)
		if err != nil {
			result.Status = StatusMissing
			result.Detail = "directory not found"
		} else if !fi.IsDir() {
			result.Status = StatusDrifted
			result.Detail = "expected a directory, found a file"
		}

	case artifact.KindConfigEntry:
		_, ok, err := i.editor.Entry(rec.Path, rec.Entry)
		if err != nil {
			result.Status = StatusDrifted
			result.Detail = err.Error()
		} else if !ok {
			result.Status = StatusMissing
			result.Detail = fmt.Sprintf("entry %q absent from %s", rec.Entry, rec.Path)
		}

	case artifact.KindShellBlock:
		has, err := i.profiles.HasBlock(rec.Path, rec.MarkerID)
		if err != nil {
			result.Status = StatusDrifted
			result.Detail = err.Error()
		} else if !has {
			result.Status = StatusMissing
			result.Detail = fmt.Sprintf("block %q absent from %s", rec.MarkerID, rec.Path)
		}

	default:
		result.Status = StatusDrifted
		result.Detail = fmt.Sprintf("unknown artifact kind %q", rec.Kind)
	}
	return result
}
