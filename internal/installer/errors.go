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
	"fmt"

	"github.com/AleutianAI/berth/internal/ledger"
)

// ConflictError reports an install target that already has a committed
// manifest. The fix is uninstall (or repair), never a blind overwrite.
type ConflictError struct {
	Root string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("an install already exists at %s; run uninstall first, or repair to fix a damaged one", e.Root)
}

// StepError reports the step that aborted an active session, together
// with the rollback's accounting.
type StepError struct {
	// Step names the failed step ("write_launcher", "configure_claude").
	Step string

	// Err is the underlying failure.
	Err error

	// Rollback accounts for every artifact recorded before the failure.
	Rollback ledger.RollbackReport
}

func (e *StepError) Error() string {
	if e.Rollback.Clean() {
		return fmt.Sprintf("install step %s failed (all changes rolled back): %v", e.Step, e.Err)
	}
	return fmt.Sprintf("install step %s failed (%d artifacts could not be rolled back): %v",
		e.Step, len(e.Rollback.Failed), e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
