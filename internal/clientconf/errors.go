// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clientconf

import (
	"errors"
	"fmt"
)

// CorruptError reports a client config document that exists but is not
// valid JSON. The editor refuses to touch such a file; the caller
// decides whether to quarantine it and start fresh.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("client config %s is not valid JSON: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// IsCorrupt reports whether err indicates a malformed config document.
func IsCorrupt(err error) bool {
	var ce *CorruptError
	return errors.As(err, &ce)
}

// WriteDeniedError reports that the document could not be replaced,
// typically a permission or filesystem problem rather than a content
// problem.
type WriteDeniedError struct {
	Path string
	Err  error
}

func (e *WriteDeniedError) Error() string {
	return fmt.Sprintf("cannot write client config %s: %v", e.Path, e.Err)
}

func (e *WriteDeniedError) Unwrap() error {
	return e.Err
}
