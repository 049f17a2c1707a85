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
Package preflight validates the host before an install session is
allowed to mutate anything.

# Problem Statement

Without early validation, installs fail halfway through with confusing
errors: a read-only target directory surfaces as a write error deep in
step four, a nearly full disk surfaces as a truncated file, and an
unwritable shell profile surfaces only after the config documents have
already been edited. Every one of those failures forces a rollback that
could have been avoided entirely.

# Solution

Checker probes the actual failure modes up front, before the session
opens its ledger:

 1. Writability: create and delete a probe file in the target
    directory. Probing exercises the real permission path; inspecting
    permission bits does not (ACLs, read-only mounts, and quota all
    lie to stat).
 2. Free space: query the filesystem hosting the target directory
    and compare against a configured floor.
 3. Shell profile: resolve the user's login shell to the profile file
    a shell block would be written to.

# Error Types

	CheckErrorTargetNotWritable - probe file could not be created
	CheckErrorDiskSpaceLow      - free space below the configured floor
	CheckErrorNoHome            - home directory cannot be resolved

Each failure is a *CheckError carrying a remediation hint so the CLI
can tell the user how to fix their host rather than just that it is
broken.
*/
package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// probeName is the throwaway file used to test target writability.
const probeName = ".berth_write_probe"

// DefaultMinFreeMB is the free-space floor applied when the caller does
// not configure one. A managed runtime install is small; the floor
// guards against filling a nearly full disk, not against large payloads.
const DefaultMinFreeMB = 100

// CheckErrorType categorizes a pre-flight failure for programmatic
// handling.
type CheckErrorType int

const (
	// CheckErrorTargetNotWritable indicates the target directory refused
	// a probe write.
	CheckErrorTargetNotWritable CheckErrorType = iota

	// CheckErrorDiskSpaceLow indicates free space under the floor.
	CheckErrorDiskSpaceLow

	// CheckErrorNoHome indicates the home directory cannot be resolved.
	CheckErrorNoHome

	// CheckErrorStatFailed indicates the filesystem query itself failed.
	CheckErrorStatFailed
)

// String returns the error type as a string for logging.
func (t CheckErrorType) String() string {
	switch t {
	case CheckErrorTargetNotWritable:
		return "TARGET_NOT_WRITABLE"
	case CheckErrorDiskSpaceLow:
		return "DISK_SPACE_LOW"
	case CheckErrorNoHome:
		return "NO_HOME_DIRECTORY"
	case CheckErrorStatFailed:
		return "STAT_FAILED"
	default:
		return "UNKNOWN"
	}
}

// CheckError is a structured pre-flight failure.
type CheckError struct {
	// Type categorizes the error for programmatic handling.
	Type CheckErrorType

	// Message is a human-readable error description.
	Message string

	// Detail provides technical information for debugging.
	Detail string

	// Remediation suggests how to fix the issue.
	Remediation string
}

// Error implements the error interface.
func (e *CheckError) Error() string {
	return e.Message
}

// FullError returns a detailed message including remediation.
func (e *CheckError) FullError() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Detail != "" {
		b.WriteString("\n\nDetails: ")
		b.WriteString(e.Detail)
	}
	if e.Remediation != "" {
		b.WriteString("\n\nTo fix:\n")
		b.WriteString(e.Remediation)
	}
	return b.String()
}

// HostFacts is what pre-flight learned about the machine.
type HostFacts struct {
	// OS is runtime.GOOS.
	OS string `json:"os"`

	// Home is the user's home directory.
	Home string `json:"home"`

	// Shell is the basename of the login shell ("zsh", "bash", "").
	Shell string `json:"shell,omitempty"`

	// ShellProfile is the rc file a shell block would be written to.
	ShellProfile string `json:"shell_profile,omitempty"`

	// FreeBytes is the available space on the target filesystem.
	FreeBytes uint64 `json:"free_bytes"`
}

// HostChecker validates the host environment before an install.
type HostChecker interface {
	// CheckWritable verifies dir accepts writes by creating and deleting
	// a probe file. dir must already exist.
	CheckWritable(dir string) error

	// CheckFreeSpace verifies the filesystem hosting path has at least
	// minMB megabytes available.
	CheckFreeSpace(path string, minMB int64) error

	// Facts gathers host information without failing: fields that cannot
	// be determined are left zero.
	Facts(targetDir string) HostFacts
}

// DefaultChecker is the production HostChecker.
type DefaultChecker struct{}

var _ HostChecker = (*DefaultChecker)(nil)

// NewChecker returns the production host checker.
func NewChecker() *DefaultChecker {
	return &DefaultChecker{}
}

// CheckWritable probes dir with a real write.
func (c *DefaultChecker) CheckWritable(dir string) error {
	probe := filepath.Join(dir, probeName)
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return &CheckError{
			Type:        CheckErrorTargetNotWritable,
			Message:     fmt.Sprintf("target directory %s is not writable", dir),
			Detail:      err.Error(),
			Remediation: fmt.Sprintf("Check permissions on %s, or choose a different install directory.", dir),
		}
	}
	f.Close()
	// The probe is temporary by definition; a failed cleanup still means
	// the directory is writable.
	_ = os.Remove(probe)
	return nil
}

// CheckFreeSpace compares available space on path's filesystem against
// a megabyte floor. A non-positive minMB applies DefaultMinFreeMB.
func (c *DefaultChecker) CheckFreeSpace(path string, minMB int64) error {
	if minMB <= 0 {
		minMB = DefaultMinFreeMB
	}
	free, err := freeBytes(path)
	if err != nil {
		return &CheckError{
			Type:    CheckErrorStatFailed,
			Message: fmt.Sprintf("cannot determine free space for %s", path),
			Detail:  err.Error(),
		}
	}
	need := uint64(minMB) * 1024 * 1024
	if free < need {
		return &CheckError{
			Type: CheckErrorDiskSpaceLow,
			Message: fmt.Sprintf("insufficient disk space: %d MB available, %d MB required",
				free/(1024*1024), minMB),
			Remediation: "Free up disk space and retry.",
		}
	}
	return nil
}

// Facts gathers best-effort host information.
func (c *DefaultChecker) Facts(targetDir string) HostFacts {
	facts := HostFacts{OS: runtime.GOOS}
	if home, err := os.UserHomeDir(); err == nil {
		facts.Home = home
		facts.Shell, facts.ShellProfile = DetectShellProfile(home)
	}
	if free, err := freeBytes(targetDir); err == nil {
		facts.FreeBytes = free
	}
	return facts
}

// DetectShellProfile maps the SHELL environment variable to the rc file
// that shell sources for interactive sessions. Unknown or missing
// shells fall back to .bashrc, the most common default on Linux hosts.
func DetectShellProfile(home string) (shell, profile string) {
	shellPath := os.Getenv("SHELL")
	shell = filepath.Base(shellPath)
	switch shell {
	case "zsh":
		return shell, filepath.Join(home, ".zshrc")
	case "bash":
		return shell, filepath.Join(home, ".bashrc")
	case "fish":
		return shell, filepath.Join(home, ".config", "fish", "config.fish")
	case ".", "/", "":
		return "", filepath.Join(home, ".bashrc")
	default:
		return shell, filepath.Join(home, ".bashrc")
	}
}
