// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/berth/internal/backup"
	"github.com/AleutianAI/berth/internal/installer"
	"github.com/AleutianAI/berth/internal/preflight"
	"github.com/AleutianAI/berth/internal/shellprofile"
	"github.com/AleutianAI/berth/pkg/ux"
)

var (
	shellCmd = &cobra.Command{
		Use:   "shell",
		Short: "Manage the PATH block in your shell profile",
	}

	shellProfilePath string
	shellBinDir      string

	shellAddPathCmd = &cobra.Command{
		Use:   "add-path",
		Short: "Add the launcher directory to PATH via the shell profile",
		Args:  cobra.NoArgs,
		Run:   runShellAddPath,
	}

	shellRemovePathCmd = &cobra.Command{
		Use:   "remove-path",
		Short: "Remove the PATH block from the shell profile",
		Args:  cobra.NoArgs,
		Run:   runShellRemovePath,
	}
)

func init() {
	shellAddPathCmd.Flags().StringVar(&shellProfilePath, "profile", "", "shell profile path (default: detected from $SHELL)")
	shellAddPathCmd.Flags().StringVar(&shellBinDir, "dir", "", "directory to put on PATH (default: <target_dir>/bin)")
	shellRemovePathCmd.Flags().StringVar(&shellProfilePath, "profile", "", "shell profile path (default: detected from $SHELL)")

	shellCmd.AddCommand(shellAddPathCmd, shellRemovePathCmd)
}

func resolveProfile() string {
	if shellProfilePath != "" {
		return shellProfilePath
	}
	_, profile := preflight.DetectShellProfile(userHome())
	return profile
}

func newProfileEditor() *shellprofile.Editor {
	return shellprofile.NewEditor(
		shellprofile.WithBackups(backup.NewManager(backup.Config{MaxBackups: cfg.BackupKeep})),
		shellprofile.WithLogger(appLog.Slog()),
	)
}

func runShellAddPath(cmd *cobra.Command, args []string) {
	start := time.Now()
	profile := resolveProfile()
	dir := shellBinDir
	if dir == "" {
		dir = filepath.Join(cfg.TargetDir, "bin")
	}

	content := fmt.Sprintf(`export PATH="%s:$PATH"`, dir)
	if err := newProfileEditor().AddBlock(profile, installer.MarkerID, content); err != nil {
		exitCode = OutputResult(output, "shell add-path", start, nil, false, err)
		return
	}

	if !output.JSON && !output.Quiet {
		ux.Success(fmt.Sprintf("PATH block written to %s", profile))
		ux.Muted("Restart your shell or source the profile to pick it up.")
	}
	exitCode = OutputResult(output, "shell add-path", start,
		map[string]any{"profile": profile, "dir": dir}, false, nil)
}

func runShellRemovePath(cmd *cobra.Command, args []string) {
	start := time.Now()
	profile := resolveProfile()

	removed, err := newProfileEditor().RemoveBlock(profile, installer.MarkerID)
	if err != nil {
		exitCode = OutputResult(output, "shell remove-path", start, nil, false, err)
		return
	}

	if !output.JSON && !output.Quiet {
		if removed > 0 {
			ux.Success(fmt.Sprintf("Removed %d PATH block(s) from %s", removed, profile))
		} else {
			ux.Muted(fmt.Sprintf("No PATH block in %s; nothing to do", profile))
		}
	}
	exitCode = OutputResult(output, "shell remove-path", start,
		map[string]any{"profile": profile, "removed": removed}, false, nil)
}
