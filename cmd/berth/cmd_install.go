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
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/berth/internal/installer"
	"github.com/AleutianAI/berth/pkg/ux"
)

var (
	installTarget    string
	installMode      string
	installName      string
	installCommand   string
	installArgs      []string
	installEnv       map[string]string
	installClients   []string
	installAddPath   bool
	installProfile   string
	installDeps      []string
	installMinFreeMB int64

	installCmd = &cobra.Command{
		Use:   "install",
		Short: "Install an MCP server and register it with clients",
		Long: `Runs a transactional install: pre-flight host checks, server launcher,
client config entries, and an optional shell PATH block. Any step failure
rolls back everything already created.`,
		Args: cobra.NoArgs,
		Run:  runInstall,
	}

	uninstallKeepDir bool
	uninstallCmd     = &cobra.Command{
		Use:   "uninstall [target-dir]",
		Short: "Remove an installed server and all its recorded artifacts",
		Args:  cobra.MaximumNArgs(1),
		Run:   runUninstall,
	}

	verifyCmd = &cobra.Command{
		Use:   "verify [target-dir]",
		Short: "Check every recorded artifact against the filesystem",
		Args:  cobra.MaximumNArgs(1),
		Run:   runVerify,
	}

	repairCmd = &cobra.Command{
		Use:   "repair",
		Short: "Recreate missing or drifted artifacts of an install",
		Long: `Repair re-executes only the broken pieces of a committed install.
It needs the same inputs the install ran with (command, env, clients),
because the manifest records what was created, not how.`,
		Args: cobra.NoArgs,
		Run:  runRepair,
	}
)

func init() {
	addInstallFlags(installCmd)
	installCmd.Flags().StringSliceVar(&installDeps, "deps", nil, "dependency command run in the target dir (e.g. \"uv,sync\")")

	addInstallFlags(repairCmd)

	uninstallCmd.Flags().StringVar(&installTarget, "target", "", "install root (defaults to config target_dir)")
	uninstallCmd.Flags().BoolVar(&uninstallKeepDir, "keep-dir", false, "leave the install root directory in place")

	verifyCmd.Flags().StringVar(&installTarget, "target", "", "install root (defaults to config target_dir)")
}

// addInstallFlags registers the flags install and repair share; repair
// must replay the original install's inputs.
func addInstallFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&installTarget, "target", "", "install root (defaults to config target_dir)")
	f.StringVar(&installMode, "mode", installer.ModeManaged, "managed (launcher script) or dev (direct command)")
	f.StringVar(&installName, "name", "", "server entry name registered with clients")
	f.StringVar(&installCommand, "command", "", "command that launches the server")
	f.StringArrayVar(&installArgs, "arg", nil, "argument for the server command (repeatable)")
	f.StringToStringVar(&installEnv, "env", nil, "environment variable KEY=VALUE (repeatable)")
	f.StringSliceVar(&installClients, "client", []string{"claude"}, "client applications to register with")
	f.BoolVar(&installAddPath, "add-path", false, "append a PATH block to the shell profile")
	f.StringVar(&installProfile, "profile", "", "shell profile path (default: detected from $SHELL)")
	f.Int64Var(&installMinFreeMB, "min-free-mb", 0, "free-space floor in MB (0 uses the built-in floor)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("command")
}

// installOptions folds flags and config into installer options.
func installOptions() installer.Options {
	target := installTarget
	if target == "" {
		target = cfg.TargetDir
	}
	minFree := installMinFreeMB
	if minFree == 0 {
		minFree = cfg.MinFreeMB
	}
	return installer.Options{
		TargetDir:       target,
		Mode:            installMode,
		ServerName:      installName,
		Command:         installCommand,
		Args:            installArgs,
		Env:             installEnv,
		Clients:         installClients,
		ClientOverrides: cfg.ClientConfigPaths,
		AddPathBlock:    installAddPath,
		ProfilePath:     installProfile,
		DepsCommand:     installDeps,
		MinFreeMB:       minFree,
		ToolVersion:     version,
	}
}

func runInstall(cmd *cobra.Command, args []string) {
	start := time.Now()
	opts := installOptions()

	inst, cleanup, err := newInstaller()
	if err != nil {
		exitCode = OutputResult(output, "install", start, nil, false, err)
		return
	}
	defer cleanup()

	if !output.JSON && !output.Quiet {
		ux.Title(fmt.Sprintf("Installing %s (%s mode)", opts.ServerName, opts.Mode))
	}

	report, err := inst.Install(cmd.Context(), opts)
	if err != nil {
		var se *installer.StepError
		if errors.As(err, &se) && !output.JSON && !output.Quiet {
			ux.Error(fmt.Sprintf("Step %s failed; rolled back %d artifacts", se.Step, len(se.Rollback.Removed)))
			for _, f := range se.Rollback.Failed {
				ux.ArtifactStatus(f.Record.Describe(), ux.IconError, f.Reason)
			}
		}
		exitCode = OutputResult(output, "install", start, report, false, err)
		return
	}

	if !output.JSON && !output.Quiet {
		for _, warning := range report.Warnings {
			ux.Warning(warning)
		}
		for _, rec := range report.Artifacts {
			ux.ArtifactStatus(rec.Describe(), ux.IconSuccess, "")
		}
		ux.Success(fmt.Sprintf("Installed %s (%d artifacts, session %s)",
			opts.ServerName, len(report.Artifacts), report.SessionID))
	}
	exitCode = OutputResult(output, "install", start, report, false, nil)
}

func runUninstall(cmd *cobra.Command, args []string) {
	start := time.Now()
	target := targetFromArgs(args)

	ok, err := prompter.Confirm(cmd.Context(),
		fmt.Sprintf("Remove the install at %s and everything it registered?", target))
	if err != nil {
		exitCode = OutputResult(output, "uninstall", start, nil, false, err)
		return
	}
	if !ok {
		if !output.JSON && !output.Quiet {
			ux.Muted("Aborted.")
		}
		exitCode = CLIExitFindings
		return
	}

	inst, cleanup, err := newInstaller()
	if err != nil {
		exitCode = OutputResult(output, "uninstall", start, nil, false, err)
		return
	}
	defer cleanup()

	report, err := inst.Uninstall(cmd.Context(), target, installer.UninstallOptions{KeepTargetDir: uninstallKeepDir})
	if err != nil {
		var se *installer.StepError
		if errors.As(err, &se) {
			// Partial uninstall: some artifacts stayed. Findings, not failure.
			if !output.JSON && !output.Quiet {
				for _, f := range se.Rollback.Failed {
					ux.ArtifactStatus(f.Record.Describe(), ux.IconError, f.Reason)
				}
				ux.Warning(fmt.Sprintf("%d artifacts could not be removed; re-run uninstall after fixing the causes", len(se.Rollback.Failed)))
			}
			exitCode = OutputResult(output, "uninstall", start, report, true, nil)
			return
		}
		exitCode = OutputResult(output, "uninstall", start, report, false, err)
		return
	}

	if !output.JSON && !output.Quiet {
		if report.RecoveredManifest != "" {
			ux.Warning(fmt.Sprintf("Manifest was corrupt; original preserved at %s", report.RecoveredManifest))
		}
		ux.Summary(0, len(report.Rollback.Removed), len(report.Rollback.Failed))
		ux.Success("Uninstalled.")
	}
	exitCode = OutputResult(output, "uninstall", start, report, false, nil)
}

func runVerify(cmd *cobra.Command, args []string) {
	start := time.Now()
	target := targetFromArgs(args)

	inst, cleanup, err := newInstaller()
	if err != nil {
		exitCode = OutputResult(output, "verify", start, nil, false, err)
		return
	}
	defer cleanup()

	report, err := inst.Verify(cmd.Context(), target)
	if err != nil {
		exitCode = OutputResult(output, "verify", start, nil, false, err)
		return
	}

	if !output.JSON && !output.Quiet {
		for _, res := range report.Results {
			icon := ux.IconSuccess
			if res.Status != installer.StatusOK {
				icon = ux.IconError
			}
			ux.ArtifactStatus(res.Record.Describe(), icon, res.Detail)
		}
		ok, missing, drifted := report.Counts()
		if report.Healthy() {
			ux.Success(fmt.Sprintf("All %d artifacts verified", ok))
		} else {
			ux.Warning(fmt.Sprintf("%d ok, %d missing, %d drifted (run repair)", ok, missing, drifted))
		}
	}
	exitCode = OutputResult(output, "verify", start, report, !report.Healthy(), nil)
}

func runRepair(cmd *cobra.Command, args []string) {
	start := time.Now()
	opts := installOptions()

	inst, cleanup, err := newInstaller()
	if err != nil {
		exitCode = OutputResult(output, "repair", start, nil, false, err)
		return
	}
	defer cleanup()

	report, err := inst.Repair(cmd.Context(), opts)
	if err != nil {
		exitCode = OutputResult(output, "repair", start, report, false, err)
		return
	}

	if !output.JSON && !output.Quiet {
		if report.RecoveredManifest != "" {
			ux.Warning(fmt.Sprintf("Manifest was corrupt; original preserved at %s. Reinstall to rebuild.", report.RecoveredManifest))
		}
		for _, rec := range report.Repaired {
			ux.ArtifactStatus(rec.Describe(), ux.IconSuccess, "recreated")
		}
		for _, f := range report.Failed {
			ux.ArtifactStatus(f.Record.Describe(), ux.IconError, f.Reason)
		}
		switch {
		case !report.Clean():
			ux.Warning(fmt.Sprintf("%d artifacts could not be repaired", len(report.Failed)))
		case len(report.Repaired) == 0 && report.RecoveredManifest == "":
			ux.Success("Nothing to repair.")
		default:
			ux.Success(fmt.Sprintf("Repaired %d artifacts", len(report.Repaired)))
		}
	}
	findings := !report.Clean() || report.RecoveredManifest != ""
	exitCode = OutputResult(output, "repair", start, report, findings, nil)
}

// targetFromArgs resolves the install root from the positional arg, the
// --target flag, or the config default, in that order.
func targetFromArgs(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	if installTarget != "" {
		return installTarget
	}
	return cfg.TargetDir
}
