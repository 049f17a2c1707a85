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
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/berth/internal/backup"
	"github.com/AleutianAI/berth/internal/clientconf"
	"github.com/AleutianAI/berth/internal/installer"
	"github.com/AleutianAI/berth/internal/lock"
	"github.com/AleutianAI/berth/internal/runner"
	"github.com/AleutianAI/berth/internal/shellprofile"
	"github.com/AleutianAI/berth/pkg/logging"
	"github.com/AleutianAI/berth/pkg/ux"
)

// version is stamped at build time with -ldflags.
var version = "dev"

// Shared command state, populated by the persistent pre-run.
var (
	cfg      Config
	appLog   *logging.Logger
	prompter UserPrompter
	output   OutputConfig
	exitCode = CLIExitSuccess
)

var (
	flagConfig         string
	flagJSON           bool
	flagCompact        bool
	flagQuiet          bool
	flagYes            bool
	flagNonInteractive bool
	flagLogLevel       string

	rootCmd = &cobra.Command{
		Use:   "berth",
		Short: "Transactional installer for MCP servers",
		Long: `Berth installs MCP servers and registers them with client applications
(Claude Desktop, Cursor, and others), editing shared config documents and
shell profiles safely. Every install runs as a transaction: a failure at
any step rolls back everything already done, and a committed install
carries a manifest that drives verify, repair, and uninstall.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setupCommand,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if appLog != nil {
				appLog.Close()
			}
		},
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "path to config file (default ~/.config/berth/config.yaml)")
	pf.BoolVar(&flagJSON, "json", false, "emit machine-readable JSON on stdout")
	pf.BoolVar(&flagCompact, "compact", false, "compact JSON output")
	pf.BoolVarP(&flagQuiet, "quiet", "q", false, "no output, exit code only")
	pf.BoolVarP(&flagYes, "yes", "y", false, "answer yes to every prompt")
	pf.BoolVar(&flagNonInteractive, "non-interactive", false, "fail instead of prompting")
	pf.StringVar(&flagLogLevel, "log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.AddCommand(installCmd, uninstallCmd, verifyCmd, repairCmd, clientCmd, shellCmd)
}

// setupCommand loads configuration and wires the shared state every
// command uses. Flags beat file values.
func setupCommand(cmd *cobra.Command, args []string) error {
	path := flagConfig
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	var err error
	cfg, err = LoadConfig(path, explicit)
	if err != nil {
		return err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	output = OutputConfig{JSON: flagJSON, Compact: flagCompact, Quiet: flagQuiet}

	if cfg.Personality != "" {
		ux.SetPersonalityLevel(ux.ParsePersonalityLevel(cfg.Personality))
	} else {
		ux.InitPersonality()
	}
	if output.JSON || output.Quiet {
		ux.SetPersonalityLevel(ux.PersonalityMachine)
	}

	appLog = logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		LogDir:  cfg.LogDir,
		Service: "berth",
	})

	switch {
	case flagYes:
		prompter = NewAutoApprovePrompter()
	case flagNonInteractive || !isatty.IsTerminal(os.Stdin.Fd()):
		prompter = NewNonInteractivePrompter()
	default:
		prompter = NewInteractivePrompter()
	}
	return nil
}

// newInstaller assembles an installer from the loaded config. The
// returned cleanup releases the lock manager's resources.
func newInstaller() (*installer.Installer, func(), error) {
	backups := backup.NewManager(backup.Config{MaxBackups: cfg.BackupKeep})
	editor := clientconf.NewEditor(
		clientconf.WithBackups(backups),
		clientconf.WithLogger(appLog.Slog()),
	)
	profiles := shellprofile.NewEditor(
		shellprofile.WithBackups(backups),
		shellprofile.WithLogger(appLog.Slog()),
	)

	opts := []installer.Option{
		installer.WithConfigEditor(editor),
		installer.WithProfileEditor(profiles),
		installer.WithProcessManager(&runner.ExecProcessManager{
			Timeout: time.Duration(cfg.StepTimeoutSeconds) * time.Second,
		}),
		installer.WithLogger(appLog.Slog()),
	}

	cleanup := func() {}
	if cfg.LockDir != "" {
		locks, err := lock.NewManager(lock.ManagerConfig{
			Dir:           cfg.LockDir,
			CleanupOnInit: true,
		})
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, installer.WithLockManager(locks))
		cleanup = func() { locks.Close() }
	}
	return installer.New(opts...), cleanup, nil
}
