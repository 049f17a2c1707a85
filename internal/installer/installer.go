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
Package installer orchestrates transactional install sessions.

# Problem Statement

An install touches resources owned by other programs: client config
documents, shell profiles, the user's filesystem. A failure after step
three of six must not leave three steps' worth of debris, and a success
must leave enough of a record that verify, repair, and uninstall work
months later.

# Solution

Every session runs as a small state machine:

	PRE_FLIGHT ──► ACTIVE ──► COMMITTED
	                  │
	                  └──────► ROLLED_BACK

Pre-flight validates the host without mutating anything: target
writability (by probe write), free space, and a conflict check against
any existing install manifest. Only a clean pre-flight opens the
ledger and enters ACTIVE; from then on every mutation is recorded
immediately after it succeeds. The first failed step, or a context
cancellation between steps, triggers a reverse-order rollback of
everything recorded so far. A session that completes all steps commits
its ledger as the install manifest and can never roll back afterward.

Rollback is collect-and-continue: one stuck artifact is reported, not
allowed to strand the rest.
*/
package installer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/AleutianAI/berth/internal/artifact"
	"github.com/AleutianAI/berth/internal/clientconf"
	"github.com/AleutianAI/berth/internal/clients"
	"github.com/AleutianAI/berth/internal/ledger"
	"github.com/AleutianAI/berth/internal/lock"
	"github.com/AleutianAI/berth/internal/manifest"
	"github.com/AleutianAI/berth/internal/preflight"
	"github.com/AleutianAI/berth/internal/runner"
	"github.com/AleutianAI/berth/internal/shellprofile"
)

// State is the lifecycle phase of an install session.
type State string

const (
	StatePreFlight  State = "PRE_FLIGHT"
	StateActive     State = "ACTIVE"
	StateCommitted  State = "COMMITTED"
	StateRolledBack State = "ROLLED_BACK"
)

// Install modes.
const (
	// ModeManaged copies nothing but owns the runtime: a launcher
	// script under the target directory wraps the server command, and
	// clients point at the launcher.
	ModeManaged = "managed"

	// ModeDev points clients directly at the developer's own command;
	// no launcher is written.
	ModeDev = "dev"
)

// MarkerID is the shell profile block identifier for this tool.
const MarkerID = "berth"

// Options describes one install request.
type Options struct {
	// TargetDir is the install root. Created if missing.
	TargetDir string `validate:"required"`

	// Mode is "managed" or "dev".
	Mode string `validate:"required,oneof=managed dev"`

	// ServerName is the entry name registered with each client.
	ServerName string `validate:"required"`

	// Command launches the MCP server.
	Command string `validate:"required"`

	// Args are passed to Command.
	Args []string

	// Env is added to the server process environment.
	Env map[string]string

	// Clients names the client applications to register with.
	Clients []string `validate:"required,min=1,dive,required"`

	// ClientOverrides maps client names to custom config paths.
	ClientOverrides map[string]string

	// AddPathBlock appends a PATH export block to the shell profile so
	// the launcher is callable by name.
	AddPathBlock bool

	// ProfilePath overrides shell profile detection when set.
	ProfilePath string

	// DepsCommand, when non-empty, is executed in TargetDir after the
	// launcher is written ("uv sync", "pip install -r ...").
	DepsCommand []string

	// MinFreeMB overrides the pre-flight free-space floor.
	MinFreeMB int64

	// ToolVersion is recorded in the manifest.
	ToolVersion string
}

// Report is the outcome of a completed session.
type Report struct {
	SessionID string                 `json:"session_id"`
	State     State                  `json:"state"`
	Facts     preflight.HostFacts    `json:"host_facts"`
	Artifacts []artifact.Record      `json:"artifacts,omitempty"`
	Rollback  *ledger.RollbackReport `json:"rollback,omitempty"`
	Warnings  []string               `json:"warnings,omitempty"`
}

// Installer runs install sessions against injected collaborators, all
// of which have production defaults.
type Installer struct {
	checker  preflight.HostChecker
	editor   *clientconf.Editor
	profiles *shellprofile.Editor
	proc     runner.ProcessManager
	locks    *lock.Manager
	logger   *slog.Logger
	validate *validator.Validate
}

// Option configures an Installer.
type Option func(*Installer)

// WithChecker replaces the host checker.
func WithChecker(c preflight.HostChecker) Option {
	return func(i *Installer) { i.checker = c }
}

// WithConfigEditor replaces the client config editor.
func WithConfigEditor(e *clientconf.Editor) Option {
	return func(i *Installer) { i.editor = e }
}

// WithProfileEditor replaces the shell profile editor.
func WithProfileEditor(e *shellprofile.Editor) Option {
	return func(i *Installer) { i.profiles = e }
}

// WithProcessManager replaces the external process runner.
func WithProcessManager(pm runner.ProcessManager) Option {
	return func(i *Installer) { i.proc = pm }
}

// WithLockManager enables advisory locking of edited documents.
func WithLockManager(m *lock.Manager) Option {
	return func(i *Installer) { i.locks = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Installer) { i.logger = logger }
}

// New creates an installer with production collaborators.
func New(opts ...Option) *Installer {
	i := &Installer{
		checker:  preflight.NewChecker(),
		editor:   clientconf.NewEditor(),
		profiles: shellprofile.NewEditor(),
		proc:     runner.NewExecProcessManager(),
		logger:   slog.Default(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Install runs a full transactional session.
//
// On success the returned report is in StateCommitted and lists every
// artifact created. On a step failure the session rolls back and the
// error is a *StepError carrying the rollback report; the returned
// report is in StateRolledBack. Pre-flight failures mutate nothing and
// return in StatePreFlight.
func (i *Installer) Install(ctx context.Context, opts Options) (*Report, error) {
	sessionID := uuid.NewString()
	logger := i.logger.With("session_id", sessionID)
	report := &Report{SessionID: sessionID, State: StatePreFlight}

	if err := i.validate.Struct(opts); err != nil {
		return report, fmt.Errorf("invalid install options: %w", err)
	}
	registry := clients.NewRegistry(homeDir(), opts.ClientOverrides)
	targets, err := resolveClients(registry, opts.Clients)
	if err != nil {
		return report, err
	}

	// ---- Pre-flight: validate everything, mutate nothing ----

	report.Facts = i.checker.Facts(opts.TargetDir)
	if err := i.preflightTarget(opts); err != nil {
		logger.Warn("pre-flight failed", "error", err)
		return report, err
	}
	if manifest.Exists(opts.TargetDir) {
		return report, &ConflictError{Root: opts.TargetDir}
	}
	logger.Info("pre-flight passed", "target", opts.TargetDir, "mode", opts.Mode)

	// ---- ACTIVE: ledger open, every mutation recorded ----

	report.State = StateActive
	led := i.newLedger(sessionID, logger)

	var guard *changeGuard
	if i.locks != nil {
		guard = newChangeGuard(logger)
		for _, target := range targets {
			if err := i.locks.Acquire(target.ConfigPath, "berth install "+sessionID); err != nil {
				return report, err
			}
			if err := i.locks.Watch(target.ConfigPath, guard.onEvent); err != nil {
				logger.Warn("cannot watch config document", "path", target.ConfigPath, "error", err)
			}
		}
		defer i.locks.ReleaseAll()
	}

	fail := func(step string, cause error) (*Report, error) {
		logger.Error("step failed, rolling back", "step", step, "error", cause)
		if guard != nil {
			// Rollback rewrites guarded configs through the editor; those
			// writes are ours, not external.
			for _, rec := range led.Records() {
				if rec.Kind == artifact.KindConfigEntry {
					guard.expect(rec.Path)
				}
			}
		}
		rb := led.Rollback(context.WithoutCancel(ctx))
		report.State = StateRolledBack
		report.Rollback = &rb
		if !rb.Clean() {
			logger.Warn("rollback left artifacts behind", "failed", len(rb.Failed))
		}
		return report, &StepError{Step: step, Err: cause, Rollback: rb}
	}
	checkCtx := func() error { return ctx.Err() }

	// Step 1: install root.
	if err := checkCtx(); err != nil {
		return fail("create_target", err)
	}
	created, err := ensureDir(opts.TargetDir)
	if err != nil {
		return fail("create_target", err)
	}
	if created {
		if err := led.RecordDirectory(opts.TargetDir); err != nil {
			return fail("create_target", err)
		}
	}

	// Step 2: launcher (managed mode only).
	entryCommand := opts.Command
	entryArgs := opts.Args
	if opts.Mode == ModeManaged {
		if err := checkCtx(); err != nil {
			return fail("write_launcher", err)
		}
		// The bin directory is tracked separately so rollback clears it
		// even when the install root itself pre-existed.
		if !created {
			binCreated, err := ensureDir(filepath.Join(opts.TargetDir, "bin"))
			if err != nil {
				return fail("write_launcher", err)
			}
			if binCreated {
				if err := led.RecordDirectory(filepath.Join(opts.TargetDir, "bin")); err != nil {
					return fail("write_launcher", err)
				}
			}
		}
		launcher, err := i.writeLauncher(opts)
		if err != nil {
			return fail("write_launcher", err)
		}
		if err := led.RecordFile(launcher); err != nil {
			return fail("write_launcher", err)
		}
		entryCommand = launcher
		entryArgs = nil
	}

	// Step 3: dependency install. Produces no artifact of its own; a
	// failure still rolls back what came before.
	if len(opts.DepsCommand) > 0 {
		if err := checkCtx(); err != nil {
			return fail("install_deps", err)
		}
		name, args := opts.DepsCommand[0], opts.DepsCommand[1:]
		if _, err := i.proc.RunIn(ctx, opts.TargetDir, name, args...); err != nil {
			return fail("install_deps", err)
		}
		logger.Info("dependencies installed", "command", strings.Join(opts.DepsCommand, " "))
	}

	// Step 4: client config entries.
	entry := clientconf.ServerEntry{Command: entryCommand, Args: entryArgs, Env: opts.Env}
	for _, target := range targets {
		step := "configure_" + target.Name
		if err := checkCtx(); err != nil {
			return fail(step, err)
		}
		if guard != nil {
			guard.expect(target.ConfigPath)
		}
		replaced, err := i.editor.AddEntry(target.ConfigPath, opts.ServerName, entry)
		if err != nil {
			return fail(step, err)
		}
		if replaced {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("replaced existing %q entry in %s", opts.ServerName, target.DisplayName))
		}
		if err := led.RecordConfigEntry(target.ConfigPath, target.Name, opts.ServerName); err != nil {
			return fail(step, err)
		}
		logger.Info("client configured", "client", target.Name, "path", target.ConfigPath)
	}

	// Step 5: shell profile block.
	if opts.AddPathBlock {
		if err := checkCtx(); err != nil {
			return fail("shell_block", err)
		}
		profile := opts.ProfilePath
		if profile == "" {
			_, profile = preflight.DetectShellProfile(homeDir())
		}
		content := pathBlockContent(opts.TargetDir)
		if err := i.profiles.AddBlock(profile, MarkerID, content); err != nil {
			return fail("shell_block", err)
		}
		if err := led.RecordShellBlock(profile, MarkerID); err != nil {
			return fail("shell_block", err)
		}
		logger.Info("shell profile updated", "profile", profile)
	}

	// ---- Commit ----

	info := manifest.Info{Mode: opts.Mode, ToolVersion: opts.ToolVersion}
	records := led.Records()
	if err := led.Commit(manifest.Path(opts.TargetDir), info); err != nil {
		return fail("commit", err)
	}

	report.State = StateCommitted
	report.Artifacts = records
	logger.Info("session committed", "artifacts", len(report.Artifacts))
	return report, nil
}

// preflightTarget runs host checks against the install target. The
// probe runs against the nearest existing ancestor when the target
// does not exist yet.
func (i *Installer) preflightTarget(opts Options) error {
	probeDir := opts.TargetDir
	for {
		if fi, err := os.Stat(probeDir); err == nil && fi.IsDir() {
			break
		}
		parent := filepath.Dir(probeDir)
		if parent == probeDir {
			break
		}
		probeDir = parent
	}
	if err := i.checker.CheckWritable(probeDir); err != nil {
		return err
	}
	return i.checker.CheckFreeSpace(opts.TargetDir, opts.MinFreeMB)
}

// newLedger wires the editors' inverse actions into a session ledger.
func (i *Installer) newLedger(sessionID string, logger *slog.Logger) *ledger.Ledger {
	return ledger.New(sessionID, i.undoerOptions(logger)...)
}

// undoerOptions binds the editors' inverse actions to artifact kinds.
// File and directory kinds keep the ledger's built-in removal.
func (i *Installer) undoerOptions(logger *slog.Logger) []ledger.Option {
	return []ledger.Option{
		ledger.WithLogger(logger),
		ledger.WithUndoer(artifact.KindConfigEntry, func(ctx context.Context, rec artifact.Record) error {
			_, err := i.editor.RemoveEntry(rec.Path, rec.Entry)
			return err
		}),
		ledger.WithUndoer(artifact.KindShellBlock, func(ctx context.Context, rec artifact.Record) error {
			_, err := i.profiles.RemoveBlock(rec.Path, rec.MarkerID)
			return err
		}),
	}
}

// changeGuard separates the session's own writes to guarded config
// documents from edits made by other programs while the lock is held.
// Each expected write consumes one watch event; any event beyond that
// came from outside and is logged.
type changeGuard struct {
	mu       sync.Mutex
	expected map[string]int
	logger   *slog.Logger
}

func newChangeGuard(logger *slog.Logger) *changeGuard {
	return &changeGuard{expected: make(map[string]int), logger: logger}
}

// expect marks one upcoming write to path as session-internal. The path
// is normalized to match the absolute paths watch events carry.
func (g *changeGuard) expect(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	g.mu.Lock()
	g.expected[abs]++
	g.mu.Unlock()
}

func (g *changeGuard) onEvent(path string) {
	g.mu.Lock()
	if g.expected[path] > 0 {
		g.expected[path]--
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.logger.Warn("config document changed outside this session", "path", path)
}

// launcherPath is where the managed-mode launcher lands.
func launcherPath(opts Options) string {
	return filepath.Join(opts.TargetDir, "bin", opts.ServerName)
}

// writeLauncher emits the managed-mode launcher script.
func (i *Installer) writeLauncher(opts Options) (string, error) {
	binDir := filepath.Join(opts.TargetDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", binDir, err)
	}

	keys := make([]string, 0, len(opts.Env))
	for key := range opts.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	// Single-quote escaping: double quotes would let the shell expand
	// $VAR and backticks inside the value when the launcher runs.
	for _, key := range keys {
		b.WriteString("export " + key + "=" + shellQuote(opts.Env[key]) + "\n")
	}
	b.WriteString("exec " + shellQuote(opts.Command))
	for _, arg := range opts.Args {
		b.WriteString(" " + shellQuote(arg))
	}
	b.WriteString(" \"$@\"\n")

	path := launcherPath(opts)
	if err := os.WriteFile(path, []byte(b.String()), 0o755); err != nil {
		return "", fmt.Errorf("writing launcher %s: %w", path, err)
	}
	return path, nil
}

func resolveClients(registry *clients.Registry, names []string) ([]clients.Client, error) {
	out := make([]clients.Client, 0, len(names))
	for _, name := range names {
		c, err := registry.Lookup(name)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ensureDir creates dir if missing, reporting whether it did.
func ensureDir(dir string) (bool, error) {
	if fi, err := os.Stat(dir); err == nil {
		if !fi.IsDir() {
			return false, fmt.Errorf("%s exists and is not a directory", dir)
		}
		return false, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("creating %s: %w", dir, err)
	}
	return true, nil
}

// pathBlockContent is the body of the shell profile block: it puts the
// launcher directory on PATH.
func pathBlockContent(targetDir string) string {
	return fmt.Sprintf(`export PATH="%s:$PATH"`, filepath.Join(targetDir, "bin"))
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`&|;<>()*?[]#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
