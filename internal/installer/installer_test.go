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
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/berth/internal/artifact"
	"github.com/AleutianAI/berth/internal/clientconf"
	"github.com/AleutianAI/berth/internal/lock"
	"github.com/AleutianAI/berth/internal/manifest"
	"github.com/AleutianAI/berth/internal/runner"
	"github.com/AleutianAI/berth/internal/shellprofile"
)

// testEnv wires an installer against throwaway paths.
type testEnv struct {
	base       string
	target     string
	claudeConf string
	cursorConf string
	profile    string
	proc       *runner.MockProcessManager
	inst       *Installer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	base := t.TempDir()
	env := &testEnv{
		base:       base,
		target:     filepath.Join(base, "berth-install"),
		claudeConf: filepath.Join(base, "claude", "claude_desktop_config.json"),
		cursorConf: filepath.Join(base, "cursor", "mcp.json"),
		profile:    filepath.Join(base, ".zshrc"),
		proc: &runner.MockProcessManager{
			RunFunc: func(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
				return []byte("ok"), nil
			},
		},
	}
	require.NoError(t, os.WriteFile(env.profile, []byte("export FOO=bar\n"), 0o644))
	env.inst = New(WithProcessManager(env.proc))
	return env
}

func (e *testEnv) options() Options {
	return Options{
		TargetDir:  e.target,
		Mode:       ModeManaged,
		ServerName: "shesha",
		Command:    "python3",
		Args:       []string{"-m", "shesha.server"},
		Env:        map[string]string{"SHESHA_PORT": "8080"},
		Clients:    []string{"claude", "cursor"},
		ClientOverrides: map[string]string{
			"claude": e.claudeConf,
			"cursor": e.cursorConf,
		},
		AddPathBlock: true,
		ProfilePath:  e.profile,
		MinFreeMB:    1,
		ToolVersion:  "test",
	}
}

func TestInstallCommits(t *testing.T) {
	env := newTestEnv(t)

	report, err := env.inst.Install(context.Background(), env.options())
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, report.State)
	assert.NotEmpty(t, report.SessionID)

	// Launcher exists, is executable, and wraps the command.
	launcher := filepath.Join(env.target, "bin", "shesha")
	data, err := os.ReadFile(launcher)
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, "#!/bin/sh\n"))
	assert.Contains(t, content, "export SHESHA_PORT=8080")
	assert.Contains(t, content, "exec python3 -m shesha.server")
	if runtime.GOOS != "windows" {
		fi, err := os.Stat(launcher)
		require.NoError(t, err)
		assert.NotZero(t, fi.Mode()&0o111)
	}

	// Both clients point at the launcher.
	editor := clientconf.NewEditor()
	for _, conf := range []string{env.claudeConf, env.cursorConf} {
		entry, ok, err := editor.Entry(conf, "shesha")
		require.NoError(t, err)
		require.True(t, ok, "entry missing from %s", conf)
		assert.Equal(t, launcher, entry.Command)
	}

	// Shell block present.
	has, err := shellprofile.NewEditor().HasBlock(env.profile, MarkerID)
	require.NoError(t, err)
	assert.True(t, has)

	// Manifest committed with every artifact.
	m, err := manifest.Load(manifest.Path(env.target))
	require.NoError(t, err)
	assert.Equal(t, report.SessionID, m.Info.SessionID)
	assert.Equal(t, ModeManaged, m.Info.Mode)
	assert.Equal(t, len(report.Artifacts), len(m.Artifacts))

	kinds := map[artifact.Kind]int{}
	for _, rec := range m.Artifacts {
		kinds[rec.Kind]++
	}
	assert.Equal(t, 1, kinds[artifact.KindDirectory])
	assert.Equal(t, 1, kinds[artifact.KindFile])
	assert.Equal(t, 2, kinds[artifact.KindConfigEntry])
	assert.Equal(t, 1, kinds[artifact.KindShellBlock])
}

func TestInstallDevModePointsAtCommand(t *testing.T) {
	env := newTestEnv(t)
	opts := env.options()
	opts.Mode = ModeDev
	opts.AddPathBlock = false

	report, err := env.inst.Install(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, report.State)

	// No launcher in dev mode.
	_, err = os.Stat(filepath.Join(env.target, "bin", "shesha"))
	assert.True(t, os.IsNotExist(err))

	entry, ok, err := clientconf.NewEditor().Entry(env.claudeConf, "shesha")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "python3", entry.Command)
	assert.Equal(t, []string{"-m", "shesha.server"}, entry.Args)
}

func TestLauncherEnvValuesReachServerLiterally(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("launcher is a POSIX shell script")
	}
	env := newTestEnv(t)
	opts := env.options()
	opts.Command = "printenv"
	opts.Args = []string{"SECRET"}
	opts.Env = map[string]string{"SECRET": "pa$HOME`id`ss"}

	_, err := env.inst.Install(context.Background(), opts)
	require.NoError(t, err)

	launcher := filepath.Join(env.target, "bin", "shesha")
	data, err := os.ReadFile(launcher)
	require.NoError(t, err)
	// Double quotes would let the shell expand $HOME and run the
	// backtick substitution when the launcher executes.
	assert.Contains(t, string(data), "export SECRET='pa$HOME`id`ss'")
	assert.NotContains(t, string(data), `export SECRET="`)

	out, err := exec.Command("/bin/sh", launcher).Output()
	require.NoError(t, err)
	assert.Equal(t, "pa$HOME`id`ss\n", string(out))
}

// logBuffer is a goroutine-safe log sink.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestInstallWarnsOnExternalConfigEdit(t *testing.T) {
	env := newTestEnv(t)
	locks, err := lock.NewManager(lock.ManagerConfig{Dir: filepath.Join(env.base, "locks")})
	require.NoError(t, err)
	defer locks.Close()

	logs := &logBuffer{}
	inst := New(
		WithProcessManager(env.proc),
		WithLockManager(locks),
		WithLogger(slog.New(slog.NewTextHandler(logs, nil))),
	)

	_, err = inst.Install(context.Background(), env.options())
	require.NoError(t, err)
	assert.NotContains(t, logs.String(), "changed outside this session",
		"the session's own config writes must not be flagged")

	// Another program rewrites a guarded config while the watch is live.
	require.NoError(t, os.WriteFile(env.claudeConf, []byte(`{"mcpServers": {}}`), 0o644))
	assert.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "changed outside this session")
	}, 3*time.Second, 50*time.Millisecond)
}

func TestInstallRunsDepsCommand(t *testing.T) {
	env := newTestEnv(t)
	opts := env.options()
	opts.DepsCommand = []string{"uv", "sync"}

	_, err := env.inst.Install(context.Background(), opts)
	require.NoError(t, err)

	calls := env.proc.GetCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "RunIn", calls[0].Method)
	assert.Equal(t, env.target, calls[0].Dir)
	assert.Equal(t, "uv", calls[0].Name)
	assert.Equal(t, []string{"sync"}, calls[0].Args)
}

func TestInstallConflict(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.inst.Install(context.Background(), env.options())
	require.NoError(t, err)

	report, err := env.inst.Install(context.Background(), env.options())
	require.Error(t, err)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, env.target, ce.Root)
	assert.Equal(t, StatePreFlight, report.State)
}

func TestInstallValidatesOptions(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"missing target", func(o *Options) { o.TargetDir = "" }},
		{"bad mode", func(o *Options) { o.Mode = "yolo" }},
		{"missing server name", func(o *Options) { o.ServerName = "" }},
		{"missing command", func(o *Options) { o.Command = "" }},
		{"no clients", func(o *Options) { o.Clients = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := env.options()
			tt.mutate(&opts)
			_, err := env.inst.Install(context.Background(), opts)
			assert.Error(t, err)
		})
	}
}

func TestInstallUnknownClient(t *testing.T) {
	env := newTestEnv(t)
	opts := env.options()
	opts.Clients = []string{"emacs"}

	_, err := env.inst.Install(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown client")
}

func TestInstallRollsBackOnStepFailure(t *testing.T) {
	env := newTestEnv(t)
	boom := errors.New("resolver unreachable")
	env.proc.RunFunc = func(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
		return nil, boom
	}
	opts := env.options()
	opts.DepsCommand = []string{"uv", "sync"}

	report, err := env.inst.Install(context.Background(), opts)
	require.Error(t, err)

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "install_deps", se.Step)
	assert.ErrorIs(t, err, boom)
	assert.True(t, se.Rollback.Clean(), "rollback failures: %v", se.Rollback.Failed)
	assert.Equal(t, StateRolledBack, report.State)

	// Everything created before the failure is gone.
	_, statErr := os.Stat(env.target)
	assert.True(t, os.IsNotExist(statErr), "target directory should be rolled back")
	assert.False(t, manifest.Exists(env.target))
}

func TestInstallRollsBackClientEdits(t *testing.T) {
	env := newTestEnv(t)

	// Pre-seed claude's config with a foreign entry, then make cursor's
	// config unwritable so the second configure step fails.
	require.NoError(t, os.MkdirAll(filepath.Dir(env.claudeConf), 0o755))
	require.NoError(t, os.WriteFile(env.claudeConf,
		[]byte(`{"mcpServers": {"other-tool": {"command": "other"}}, "theme": "dark"}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Dir(env.cursorConf), 0o755))
	require.NoError(t, os.WriteFile(env.cursorConf, []byte("{malformed"), 0o644))

	opts := env.options()
	report, err := env.inst.Install(context.Background(), opts)
	require.Error(t, err)

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "configure_cursor", se.Step)
	assert.True(t, clientconf.IsCorrupt(se.Err))
	assert.Equal(t, StateRolledBack, report.State)

	// Claude's document is back to foreign content only.
	names, err := clientconf.NewEditor().Entries(env.claudeConf)
	require.NoError(t, err)
	assert.Equal(t, []string{"other-tool"}, names)

	// Cursor's malformed file is untouched.
	data, err := os.ReadFile(env.cursorConf)
	require.NoError(t, err)
	assert.Equal(t, "{malformed", string(data))
}

func TestInstallCancelledContext(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := env.inst.Install(ctx, env.options())
	require.Error(t, err)

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateRolledBack, report.State)
	_, statErr := os.Stat(env.target)
	assert.True(t, os.IsNotExist(statErr))
}

func TestInstallPreflightFailureMutatesNothing(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("mode bits do not restrict writes on windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("root bypasses mode bits")
	}
	env := newTestEnv(t)
	parent := filepath.Join(env.base, "frozen")
	require.NoError(t, os.Mkdir(parent, 0o555))
	t.Cleanup(func() { os.Chmod(parent, 0o755) })

	opts := env.options()
	opts.TargetDir = filepath.Join(parent, "install")

	report, err := env.inst.Install(context.Background(), opts)
	require.Error(t, err)
	assert.Equal(t, StatePreFlight, report.State)

	// No client config was created.
	_, statErr := os.Stat(env.claudeConf)
	assert.True(t, os.IsNotExist(statErr))
}

func TestInstallWarnsOnReplacedEntry(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(env.claudeConf), 0o755))
	require.NoError(t, os.WriteFile(env.claudeConf,
		[]byte(`{"mcpServers": {"shesha": {"command": "stale"}}}`), 0o644))

	report, err := env.inst.Install(context.Background(), env.options())
	require.NoError(t, err)
	require.NotEmpty(t, report.Warnings)
	assert.Contains(t, report.Warnings[0], "replaced")
}

func TestUninstallRemovesEverything(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(env.claudeConf), 0o755))
	require.NoError(t, os.WriteFile(env.claudeConf,
		[]byte(`{"mcpServers": {"other-tool": {"command": "other"}}}`), 0o644))

	_, err := env.inst.Install(context.Background(), env.options())
	require.NoError(t, err)

	report, err := env.inst.Uninstall(context.Background(), env.target, UninstallOptions{})
	require.NoError(t, err)
	assert.True(t, report.Rollback.Clean())

	// Our entry is gone, the foreign one stays.
	names, err := clientconf.NewEditor().Entries(env.claudeConf)
	require.NoError(t, err)
	assert.Equal(t, []string{"other-tool"}, names)

	// Shell block gone, user line kept.
	data, err := os.ReadFile(env.profile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "export FOO=bar")
	assert.NotContains(t, string(data), MarkerID+" START")

	// Target directory and manifest gone.
	_, statErr := os.Stat(env.target)
	assert.True(t, os.IsNotExist(statErr))
}

func TestUninstallMissingManifest(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.inst.Uninstall(context.Background(), env.target, UninstallOptions{})
	assert.ErrorIs(t, err, manifest.ErrNotFound)
}

func TestUninstallCorruptManifestQuarantines(t *testing.T) {
	env := newTestEnv(t)
	path := manifest.Path(env.target)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{ruined"), 0o644))

	report, err := env.inst.Uninstall(context.Background(), env.target, UninstallOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, report.RecoveredManifest)

	saved, err := os.ReadFile(report.RecoveredManifest)
	require.NoError(t, err)
	assert.Equal(t, "{ruined", string(saved))
}

func TestVerify(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.inst.Install(context.Background(), env.options())
	require.NoError(t, err)

	t.Run("healthy install", func(t *testing.T) {
		report, err := env.inst.Verify(context.Background(), env.target)
		require.NoError(t, err)
		assert.True(t, report.Healthy())
		ok, missing, drifted := report.Counts()
		assert.Equal(t, len(report.Results), ok)
		assert.Zero(t, missing)
		assert.Zero(t, drifted)
	})

	t.Run("detects missing launcher", func(t *testing.T) {
		launcher := filepath.Join(env.target, "bin", "shesha")
		require.NoError(t, os.Remove(launcher))

		report, err := env.inst.Verify(context.Background(), env.target)
		require.NoError(t, err)
		assert.False(t, report.Healthy())
		_, missing, _ := report.Counts()
		assert.Equal(t, 1, missing)
	})

	t.Run("detects removed config entry", func(t *testing.T) {
		_, err := clientconf.NewEditor().RemoveEntry(env.claudeConf, "shesha")
		require.NoError(t, err)

		report, err := env.inst.Verify(context.Background(), env.target)
		require.NoError(t, err)
		_, missing, _ := report.Counts()
		assert.Equal(t, 2, missing) // launcher from previous subtest + entry
	})
}

func TestRepairRecreatesBrokenArtifacts(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.inst.Install(context.Background(), env.options())
	require.NoError(t, err)

	// Break three artifacts in three different ways.
	launcher := filepath.Join(env.target, "bin", "shesha")
	require.NoError(t, os.Remove(launcher))
	_, err = clientconf.NewEditor().RemoveEntry(env.claudeConf, "shesha")
	require.NoError(t, err)
	_, err = shellprofile.NewEditor().RemoveBlock(env.profile, MarkerID)
	require.NoError(t, err)

	report, err := env.inst.Repair(context.Background(), env.options())
	require.NoError(t, err)
	assert.True(t, report.Clean(), "repair failures: %v", report.Failed)
	assert.Len(t, report.Repaired, 3)

	verify, err := env.inst.Verify(context.Background(), env.target)
	require.NoError(t, err)
	assert.True(t, verify.Healthy())

	// Repaired entry points at the launcher again.
	entry, ok, err := clientconf.NewEditor().Entry(env.claudeConf, "shesha")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, launcher, entry.Command)
}

func TestRepairLeavesHealthyArtifactsAlone(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.inst.Install(context.Background(), env.options())
	require.NoError(t, err)

	before, err := os.ReadFile(env.claudeConf)
	require.NoError(t, err)

	report, err := env.inst.Repair(context.Background(), env.options())
	require.NoError(t, err)
	assert.Empty(t, report.Repaired)

	after, err := os.ReadFile(env.claudeConf)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "healthy config must not be rewritten")
}

func TestStepErrorMessage(t *testing.T) {
	err := &StepError{Step: "write_launcher", Err: fmt.Errorf("disk full")}
	assert.Contains(t, err.Error(), "write_launcher")
	assert.Contains(t, err.Error(), "all changes rolled back")
}
