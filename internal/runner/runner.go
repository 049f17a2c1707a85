// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner abstracts external process execution behind an
// interface so install steps that shell out (dependency installation,
// interpreter discovery) stay testable without real subprocesses.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultStepTimeout bounds a single external command when the caller's
// context carries no deadline of its own. Dependency installs can be
// slow on cold caches, so this is generous.
const DefaultStepTimeout = 5 * time.Minute

// ProcessManager handles external process operations.
//
// Implementations must be safe for concurrent use. All methods accept a
// context for cancellation; a command that outlives its context is
// killed.
type ProcessManager interface {
	// Run executes a command synchronously and returns its stdout.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunIn executes a command synchronously in the given working
	// directory and returns its stdout.
	RunIn(ctx context.Context, dir, name string, args ...string) ([]byte, error)

	// LookPath reports whether an executable is resolvable, returning
	// its path.
	LookPath(name string) (string, error)
}

// ExecProcessManager executes real processes via os/exec.
type ExecProcessManager struct {
	// Timeout applies when the caller's context has no deadline.
	// Zero uses DefaultStepTimeout.
	Timeout time.Duration
}

var _ ProcessManager = (*ExecProcessManager)(nil)

// NewExecProcessManager creates the production process manager.
func NewExecProcessManager() *ExecProcessManager {
	return &ExecProcessManager{}
}

// Run executes a command and returns its stdout. Stderr is folded into
// the returned error on failure.
func (pm *ExecProcessManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return pm.RunIn(ctx, "", name, args...)
}

// RunIn executes a command in dir and returns its stdout.
func (pm *ExecProcessManager) RunIn(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		timeout := pm.Timeout
		if timeout <= 0 {
			timeout = DefaultStepTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// LookPath resolves name on PATH.
func (pm *ExecProcessManager) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// MockProcessManager is a test double for ProcessManager.
//
// Configure the mock by setting function fields before use; a nil
// function field makes the corresponding method panic, which surfaces
// unconfigured calls immediately in tests.
type MockProcessManager struct {
	// RunFunc is called when Run or RunIn is invoked.
	RunFunc func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

	// LookPathFunc is called when LookPath is invoked. Nil reports every
	// executable as present at /usr/bin/<name>.
	LookPathFunc func(name string) (string, error)

	// Calls records all invocations for verification.
	Calls []Call

	mu sync.Mutex
}

var _ ProcessManager = (*MockProcessManager)(nil)

// Call records a single method invocation.
type Call struct {
	Method string
	Dir    string
	Name   string
	Args   []string
}

// Run delegates to RunFunc and records the call.
func (m *MockProcessManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return m.record(ctx, "Run", "", name, args)
}

// RunIn delegates to RunFunc and records the call.
func (m *MockProcessManager) RunIn(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	return m.record(ctx, "RunIn", dir, name, args)
}

// LookPath delegates to LookPathFunc.
func (m *MockProcessManager) LookPath(name string) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, Call{Method: "LookPath", Name: name})
	fn := m.LookPathFunc
	m.mu.Unlock()

	if fn == nil {
		return "/usr/bin/" + name, nil
	}
	return fn(name)
}

// GetCalls returns a copy of the recorded calls.
func (m *MockProcessManager) GetCalls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.Calls))
	copy(out, m.Calls)
	return out
}

func (m *MockProcessManager) record(ctx context.Context, method, dir, name string, args []string) ([]byte, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, Call{Method: method, Dir: dir, Name: name, Args: args})
	fn := m.RunFunc
	m.mu.Unlock()

	if fn == nil {
		panic("MockProcessManager.RunFunc not set")
	}
	return fn(ctx, dir, name, args...)
}
