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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var (
	// ErrNonInteractive is returned when a prompt fires without a TTY
	// and no --yes flag to stand in for the user.
	ErrNonInteractive = errors.New("interactive prompt required but running non-interactively (pass --yes to approve)")

	// ErrInvalidSelection is returned for a choice outside the menu.
	ErrInvalidSelection = errors.New("invalid selection")
)

// UserPrompter asks the user for decisions during destructive or
// ambiguous operations.
//
// # Description
//
// Commands never read stdin directly; they go through this interface so
// scripted runs (--yes, --non-interactive) and tests can substitute
// deterministic answers.
type UserPrompter interface {
	// Confirm asks a yes/no question. Default is no.
	Confirm(ctx context.Context, prompt string) (bool, error)

	// Select presents numbered options and returns the chosen index.
	Select(ctx context.Context, prompt string, options []string) (int, error)

	// IsInteractive reports whether a human is on the other end.
	IsInteractive() bool
}

// InteractivePrompter reads answers from a terminal.
type InteractivePrompter struct {
	reader *bufio.Reader
	writer io.Writer
}

var _ UserPrompter = (*InteractivePrompter)(nil)

// NewInteractivePrompter prompts on stderr and reads stdin.
func NewInteractivePrompter() *InteractivePrompter {
	return NewInteractivePrompterWithIO(os.Stdin, os.Stderr)
}

// NewInteractivePrompterWithIO allows injecting the streams for tests.
func NewInteractivePrompterWithIO(r io.Reader, w io.Writer) *InteractivePrompter {
	return &InteractivePrompter{reader: bufio.NewReader(r), writer: w}
}

func (p *InteractivePrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fmt.Fprintf(p.writer, "%s [y/N]: ", prompt)
	line, err := p.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("reading response: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func (p *InteractivePrompter) Select(ctx context.Context, prompt string, options []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(options) == 0 {
		return 0, fmt.Errorf("no options to select from")
	}
	fmt.Fprintln(p.writer, prompt)
	for i, opt := range options {
		fmt.Fprintf(p.writer, "  %d. %s\n", i+1, opt)
	}
	fmt.Fprintf(p.writer, "Enter choice [1-%d]: ", len(options))

	line, err := p.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("reading response: %w", err)
	}
	choice, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || choice < 1 || choice > len(options) {
		return 0, fmt.Errorf("%w: %q (expected 1-%d)", ErrInvalidSelection, strings.TrimSpace(line), len(options))
	}
	return choice - 1, nil
}

func (p *InteractivePrompter) IsInteractive() bool { return true }

// NonInteractivePrompter refuses every prompt. Used when stdin is not a
// terminal and the user did not pre-approve with --yes.
type NonInteractivePrompter struct{}

var _ UserPrompter = (*NonInteractivePrompter)(nil)

func NewNonInteractivePrompter() *NonInteractivePrompter { return &NonInteractivePrompter{} }

func (p *NonInteractivePrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	return false, fmt.Errorf("%w: %s", ErrNonInteractive, prompt)
}

func (p *NonInteractivePrompter) Select(ctx context.Context, prompt string, options []string) (int, error) {
	return 0, fmt.Errorf("%w: %s", ErrNonInteractive, prompt)
}

func (p *NonInteractivePrompter) IsInteractive() bool { return false }

// AutoApprovePrompter answers yes to everything (--yes).
type AutoApprovePrompter struct{}

var _ UserPrompter = (*AutoApprovePrompter)(nil)

func NewAutoApprovePrompter() *AutoApprovePrompter { return &AutoApprovePrompter{} }

func (p *AutoApprovePrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	return true, nil
}

func (p *AutoApprovePrompter) Select(ctx context.Context, prompt string, options []string) (int, error) {
	if len(options) == 0 {
		return 0, fmt.Errorf("no options to select from")
	}
	return 0, nil
}

func (p *AutoApprovePrompter) IsInteractive() bool { return false }

// PrompterCall records one prompt for test assertions.
type PrompterCall struct {
	Method  string
	Prompt  string
	Options []string
}

// MockPrompter is a test double with injectable behavior and call
// recording.
type MockPrompter struct {
	ConfirmFunc       func(ctx context.Context, prompt string) (bool, error)
	SelectFunc        func(ctx context.Context, prompt string, options []string) (int, error)
	IsInteractiveFunc func() bool

	Calls []PrompterCall
}

var _ UserPrompter = (*MockPrompter)(nil)

func (m *MockPrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	m.Calls = append(m.Calls, PrompterCall{Method: "Confirm", Prompt: prompt})
	if m.ConfirmFunc == nil {
		return false, nil
	}
	return m.ConfirmFunc(ctx, prompt)
}

func (m *MockPrompter) Select(ctx context.Context, prompt string, options []string) (int, error) {
	m.Calls = append(m.Calls, PrompterCall{Method: "Select", Prompt: prompt, Options: options})
	if m.SelectFunc == nil {
		return 0, nil
	}
	return m.SelectFunc(ctx, prompt, options)
}

func (m *MockPrompter) IsInteractive() bool {
	if m.IsInteractiveFunc == nil {
		return true
	}
	return m.IsInteractiveFunc()
}

// Reset clears recorded calls.
func (m *MockPrompter) Reset() {
	m.Calls = nil
}
