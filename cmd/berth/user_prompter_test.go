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
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInteractiveConfirm(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"lowercase y", "y\n", true},
		{"uppercase Y", "Y\n", true},
		{"yes", "yes\n", true},
		{"YES", "YES\n", true},
		{"padded y", "  y  \n", true},
		{"n", "n\n", false},
		{"no", "no\n", false},
		{"empty defaults to no", "\n", false},
		{"garbage defaults to no", "maybe\n", false},
		{"eof defaults to no", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewInteractivePrompterWithIO(strings.NewReader(tt.input), &out)
			got, err := p.Confirm(context.Background(), "Continue?")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInteractiveConfirmShowsPromptAndHint(t *testing.T) {
	var out bytes.Buffer
	p := NewInteractivePrompterWithIO(strings.NewReader("y\n"), &out)
	_, _ = p.Confirm(context.Background(), "Remove the install at /opt/x?")
	assert.Contains(t, out.String(), "Remove the install at /opt/x?")
	assert.Contains(t, out.String(), "[y/N]")
}

func TestInteractiveConfirmCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewInteractivePrompterWithIO(strings.NewReader("y\n"), &bytes.Buffer{})
	_, err := p.Confirm(ctx, "Continue?")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInteractiveSelect(t *testing.T) {
	t.Run("valid choices", func(t *testing.T) {
		tests := []struct {
			input string
			want  int
		}{
			{"1\n", 0},
			{"2\n", 1},
			{"3\n", 2},
			{"  2  \n", 1},
		}
		for _, tt := range tests {
			var out bytes.Buffer
			p := NewInteractivePrompterWithIO(strings.NewReader(tt.input), &out)
			got, err := p.Select(context.Background(), "Choose:", []string{"a", "b", "c"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		}
	})

	t.Run("invalid choices", func(t *testing.T) {
		for _, input := range []string{"0\n", "4\n", "-1\n", "abc\n", "\n"} {
			p := NewInteractivePrompterWithIO(strings.NewReader(input), &bytes.Buffer{})
			_, err := p.Select(context.Background(), "Choose:", []string{"a", "b", "c"})
			assert.ErrorIs(t, err, ErrInvalidSelection, "input %q", input)
		}
	})

	t.Run("displays numbered options", func(t *testing.T) {
		var out bytes.Buffer
		p := NewInteractivePrompterWithIO(strings.NewReader("1\n"), &out)
		_, _ = p.Select(context.Background(), "Pick a client:", []string{"claude", "cursor"})
		assert.Contains(t, out.String(), "Pick a client:")
		assert.Contains(t, out.String(), "1. claude")
		assert.Contains(t, out.String(), "2. cursor")
	})

	t.Run("no options", func(t *testing.T) {
		p := NewInteractivePrompterWithIO(strings.NewReader("1\n"), &bytes.Buffer{})
		_, err := p.Select(context.Background(), "Choose:", nil)
		assert.Error(t, err)
	})
}

func TestNonInteractivePrompterRefuses(t *testing.T) {
	p := NewNonInteractivePrompter()
	_, err := p.Confirm(context.Background(), "Continue?")
	assert.ErrorIs(t, err, ErrNonInteractive)
	_, err = p.Select(context.Background(), "Choose:", []string{"a"})
	assert.ErrorIs(t, err, ErrNonInteractive)
	assert.False(t, p.IsInteractive())
}

func TestAutoApprovePrompter(t *testing.T) {
	p := NewAutoApprovePrompter()
	ok, err := p.Confirm(context.Background(), "Remove everything?")
	require.NoError(t, err)
	assert.True(t, ok)

	idx, err := p.Select(context.Background(), "Choose:", []string{"first", "second"})
	require.NoError(t, err)
	assert.Zero(t, idx)

	_, err = p.Select(context.Background(), "Choose:", nil)
	assert.Error(t, err)
	assert.False(t, p.IsInteractive())
}

func TestMockPrompterRecordsCalls(t *testing.T) {
	mock := &MockPrompter{
		ConfirmFunc: func(ctx context.Context, prompt string) (bool, error) {
			return strings.Contains(prompt, "uninstall"), nil
		},
	}

	ok, err := mock.Confirm(context.Background(), "proceed with uninstall?")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = mock.Select(context.Background(), "Choose:", []string{"a", "b"})
	require.NoError(t, err)

	require.Len(t, mock.Calls, 2)
	assert.Equal(t, "Confirm", mock.Calls[0].Method)
	assert.Equal(t, "proceed with uninstall?", mock.Calls[0].Prompt)
	assert.Equal(t, []string{"a", "b"}, mock.Calls[1].Options)

	assert.True(t, mock.IsInteractive(), "default is interactive")
	mock.IsInteractiveFunc = func() bool { return false }
	assert.False(t, mock.IsInteractive())

	mock.Reset()
	assert.Empty(t, mock.Calls)
}
