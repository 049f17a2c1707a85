// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePersonalityLevel(t *testing.T) {
	tests := []struct {
		in   string
		want PersonalityLevel
	}{
		{"full", PersonalityFull},
		{"f", PersonalityFull},
		{"minimal", PersonalityMinimal},
		{"MIN", PersonalityMinimal},
		{"machine", PersonalityMachine},
		{"quiet", PersonalityMachine},
		{"q", PersonalityMachine},
		{"", PersonalityFull},
		{"bogus", PersonalityFull},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParsePersonalityLevel(tt.in), "input %q", tt.in)
	}
}

func TestSetAndGetPersonality(t *testing.T) {
	original := GetPersonality().Level
	t.Cleanup(func() { SetPersonalityLevel(original) })

	SetPersonalityLevel(PersonalityMachine)
	assert.Equal(t, PersonalityMachine, GetPersonality().Level)

	SetPersonalityLevel(PersonalityFull)
	assert.Equal(t, PersonalityFull, GetPersonality().Level)
}

func TestInitPersonalityEnvOverride(t *testing.T) {
	original := GetPersonality().Level
	t.Cleanup(func() { SetPersonalityLevel(original) })

	t.Setenv("BERTH_PERSONALITY", "minimal")
	InitPersonality()
	assert.Equal(t, PersonalityMinimal, GetPersonality().Level)
}

func TestIconRender(t *testing.T) {
	// Rendering must never be empty regardless of styling.
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconArrow} {
		assert.NotEmpty(t, icon.Render())
	}
}
