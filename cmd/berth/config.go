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
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the optional on-disk configuration. Every field has a
// working default; flags override file values.
type Config struct {
	// TargetDir is the default install root.
	TargetDir string `yaml:"target_dir"`

	// LogDir enables file logging when set.
	LogDir string `yaml:"log_dir"`

	// LogLevel is debug, info, warn, or error.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// MinFreeMB is the pre-flight free-space floor in megabytes.
	MinFreeMB int64 `yaml:"min_free_mb" validate:"gte=0"`

	// StepTimeoutSeconds bounds external commands (dependency installs).
	StepTimeoutSeconds int `yaml:"step_timeout_seconds" validate:"gte=0"`

	// BackupKeep caps rotated backups per edited document. 0 keeps all.
	BackupKeep int `yaml:"backup_keep" validate:"gte=0"`

	// ClientConfigPaths overrides client config locations by client name.
	ClientConfigPaths map[string]string `yaml:"client_config_paths"`

	// Personality is full, minimal, or machine.
	Personality string `yaml:"personality" validate:"omitempty,oneof=full minimal machine"`

	// LockDir holds advisory lock files guarding edited documents.
	// Empty disables cross-process locking.
	LockDir string `yaml:"lock_dir"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		TargetDir: filepath.Join(configHome(), "berth", "servers"),
		LogLevel:  "info",
		LockDir:   filepath.Join(configHome(), "berth", "locks"),
	}
}

// DefaultConfigPath is where LoadConfig looks when no --config flag is
// given.
func DefaultConfigPath() string {
	return filepath.Join(configHome(), "berth", "config.yaml")
}

// LoadConfig reads and validates a YAML config file.
//
// A missing file at the default path is not an error; the defaults
// apply. A missing file at an explicitly requested path is.
func LoadConfig(path string, explicit bool) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && !explicit {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func configHome() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config")
}
