// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

// Package xdg resolves XDG Base Directory locations for nexora.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "nexora"

// ConfigDir returns $XDG_CONFIG_HOME/nexora, defaulting to ~/.config/nexora.
func ConfigDir() (string, error) {
	return resolve("XDG_CONFIG_HOME", ".config")
}

// StateDir returns $XDG_STATE_HOME/nexora, defaulting to ~/.local/state/nexora.
// The CLI keeps the session database here.
func StateDir() (string, error) {
	return resolve("XDG_STATE_HOME", ".local", "state")
}

// ConfigFile is the default config path, ConfigDir()/config.yaml.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// SessionStatePath is the default session database, StateDir()/session.db.
func SessionStatePath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.db"), nil
}

func resolve(envVar string, fallback ...string) (string, error) {
	if base := os.Getenv(envVar); base != "" {
		return filepath.Join(base, appName), nil
	}
	home := os.Getenv("HOME")
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return "", oops.Code("XDG_HOME_UNKNOWN").With("env", envVar).Wrap(err)
		}
	}
	return filepath.Join(append(append([]string{home}, fallback...), appName)...), nil
}

// EnsureDir creates path and its parents with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.Code("XDG_MKDIR_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
