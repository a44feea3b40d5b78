// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nexora/agenda/internal/config"
	"github.com/nexora/agenda/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the nexora CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nexora",
		Short: "Nexora Agenda authentication server and client",
		Long: `nexora runs the Nexora Agenda authentication API and drives a
local session against it: sign in, refresh, change password, sign out.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/nexora/config.yaml if present)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewUserCmd())
	cmd.AddCommand(NewSessionCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// configPath returns the --config value, or the XDG config file when it
// exists, or "" to run on defaults.
func configPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	path, err := xdg.ConfigFile()
	if err != nil {
		return "", nil //nolint:nilerr // no home directory means no default file
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return path, nil
}

// loadConfig loads the configuration with the command's mapped flags.
func loadConfig(flags *pflag.FlagSet, keys config.FlagKeys) (*config.Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	return config.Load(path, flags, keys)
}
