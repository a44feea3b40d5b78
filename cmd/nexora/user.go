// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/nexora/agenda/internal/auth"
)

// userConfig holds the flags of the user commands.
type userConfig struct {
	email string
	name  string
	role  string
}

// NewUserCmd creates the user command group.
func NewUserCmd() *cobra.Command {
	return newUserCmd(nil)
}

func newUserCmd(deps *UserDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Administer user accounts",
	}

	create := &userConfig{}
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account that must change its password on first login",
		Long: `Create an account with an initial password read from the terminal.
The initial password must satisfy the password policy; the user is asked
to replace it before doing anything else.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUserCreate(cmd, create, deps)
		},
	}
	createCmd.Flags().StringVar(&create.email, "email", "", "email address (required)")
	createCmd.Flags().StringVar(&create.name, "name", "", "display name (required)")
	createCmd.Flags().StringVar(&create.role, "role", string(auth.RoleUser), "role (user or admin)")
	_ = createCmd.MarkFlagRequired("email")
	_ = createCmd.MarkFlagRequired("name")

	revoke := &userConfig{}
	revokeCmd := &cobra.Command{
		Use:   "revoke",
		Short: "Sign a user out everywhere",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUserRevoke(cmd, revoke, deps)
		},
	}
	revokeCmd.Flags().StringVar(&revoke.email, "email", "", "email address (required)")
	_ = revokeCmd.MarkFlagRequired("email")

	cmd.AddCommand(createCmd, revokeCmd)
	return cmd
}

func runUserCreate(cmd *cobra.Command, cfg *userConfig, deps *UserDeps) error {
	role := auth.Role(cfg.role)
	if !role.Valid() {
		return oops.Code("CONFIG_INVALID").With("field", "role").Errorf("role must be 'user' or 'admin', got %q", cfg.role)
	}

	p := newPrompter(cmd)
	password, err := p.Password("Initial password")
	if err != nil {
		return err
	}
	confirm, err := p.Password("Repeat password")
	if err != nil {
		return err
	}
	if password != confirm {
		return oops.Code("PASSWORD_MISMATCH").Errorf("passwords do not match")
	}

	return withAccounts(cmd.Context(), deps, func(ctx context.Context, accounts Accounts, logger *slog.Logger) error {
		user, err := accounts.Provision(ctx, auth.ProvisionInput{
			Email:    cfg.email,
			Password: password,
			Name:     cfg.name,
			Role:     role,
		})
		if err != nil {
			return err
		}
		logger.Info("user provisioned", "user_id", user.ID.String(), "email", user.Email, "role", string(user.Role))
		cmd.Printf("Created %s (%s); a password change is required at first login\n", user.Email, user.ID)
		return nil
	})
}

func runUserRevoke(cmd *cobra.Command, cfg *userConfig, deps *UserDeps) error {
	return withAccounts(cmd.Context(), deps, func(ctx context.Context, accounts Accounts, logger *slog.Logger) error {
		if err := accounts.RevokeUser(ctx, cfg.email); err != nil {
			return err
		}
		logger.Info("user sessions revoked", "email", cfg.email)
		cmd.Printf("Revoked sessions of %s\n", cfg.email)
		return nil
	})
}

// withAccounts connects to the database for one administrative call.
func withAccounts(ctx context.Context, deps *UserDeps, fn func(context.Context, Accounts, *slog.Logger) error) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	databaseURL, err := getDatabaseURL()
	if err != nil {
		return err
	}
	logger := slog.Default()
	backend, err := deps.BackendFactory(ctx, databaseURL, logger)
	if err != nil {
		return oops.With("operation", "connect to database").Wrap(err)
	}
	defer backend.Close()
	return fn(ctx, backend.Admin, logger)
}
