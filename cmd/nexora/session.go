// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/nexora/agenda/internal/config"
	"github.com/nexora/agenda/internal/logging"
	"github.com/nexora/agenda/internal/session"
	"github.com/nexora/agenda/pkg/authapi"
	"github.com/nexora/agenda/pkg/errutil"
)

// sessionFlagKeys maps session flags onto configuration keys.
var sessionFlagKeys = config.FlagKeys{
	"base-url":   "client.base_url",
	"state-path": "client.state_path",
}

// NewSessionCmd creates the session command group.
func NewSessionCmd() *cobra.Command {
	return newSessionCmd(nil)
}

func newSessionCmd(deps *SessionDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Sign in to an auth server and manage the local session",
		Long: `Drive a local session against a running nexora server. The token
pair is kept in a SQLite file under the XDG state directory and is
refreshed automatically while a command runs.`,
	}
	cmd.PersistentFlags().String("base-url", config.DefaultClientBaseURL, "auth server base URL")
	cmd.PersistentFlags().String("state-path", "", "session database path (default: XDG_STATE_HOME/nexora/session.db)")

	var loginEmail string
	login := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, deps, func(ctx context.Context, c *session.Client, p *prompter) error {
				addr, err := valueOrPrompt(p, loginEmail, "Email")
				if err != nil {
					return err
				}
				password, err := p.Password("Password")
				if err != nil {
					return err
				}
				if err := c.Login(ctx, addr, password); err != nil {
					return displayError(err, "Erreur de connexion")
				}
				printSignedIn(cmd, c)
				return nil
			})
		},
	}
	login.Flags().StringVar(&loginEmail, "email", "", "email address (prompted when empty)")

	var registerEmail, registerName string
	register := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, deps, func(ctx context.Context, c *session.Client, p *prompter) error {
				addr, err := valueOrPrompt(p, registerEmail, "Email")
				if err != nil {
					return err
				}
				display, err := valueOrPrompt(p, registerName, "Name")
				if err != nil {
					return err
				}
				password, err := p.Password("Password")
				if err != nil {
					return err
				}
				if err := c.Register(ctx, addr, password, display); err != nil {
					return displayError(err, "Erreur d'inscription")
				}
				printSignedIn(cmd, c)
				return nil
			})
		},
	}
	register.Flags().StringVar(&registerEmail, "email", "", "email address (prompted when empty)")
	register.Flags().StringVar(&registerName, "name", "", "display name (prompted when empty)")

	var force bool
	logout := &cobra.Command{
		Use:   "logout",
		Short: "Sign out",
		Long: `Sign out. Without --force the session is refreshed first and kept
when the refresh succeeds; with --force it always ends.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, deps, func(ctx context.Context, c *session.Client, _ *prompter) error {
				if c.State() == session.StateUnauthenticated {
					cmd.Println("Not signed in")
					return nil
				}
				ended, err := c.Logout(ctx, force)
				if err != nil {
					return displayError(err, "Erreur lors de la deconnexion")
				}
				if !ended {
					cmd.Println("Session refreshed and kept; use --force to sign out")
					return nil
				}
				cmd.Println("Signed out")
				return nil
			})
		},
	}
	logout.Flags().BoolVar(&force, "force", false, "end the session without trying a refresh")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the local session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, deps, func(_ context.Context, c *session.Client, _ *prompter) error {
				printStatus(cmd, c)
				return nil
			})
		},
	}

	passwd := &cobra.Command{
		Use:   "passwd",
		Short: "Change the password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, deps, func(ctx context.Context, c *session.Client, p *prompter) error {
				if err := c.Authorize(); err != nil && errutil.Code(err) != authapi.CodePasswordChangeRequired {
					return displayError(err, "Non authentifie")
				}
				current, err := p.Password("Current password")
				if err != nil {
					return err
				}
				next, err := p.Password("New password")
				if err != nil {
					return err
				}
				confirm, err := p.Password("Repeat new password")
				if err != nil {
					return err
				}
				if err := c.ChangePassword(ctx, current, next, confirm); err != nil {
					return displayError(err, "Erreur lors du changement de mot de passe")
				}
				cmd.Println("Password changed")
				return nil
			})
		},
	}

	cmd.AddCommand(login, register, logout, status, passwd)
	return cmd
}

// withSession resumes the stored session, runs fn and releases everything.
func withSession(cmd *cobra.Command, deps *SessionDeps, fn func(context.Context, *session.Client, *prompter) error) error {
	deps = deps.withDefaults()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cmd.Flags(), sessionFlagKeys)
	if err != nil {
		return err
	}
	logger := logging.Setup(logging.Options{
		Service: "nexora-session",
		Version: version,
		Format:  "text",
		Level:   "warn",
	}, cmd.ErrOrStderr())

	store, err := deps.StoreOpener(ctx, cfg.Client)
	if err != nil {
		return oops.With("operation", "open session store").Wrap(err)
	}
	defer func() { _ = store.Close() }()

	api, err := deps.APIFactory(cfg.Client)
	if err != nil {
		return err
	}

	client := session.New(api, store, session.WithLogger(logger))
	defer client.Close()
	if err := client.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, client, newPrompter(cmd))
}

func valueOrPrompt(p *prompter, value, label string) (string, error) {
	if value != "" {
		return value, nil
	}
	return p.Line(label)
}

// displayError keeps err's code but reads as the message meant for users.
func displayError(err error, fallback string) error {
	return oops.Code(errutil.Code(err)).
		With("cause", err.Error()).
		Errorf("%s", session.Message(err, fallback))
}

func printSignedIn(cmd *cobra.Command, c *session.Client) {
	user := c.User()
	if user == nil {
		return
	}
	cmd.Printf("Signed in as %s\n", user.Email)
	if c.MustChangePassword() {
		cmd.Println("A password change is required: run 'nexora session passwd'")
	}
}

func printStatus(cmd *cobra.Command, c *session.Client) {
	cmd.Printf("State: %s\n", c.State())
	user := c.User()
	if user == nil {
		return
	}
	cmd.Printf("User: %s (%s)\n", user.Email, user.Role)
	cmd.Printf("Access expires: %s\n", c.ExpiresAt().Local().Format(time.RFC3339))
	if c.MustChangePassword() {
		cmd.Println("Password change required")
	}
}
