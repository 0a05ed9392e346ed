package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dashgate-dev/dashgate/internal/client"
	"github.com/dashgate-dev/dashgate/internal/gate"
	"github.com/dashgate-dev/dashgate/internal/session"
)

// Authenticator checks credentials with the backend
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*client.LoginResponse, error)
}

var _ Authenticator = (*client.Client)(nil)

// NewLoginCmd creates the login command
func NewLoginCmd() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in as admin or a manufacturer",
		Long: `Log in against the dashboard backend and store the session.

Every running 'dashgate serve' sharing the same session store picks the login up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			tracker, closeTracker, err := openTracker(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeTracker()

			if username == "" {
				username = os.Getenv("DASHGATE_USERNAME")
			}
			if password == "" {
				password = os.Getenv("DASHGATE_PASSWORD")
			}

			backend := client.New(cfg.API.BaseURL, cfg.API.Timeout)
			return runLogin(cmd.Context(), cmd.OutOrStdout(), backend, tracker, terminalPrompter{}, username, password)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Username: admin or a manufacturer name (or set DASHGATE_USERNAME)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set DASHGATE_PASSWORD, will prompt if not provided)")

	return cmd
}

func runLogin(ctx context.Context, out io.Writer, backend Authenticator, tracker *session.Tracker, prompter Prompter, username, password string) error {
	var err error
	if username == "" {
		if username, err = prompter.Username(); err != nil {
			return err
		}
	}
	if password == "" {
		if password, err = prompter.Password(); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Logging in as %s...\n", username)

	resp, err := backend.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	role, err := session.ParseRole(resp.UserType)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	identity := resp.UserIdentifier
	if identity == "" && role == session.RoleAdmin {
		identity = session.AdminIdentity
	}

	sess, err := tracker.Login(ctx, role, identity)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	fmt.Fprintln(out, "✓ Login successful!")
	fmt.Fprintf(out, "  User: %s\n", sess.Identity)
	fmt.Fprintf(out, "  Role: %s\n", sess.Role)
	fmt.Fprintf(out, "  Dashboard: %s\n", gate.DefaultPath(sess))
	return nil
}
