package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dashgate-dev/dashgate/internal/session"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session",
		Long: `Clear the stored session. Running servers sharing the store log out
and tear down their dashboard.`,
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

			return runLogout(cmd.Context(), cmd.OutOrStdout(), tracker)
		},
	}
}

func runLogout(ctx context.Context, out io.Writer, tracker *session.Tracker) error {
	prev := tracker.Current()
	if err := tracker.Logout(ctx); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}

	if prev.Authenticated {
		fmt.Fprintf(out, "✓ Logged out %s\n", prev.Identity)
	} else {
		fmt.Fprintln(out, "Not logged in")
	}
	return nil
}
