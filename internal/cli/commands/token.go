package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dashgate-dev/dashgate/internal/client"
	"github.com/dashgate-dev/dashgate/internal/dashboard"
	"github.com/dashgate-dev/dashgate/internal/guesttoken"
	"github.com/dashgate-dev/dashgate/internal/session"
)

// NewTokenCmd creates the token command
func NewTokenCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Fetch and decode a guest token for the current session",
		Long: `Fetch a guest token exactly as the dashboard view would for the stored
session and print its claims. The signature is not verified.`,
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

			backend := client.New(cfg.API.BaseURL, cfg.API.Timeout)
			fetcher := guesttoken.NewFetcher(backend, cfg.Superset.FullUserFallback, log)
			return runToken(cmd.Context(), cmd.OutOrStdout(), tracker, fetcher, raw, time.Now())
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print only the encoded token")

	return cmd
}

// routeFor derives the dashboard route a session is entitled to
func routeFor(sess session.Session) (dashboard.Route, error) {
	switch {
	case !sess.Authenticated:
		return dashboard.Route{}, fmt.Errorf("not logged in. Run 'dashgate login' first")
	case sess.Role == session.RoleAdmin:
		return dashboard.Route{Mode: guesttoken.ModeFull, Identity: sess.Identity}, nil
	default:
		return dashboard.Route{Mode: guesttoken.ModeRLS, Identity: sess.Identity}, nil
	}
}

func runToken(ctx context.Context, out io.Writer, tracker *session.Tracker, fetcher dashboard.Fetcher, raw bool, now time.Time) error {
	sess, err := tracker.Refresh(ctx)
	if err != nil {
		return err
	}
	route, err := routeFor(sess)
	if err != nil {
		return err
	}

	cred, err := fetcher.Fetch(ctx, route.Mode, route.Identity)
	if err != nil {
		return err
	}

	if raw {
		fmt.Fprintln(out, cred.Token)
		return nil
	}

	fmt.Fprintln(out, route.Title())
	fmt.Fprintf(out, "  Mode: %s\n", cred.Mode)
	fmt.Fprintf(out, "  Identity: %s\n", cred.Identity)

	claims, err := guesttoken.Inspect(cred.Token)
	if err != nil {
		fmt.Fprintf(out, "  Token: %s (not a decodable JWT)\n", cred.Token)
		return nil
	}

	if claims.User.Username != "" {
		fmt.Fprintf(out, "  Guest user: %s\n", claims.User.Username)
	}
	for _, r := range claims.Resources {
		fmt.Fprintf(out, "  Resource: %s %s\n", r.Type, r.ID)
	}
	if len(claims.RLSRules) == 0 {
		fmt.Fprintln(out, "  RLS: none")
	}
	for _, rule := range claims.RLSRules {
		fmt.Fprintf(out, "  RLS: %s\n", strings.TrimSpace(rule.Clause))
	}

	if claims.ExpiresAt != nil {
		remaining := claims.ExpiresIn(now)
		if remaining <= 0 {
			fmt.Fprintf(out, "  Expires: %s (expired)\n", claims.ExpiresAt.UTC().Format(time.RFC3339))
		} else {
			fmt.Fprintf(out, "  Expires: %s (in %s)\n", claims.ExpiresAt.UTC().Format(time.RFC3339), remaining.Round(time.Second))
		}
	}
	return nil
}
