package commands

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/dashgate-dev/dashgate/internal/host"
	"github.com/dashgate-dev/dashgate/internal/session"
)

// NewServeCmd creates the serve command
func NewServeCmd(version string) *cobra.Command {
	var open, ephemeral bool
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard client to your browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if ephemeral {
				cfg.Session.Backend = session.BackendMemory
			}
			if address != "" {
				cfg.Server.Address = address
			}

			tracker, closeTracker, err := openTracker(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeTracker()

			srv, err := host.New(cfg, tracker, log, version)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			if open {
				url := cfg.Server.PublicURL
				fmt.Fprintf(cmd.OutOrStdout(), "Opening %s in your browser...\n", url)
				if err := openBrowser(url); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Failed to open browser: %v\nPlease open manually: %s\n", err, url)
				}
			}

			return srv.Start(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&open, "open", false, "Open the dashboard in your browser")
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "Keep the session in memory only")
	cmd.Flags().StringVar(&address, "address", "", "Listen address (overrides server.address)")

	return cmd
}

// openBrowser opens the specified URL in the default browser
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}
