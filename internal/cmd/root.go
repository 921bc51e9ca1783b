// Package cmd implements the sm command line interface.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codetown/sm/internal/config"
)

// errUnavailable marks a feature that cannot work in the current
// environment (wrong provider, no TTY). It maps to exit code 2.
var errUnavailable = errors.New("feature unavailable")

var rootCmd = &cobra.Command{
	Use:   "sm",
	Short: "Manage multi-agent coding sessions",
	Long: `sm supervises long-running AI coding agents in tmux panes: it creates
sessions, routes messages between them, watches their output for
lifecycle events, and coordinates parent/child hand-offs.

The sm daemon (smd, or 'sm serve') must be running; the CLI talks to it
over the loopback HTTP API. Set ` + config.EnvAPIURL + ` to reach a daemon on a
non-default port.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and returns the process exit code: 0 on success,
// 1 on failure, 2 when a feature is unavailable.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errUnavailable) {
			return 2
		}
		return 1
	}
	return 0
}

// callerSessionID returns the session id of the invoking agent, if the
// command runs inside a managed session.
func callerSessionID() string {
	return os.Getenv(config.EnvSessionID)
}
