package cmd

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/codetown/sm/internal/client"
	"github.com/codetown/sm/internal/provider"
	"github.com/codetown/sm/internal/session"
	"github.com/codetown/sm/internal/tui/events"
)

var tuiCmd = &cobra.Command{
	Use:   "tui <session>",
	Short: "Live event view for a codex-app session",
	Long: `Follow a codex-app session's pane output in a live view. Only
codex-app sessions expose the structured event stream this view reads;
for other providers use sm summary.

Examples:
  sm tui reviewer`,
	Args: cobra.ExactArgs(1),
	RunE: runTui,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTui(cmd *cobra.Command, args []string) error {
	api := client.New()
	target, err := api.ResolveSession(args[0])
	if err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("%w: no such session %q", errUnavailable, args[0])
		}
		return err
	}
	if err := tuiGate(target); err != nil {
		return err
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("%w: tui needs a terminal", errUnavailable)
	}

	p := tea.NewProgram(events.New(api, target), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running event view: %w", err)
	}
	return nil
}

// tuiGate rejects sessions the event view cannot follow. The condition
// is environmental, not an error in the request, so it maps to the
// unavailable exit code.
func tuiGate(target *session.Session) error {
	if target.Provider != provider.CodexApp {
		return fmt.Errorf("%w: tui requires provider=codex-app, session %s has %s",
			errUnavailable, target.ID, target.Provider)
	}
	return nil
}
