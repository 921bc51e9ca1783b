package cmd

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/codetown/sm/internal/client"
	"github.com/codetown/sm/internal/tui/status"
)

var (
	statusWatch bool
	statusAll   bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show all sessions",
	Long: `Print a table of every managed session with its provider, lifecycle
state, current task, and last activity.

With --watch the table becomes a live dashboard that refreshes every
few seconds. Watch mode needs a terminal.

Examples:
  sm status
  sm status --watch`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "live-updating dashboard")
	statusCmd.Flags().BoolVarP(&statusAll, "all", "a", false, "include stopped sessions")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	api := client.New()

	if statusWatch {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("%w: --watch needs a terminal", errUnavailable)
		}
		p := tea.NewProgram(status.New(api), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("running dashboard: %w", err)
		}
		return nil
	}

	sessions, err := api.ListSessions(statusAll)
	if err != nil {
		return err
	}
	fmt.Print(status.RenderSessionTable(sessions))
	return nil
}
