package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codetown/sm/internal/client"
)

var killPurge bool

var killCmd = &cobra.Command{
	Use:   "kill <session>",
	Short: "Stop a session",
	Long: `Kill a session's tmux pane and stop monitoring it. The session record
is kept with status stopped so its history stays visible; --purge drops
the record too.

Examples:
  sm kill backend
  sm kill abc12345 --purge`,
	Args: cobra.ExactArgs(1),
	RunE: runKill,
}

func init() {
	killCmd.Flags().BoolVar(&killPurge, "purge", false, "remove the session record as well")
	rootCmd.AddCommand(killCmd)
}

func runKill(cmd *cobra.Command, args []string) error {
	api := client.New()
	target, err := api.ResolveSession(args[0])
	if err != nil {
		return err
	}
	if err := api.KillSession(target.ID, killPurge); err != nil {
		return err
	}
	if killPurge {
		fmt.Printf("Killed and purged %s\n", sessionLabel(target))
	} else {
		fmt.Printf("Killed %s\n", sessionLabel(target))
	}
	return nil
}
