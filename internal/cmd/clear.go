package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codetown/sm/internal/client"
)

var clearCmd = &cobra.Command{
	Use:   "clear <session>",
	Short: "Clear a session's conversation context",
	Long: `Clear the target agent's conversation context by sending ESC followed
by the /clear command.

The stop-notify state is fenced first, so the idle event the clear
provokes is absorbed instead of pinging whoever was waiting on the
session.

Examples:
  sm clear backend`,
	Args: cobra.ExactArgs(1),
	RunE: runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	api := client.New()
	target, err := api.ResolveSession(args[0])
	if err != nil {
		return err
	}

	// Clearing is still worth doing when the fence fails; the worst case
	// is a spurious wake for whoever armed stop-notify.
	if err := clearContext(api, target, false); err != nil {
		return err
	}

	fmt.Printf("Context cleared for %s\n", sessionLabel(target))
	return nil
}
