package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codetown/sm/internal/client"
)

var openCmd = &cobra.Command{
	Use:   "open <session>",
	Short: "Open a session's pane in a terminal window",
	Args:  cobra.ExactArgs(1),
	RunE:  runOpen,
}

func init() {
	rootCmd.AddCommand(openCmd)
}

func runOpen(cmd *cobra.Command, args []string) error {
	api := client.New()
	target, err := api.ResolveSession(args[0])
	if err != nil {
		return err
	}
	if err := api.OpenTerminal(target.ID); err != nil {
		return err
	}
	fmt.Printf("Opened terminal for %s\n", sessionLabel(target))
	return nil
}
