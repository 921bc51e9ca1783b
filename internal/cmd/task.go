package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codetown/sm/internal/client"
)

var taskCmd = &cobra.Command{
	Use:   "task <session> <description>...",
	Short: "Set a session's current task",
	Long: `Record what a session is working on. The task shows up in sm status
and in parent digests.

Examples:
  sm task backend "migrating the billing tables"`,
	Args: cobra.MinimumNArgs(2),
	RunE: runTask,
}

func init() {
	rootCmd.AddCommand(taskCmd)
}

func runTask(cmd *cobra.Command, args []string) error {
	api := client.New()
	target, err := api.ResolveSession(args[0])
	if err != nil {
		return err
	}
	if err := api.SetTask(target.ID, strings.Join(args[1:], " ")); err != nil {
		return err
	}
	fmt.Printf("Task updated for %s\n", sessionLabel(target))
	return nil
}
