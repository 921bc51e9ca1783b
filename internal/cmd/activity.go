package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codetown/sm/internal/client"
)

var activityCount int

var activityCmd = &cobra.Command{
	Use:   "activity <session>",
	Short: "Show a session's recent tool activity",
	Args:  cobra.ExactArgs(1),
	RunE:  runActivity,
}

func init() {
	activityCmd.Flags().IntVarP(&activityCount, "count", "n", 10, "number of events")
	rootCmd.AddCommand(activityCmd)
}

func runActivity(cmd *cobra.Command, args []string) error {
	api := client.New()
	target, err := api.ResolveSession(args[0])
	if err != nil {
		return err
	}
	events, err := api.Activity(target.ID, activityCount)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Printf("No recorded activity for %s\n", sessionLabel(target))
		return nil
	}
	for _, ev := range events {
		fmt.Printf("- %s\n", ev)
	}
	return nil
}
