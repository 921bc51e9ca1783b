package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codetown/sm/internal/client"
)

var summaryLines int

var summaryCmd = &cobra.Command{
	Use:   "summary <session>",
	Short: "Show the tail of a session's pane",
	Args:  cobra.ExactArgs(1),
	RunE:  runSummary,
}

func init() {
	summaryCmd.Flags().IntVarP(&summaryLines, "lines", "n", 50, "number of pane lines")
	rootCmd.AddCommand(summaryCmd)
}

func runSummary(cmd *cobra.Command, args []string) error {
	api := client.New()
	target, err := api.ResolveSession(args[0])
	if err != nil {
		return err
	}
	out, err := api.Summary(target.ID, summaryLines)
	if err != nil {
		return err
	}
	fmt.Print(out)
	if out != "" && out[len(out)-1] != '\n' {
		fmt.Println()
	}
	return nil
}
