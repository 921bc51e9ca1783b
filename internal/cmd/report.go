package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codetown/sm/internal/client"
)

var reportCmd = &cobra.Command{
	Use:   "report <status>...",
	Short: "Report your current status",
	Long: `Record a one-line status for the calling session. The status shows up
in sm status and in the digests your parent receives.

Requires running inside a managed session.

Examples:
  sm report "tests passing, writing docs"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	id := callerSessionID()
	if id == "" {
		return fmt.Errorf("report requires running inside a managed session")
	}
	if err := client.New().ReportAgentStatus(id, strings.Join(args, " ")); err != nil {
		return err
	}
	fmt.Println("Status reported")
	return nil
}
