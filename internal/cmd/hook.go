package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codetown/sm/internal/client"
)

var (
	hookEvent   string
	hookPercent float64
)

var hookCmd = &cobra.Command{
	Use:    "hook",
	Short:  "Report agent hook events to the daemon",
	Hidden: true,
}

var hookStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Report that the agent finished its turn",
	Args:  cobra.NoArgs,
	RunE:  runHookStop,
}

var hookContextCmd = &cobra.Command{
	Use:   "context-usage",
	Short: "Report a context-usage event",
	Args:  cobra.NoArgs,
	RunE:  runHookContext,
}

func init() {
	hookContextCmd.Flags().StringVar(&hookEvent, "event", "", "hook event (warning, critical, context_reset)")
	hookContextCmd.Flags().Float64Var(&hookPercent, "percent", 0, "context usage percentage")
	hookCmd.AddCommand(hookStopCmd, hookContextCmd)
	rootCmd.AddCommand(hookCmd)
}

func runHookStop(cmd *cobra.Command, args []string) error {
	id := callerSessionID()
	if id == "" {
		return fmt.Errorf("hook stop requires running inside a managed session")
	}
	return client.New().ReportStop(id)
}

func runHookContext(cmd *cobra.Command, args []string) error {
	id := callerSessionID()
	if id == "" {
		return fmt.Errorf("hook context-usage requires running inside a managed session")
	}
	return client.New().ReportContextUsage(id, hookEvent, hookPercent)
}
