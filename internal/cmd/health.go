package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/codetown/sm/internal/client"
	"github.com/codetown/sm/internal/style"
)

var healthDetailed bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check daemon health",
	Long: `Report the daemon's health. The plain form prints one word; --detailed
breaks the report down per subsystem (state file, tmux, message queue,
notifications, monitors).

Examples:
  sm health
  sm health --detailed`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func init() {
	healthCmd.Flags().BoolVar(&healthDetailed, "detailed", false, "per-subsystem breakdown")
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	api := client.New()

	if !healthDetailed {
		status, err := api.Health()
		if err != nil {
			return err
		}
		fmt.Println(style.Health(status))
		return nil
	}

	report, err := api.HealthDetailed()
	if err != nil {
		return err
	}

	fmt.Printf("Overall: %s\n\n", style.Health(report.Status))

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		fmt.Printf("  %-16s %s  %s\n", name, style.Health(check.Status), check.Message)
	}

	if len(report.Resources) > 0 {
		fmt.Printf("\nResources: %d active / %d total sessions, %d monitors, %d queued messages\n",
			report.Resources["active_sessions"],
			report.Resources["total_sessions"],
			report.Resources["monitor_tasks"],
			report.Resources["queued_messages"])
	}
	return nil
}
