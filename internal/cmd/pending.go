package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codetown/sm/internal/client"
	"github.com/codetown/sm/internal/style"
)

var pendingCmd = &cobra.Command{
	Use:   "pending <session>",
	Short: "List a session's undelivered messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runPending,
}

func init() {
	rootCmd.AddCommand(pendingCmd)
}

func runPending(cmd *cobra.Command, args []string) error {
	api := client.New()
	target, err := api.ResolveSession(args[0])
	if err != nil {
		return err
	}
	msgs, err := api.PendingMessages(target.ID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Printf("No pending messages for %s\n", sessionLabel(target))
		return nil
	}

	table := style.NewTable(
		style.Column{Name: "ID", Width: 6, Align: style.AlignRight},
		style.Column{Name: "MODE", Width: 10},
		style.Column{Name: "SENDER", Width: 10},
		style.Column{Name: "ATTEMPTS", Width: 8, Align: style.AlignRight},
		style.Column{Name: "TEXT", Width: 48},
	)
	for _, m := range msgs {
		table.AddRow(
			fmt.Sprintf("%d", m.ID),
			m.Mode,
			m.Sender,
			fmt.Sprintf("%d", m.Attempts),
			m.Text,
		)
	}
	fmt.Print(table.Render())
	return nil
}
