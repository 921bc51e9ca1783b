package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codetown/sm/internal/client"
)

var (
	sendUrgent    bool
	sendImportant bool
	sendNotify    bool
)

var sendCmd = &cobra.Command{
	Use:   "send <session> <text>...",
	Short: "Send text to a session",
	Long: `Send text to another session. By default the text is pasted straight
in when the target is sitting at its prompt and queued for its next
natural pause otherwise; --urgent pastes it immediately, --important
delivers at the next visible prompt.

With --notify, you are notified when the target finishes the turn your
message started. Requires running inside a managed session.

Examples:
  sm send backend "please rebase onto main"
  sm send abc12345 --urgent "stop, the build is broken"
  sm send backend --notify "run the release checklist"`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().BoolVar(&sendUrgent, "urgent", false, "deliver immediately, bypassing idle checks")
	sendCmd.Flags().BoolVar(&sendImportant, "important", false, "deliver at the next visible prompt")
	sendCmd.Flags().BoolVar(&sendNotify, "notify", false, "notify me when the target finishes")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	if sendUrgent && sendImportant {
		return fmt.Errorf("--urgent and --important are mutually exclusive")
	}

	api := client.New()
	target, err := api.ResolveSession(args[0])
	if err != nil {
		return err
	}

	mode := "sequential"
	if sendUrgent {
		mode = "urgent"
	} else if sendImportant {
		mode = "important"
	}

	sender := callerSessionID()
	if sendNotify && sender == "" {
		return fmt.Errorf("--notify requires running inside a managed session")
	}

	// A plain send takes the direct-input path: pasted now if the target
	// is at its prompt, queued otherwise. The outcome says which.
	if !sendUrgent && !sendImportant && !sendNotify {
		res, err := api.SendInput(target.ID, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		switch res.Outcome {
		case "DELIVERED":
			fmt.Printf("Message delivered to %s\n", sessionLabel(target))
		case "QUEUED":
			fmt.Printf("Message queued for %s (sequential delivery)\n", sessionLabel(target))
		default:
			return fmt.Errorf("delivery to %s failed: %s", sessionLabel(target), res.Detail)
		}
		return nil
	}

	// Urgent sends from a managed session imply a reply notification:
	// the sender interrupted the target and wants to know when it is done.
	armNotify := sendNotify || (sendUrgent && sender != "")

	req := client.SendMessageRequest{
		Text:          strings.Join(args[1:], " "),
		Mode:          mode,
		Sender:        sender,
		ArmStopNotify: armNotify,
	}
	if err := api.SendMessage(target.ID, req); err != nil {
		return err
	}

	fmt.Printf("Message queued for %s (%s delivery)\n", sessionLabel(target), mode)
	return nil
}
