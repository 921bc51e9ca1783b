package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/codetown/sm/internal/client"
	"github.com/codetown/sm/internal/session"
	"github.com/codetown/sm/internal/tmux"
)

var (
	dispatchSpawn bool
	dispatchName  string
)

// Reminder thresholds for dispatched tasks, in seconds. A dispatched
// child that sits on the message past these marks gets flagged in
// pending listings.
const (
	dispatchRemindSoft = 210
	dispatchRemindHard = 420
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <session|--spawn> <task>...",
	Short: "Hand a task to a child session",
	Long: `Dispatch a task to another session and keep tabs on it: the child's
context is cleared, the task is delivered as a fresh role prompt, and
the daemon wakes you periodically with a digest of the child's progress
until its stop hook fires.

With --spawn a fresh child session is created in your working directory
instead, and the task becomes its initial prompt.

Requires running inside a managed session.

Examples:
  sm dispatch backend "port the auth middleware to the new router"
  sm dispatch --spawn --name scout "investigate the flaky websocket test"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDispatch,
}

func init() {
	dispatchCmd.Flags().BoolVar(&dispatchSpawn, "spawn", false, "spawn a new child session for the task")
	dispatchCmd.Flags().StringVar(&dispatchName, "name", "", "friendly name for a spawned child")
	rootCmd.AddCommand(dispatchCmd)
}

func runDispatch(cmd *cobra.Command, args []string) error {
	parent := callerSessionID()
	if parent == "" {
		return fmt.Errorf("dispatch requires running inside a managed session")
	}

	api := client.New()

	if dispatchSpawn {
		child, err := api.Spawn(parent, dispatchPrompt(strings.Join(args, " ")), dispatchName)
		if err != nil {
			return err
		}
		fmt.Printf("Spawned %s; you will be woken with progress digests\n", sessionLabel(child))
		return nil
	}

	if len(args) < 2 {
		return fmt.Errorf("dispatch needs a target session and a task")
	}
	target, err := api.ResolveSession(args[0])
	if err != nil {
		return err
	}
	// Dispatch needs the fence: an unabsorbed idle event would wake the
	// parent before the task even lands.
	if err := clearContext(api, target, true); err != nil {
		return fmt.Errorf("resetting %s before dispatch: %w", sessionLabel(target), err)
	}

	req := client.SendMessageRequest{
		Text:       dispatchPrompt(strings.Join(args[1:], " ")),
		Mode:       "sequential",
		Sender:     parent,
		Parent:     parent,
		RemindSoft: dispatchRemindSoft,
		RemindHard: dispatchRemindHard,
	}
	if err := api.SendMessage(target.ID, req); err != nil {
		return err
	}
	fmt.Printf("Task dispatched to %s; you will be woken with progress digests\n", sessionLabel(target))
	return nil
}

// dispatchPrompt wraps a raw task in the role preamble dispatched
// children receive.
func dispatchPrompt(task string) string {
	return fmt.Sprintf(`You are working on a delegated task. Focus on this task only and report progress as you go.

Task: %s

When the task is complete, summarize what you did and stop.`, task)
}

// clearDebounce is the pause between ESC and /clear so the pane has
// settled before the command is pasted.
var clearDebounce = 200 * time.Millisecond

// clearContext fences the stop-notify state and then sends ESC + /clear
// to the target pane. The fence is armed before any pane input so the
// idle event the clear provokes is absorbed. requireFence aborts when
// the fence cannot be armed; without it the clear still proceeds and
// the failure is only reported.
func clearContext(api *client.Client, target *session.Session, requireFence bool) error {
	fence := func() error { return api.InvalidateCache(target.ID, true) }
	return resetPane(fence, tmux.NewTmux(tmux.Timeouts{}), target.PaneName, requireFence, os.Stderr)
}

func resetPane(fence func() error, ctl tmux.Controller, pane string, requireFence bool, warn io.Writer) error {
	if err := fence(); err != nil {
		if requireFence {
			return fmt.Errorf("fencing stop-notify state: %w", err)
		}
		fmt.Fprintf(warn, "Warning: fencing stop-notify state: %v\n", err)
	}
	if err := ctl.SendKey(pane, "Escape"); err != nil {
		return fmt.Errorf("sending ESC: %w", err)
	}
	time.Sleep(clearDebounce)
	if err := ctl.SendText(pane, "/clear"); err != nil {
		return fmt.Errorf("sending /clear: %w", err)
	}
	return nil
}
