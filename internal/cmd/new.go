package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codetown/sm/internal/client"
)

var (
	newDir      string
	newProvider string
	newModel    string
	newName     string
)

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new agent session",
	Long: `Start a new agent session in a tmux pane and begin monitoring it.

The working directory defaults to the current directory; the provider
defaults to claude.

Examples:
  sm new
  sm new --dir ~/src/api --name backend
  sm new --provider codex --model gpt-5`,
	Args: cobra.NoArgs,
	RunE: runNew,
}

func init() {
	newCmd.Flags().StringVarP(&newDir, "dir", "d", "", "working directory (default: current)")
	newCmd.Flags().StringVarP(&newProvider, "provider", "p", "", "agent provider (claude, codex, codex-app)")
	newCmd.Flags().StringVarP(&newModel, "model", "m", "", "model override for the provider")
	newCmd.Flags().StringVarP(&newName, "name", "n", "", "friendly name for the session")
	rootCmd.AddCommand(newCmd)
}

func runNew(cmd *cobra.Command, args []string) error {
	dir := newDir
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
	}

	api := client.New()
	sess, err := api.CreateSession(client.CreateSessionRequest{
		WorkingDir:   dir,
		Provider:     newProvider,
		Model:        newModel,
		FriendlyName: newName,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Started %s in %s\n", sessionLabel(sess), sess.WorkingDir)
	fmt.Printf("Attach with: tmux attach -t %s\n", sess.Name)
	return nil
}
