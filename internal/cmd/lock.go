package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/codetown/sm/internal/lock"
	"github.com/codetown/sm/internal/style"
)

var (
	lockTask   string
	lockBranch string
	lockDir    string
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Manage the workspace lock",
	Long: `Coordinate exclusive access to a repository between sessions. The lock
is a plain file under .claude/ in the repository root; locks older than
30 minutes are treated as abandoned.

Examples:
  sm lock acquire --task "refactor auth" --branch feat/auth
  sm lock check
  sm lock release`,
}

var lockAcquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Claim the workspace for this session",
	Args:  cobra.NoArgs,
	RunE:  runLockAcquire,
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Give up the workspace lock",
	Args:  cobra.NoArgs,
	RunE:  runLockRelease,
}

var lockCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Show who holds the workspace lock",
	Args:  cobra.NoArgs,
	RunE:  runLockCheck,
}

func init() {
	lockCmd.PersistentFlags().StringVarP(&lockDir, "dir", "d", "", "repository root (default: current directory)")
	lockAcquireCmd.Flags().StringVar(&lockTask, "task", "", "what the lock holder is working on")
	lockAcquireCmd.Flags().StringVar(&lockBranch, "branch", "", "branch the lock holder is on")
	lockCmd.AddCommand(lockAcquireCmd, lockReleaseCmd, lockCheckCmd)
	rootCmd.AddCommand(lockCmd)
}

func lockPath() (string, error) {
	dir := lockDir
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolving repository root: %w", err)
		}
	}
	return lock.PathFor(dir), nil
}

func runLockAcquire(cmd *cobra.Command, args []string) error {
	path, err := lockPath()
	if err != nil {
		return err
	}
	res, err := lock.TryAcquire(path, callerSessionID(), lockTask, lockBranch)
	if err != nil {
		return err
	}
	if res.LockedByOther {
		return fmt.Errorf("workspace locked by session %s", res.OwnerSessionID)
	}
	fmt.Println("Workspace lock acquired")
	return nil
}

func runLockRelease(cmd *cobra.Command, args []string) error {
	path, err := lockPath()
	if err != nil {
		return err
	}
	released, err := lock.Release(path, callerSessionID())
	if err != nil {
		return err
	}
	if released {
		fmt.Println("Workspace lock released")
	} else {
		fmt.Println("No lock held by this session")
	}
	return nil
}

func runLockCheck(cmd *cobra.Command, args []string) error {
	path, err := lockPath()
	if err != nil {
		return err
	}
	info, err := lock.Check(path)
	if err != nil {
		return err
	}
	if info == nil {
		fmt.Println("Workspace is unlocked")
		return nil
	}

	state := "held"
	if info.Stale(time.Now()) {
		state = style.Warn.Render("stale")
	}
	fmt.Printf("Workspace lock %s by session %s\n", state, info.Session)
	if info.Task != "" {
		fmt.Printf("  task:    %s\n", info.Task)
	}
	if info.Branch != "" {
		fmt.Printf("  branch:  %s\n", info.Branch)
	}
	if !info.Started.IsZero() {
		fmt.Printf("  started: %s\n", info.Started.Format(time.RFC3339))
	}
	return nil
}
