// Package tmux provides a wrapper for tmux pane operations via subprocess.
package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Common errors
var (
	ErrNoServer        = errors.New("no tmux server running")
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
)

// Controller is the surface the session manager drives panes through.
// Each agent session runs inside one tmux session; "pane" here refers to
// the first pane of that session.
type Controller interface {
	// Exists reports whether a pane with the given name is alive.
	Exists(name string) (bool, error)
	// CreateWithCommand creates a detached pane running command in workDir.
	CreateWithCommand(name, workDir, command string) error
	// SendText pastes text into the pane and submits it with Enter.
	SendText(name, text string) error
	// SendKey sends a single raw key (e.g. "Escape", "Enter", "C-c").
	SendKey(name, key string) error
	// Capture returns the last lines of visible pane content.
	Capture(name string, lines int) (string, error)
	// Kill terminates the pane.
	Kill(name string) error
	// List returns all live pane names.
	List() ([]string, error)
	// OpenInTerminal attaches the user's terminal to the pane.
	OpenInTerminal(name string) error
}

// Timeouts bound the subprocess calls. Zero values fall back to defaults.
type Timeouts struct {
	SendText time.Duration
	Capture  time.Duration
}

func (t Timeouts) sendText() time.Duration {
	if t.SendText > 0 {
		return t.SendText
	}
	return 2 * time.Second
}

func (t Timeouts) capture() time.Duration {
	if t.Capture > 0 {
		return t.Capture
	}
	return 5 * time.Second
}

// Tmux wraps tmux operations. It implements Controller.
type Tmux struct {
	timeouts Timeouts
	// debounce is the delay between pasting text and pressing Enter, so the
	// paste is fully processed before submission.
	debounce time.Duration
}

// NewTmux creates a new Tmux wrapper with the given subprocess timeouts.
func NewTmux(timeouts Timeouts) *Tmux {
	return &Tmux{timeouts: timeouts, debounce: 100 * time.Millisecond}
}

// run executes a tmux command with a deadline and returns stdout.
func (t *Tmux) run(timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "tmux", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("tmux %s: timeout after %s", args[0], timeout)
	}
	if err != nil {
		return "", t.wrapError(err, stderr.String(), args)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// wrapError wraps tmux errors with context.
func (t *Tmux) wrapError(err error, stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)

	if strings.Contains(stderr, "no server running") ||
		strings.Contains(stderr, "error connecting to") {
		return ErrNoServer
	}
	if strings.Contains(stderr, "duplicate session") {
		return ErrSessionExists
	}
	if strings.Contains(stderr, "session not found") ||
		strings.Contains(stderr, "can't find session") {
		return ErrSessionNotFound
	}

	if stderr != "" {
		return fmt.Errorf("tmux %s: %s", args[0], stderr)
	}
	return fmt.Errorf("tmux %s: %w", args[0], err)
}

// Exists checks if a pane exists (exact match).
// Uses "=" prefix for exact matching, preventing prefix matches
// (e.g., "claude-abc" won't match when checking for "claude-ab").
func (t *Tmux) Exists(name string) (bool, error) {
	_, err := t.run(t.timeouts.capture(), "has-session", "-t", "="+name)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateWithCommand creates a new detached pane that immediately runs a
// command. Running the command as the pane's initial process avoids the race
// where input arrives before a shell prompt is ready.
func (t *Tmux) CreateWithCommand(name, workDir, command string) error {
	args := []string{"new-session", "-d", "-s", name}
	if workDir != "" {
		args = append(args, "-c", workDir)
	}
	args = append(args, command)
	_, err := t.run(t.timeouts.capture(), args...)
	return err
}

// SendText pastes text into the pane and presses Enter.
// The text is sent in literal mode (-l) to handle special characters, then
// Enter is sent as a separate command after a short debounce. Appending a
// newline to the paste drops input on slow panes.
func (t *Tmux) SendText(name, text string) error {
	if _, err := t.run(t.timeouts.sendText(), "send-keys", "-t", name, "-l", text); err != nil {
		return err
	}
	if t.debounce > 0 {
		time.Sleep(t.debounce)
	}
	_, err := t.run(t.timeouts.sendText(), "send-keys", "-t", name, "Enter")
	return err
}

// SendKey sends a single raw key without adding Enter.
func (t *Tmux) SendKey(name, key string) error {
	_, err := t.run(t.timeouts.sendText(), "send-keys", "-t", name, key)
	return err
}

// Capture captures the last lines of visible pane content.
func (t *Tmux) Capture(name string, lines int) (string, error) {
	return t.run(t.timeouts.capture(), "capture-pane", "-p", "-t", name, "-S", fmt.Sprintf("-%d", lines))
}

// Kill terminates the pane.
func (t *Tmux) Kill(name string) error {
	_, err := t.run(t.timeouts.capture(), "kill-session", "-t", name)
	return err
}

// List returns all live pane names.
func (t *Tmux) List() ([]string, error) {
	out, err := t.run(t.timeouts.capture(), "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			return nil, nil // No server = no panes
		}
		return nil, err
	}

	if out == "" {
		return nil, nil
	}

	return strings.Split(out, "\n"), nil
}

// OpenInTerminal opens the pane in a new terminal window by launching the
// first available terminal emulator running `tmux attach`.
func (t *Tmux) OpenInTerminal(name string) error {
	attach := fmt.Sprintf("tmux attach -t %s", name)
	candidates := [][]string{
		{"x-terminal-emulator", "-e", "sh", "-c", attach},
		{"gnome-terminal", "--", "sh", "-c", attach},
		{"xterm", "-e", attach},
	}
	var lastErr error
	for _, c := range candidates {
		if _, err := exec.LookPath(c[0]); err != nil {
			continue
		}
		cmd := exec.Command(c[0], c[1:]...)
		if err := cmd.Start(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("opening terminal: %w", lastErr)
	}
	return errors.New("no terminal emulator found")
}

// IsAvailable checks if tmux is installed and can be invoked.
func (t *Tmux) IsAvailable() bool {
	cmd := exec.Command("tmux", "-V")
	return cmd.Run() == nil
}
