// Package provider models the per-agent-CLI differences in lifecycle
// detection. Claude-family agents are classified from pane text heuristics;
// codex variants expose less through the pane and rely on hook events.
package provider

import (
	"strings"
)

// Tag identifies an agent provider.
type Tag string

const (
	Claude   Tag = "claude"
	Codex    Tag = "codex"
	CodexApp Tag = "codex-app"
)

// State is a provider-level classification of a pane capture.
type State int

const (
	StateUnknown State = iota
	StateRunning
	StateWaitingInput
	StateWaitingPermission
	StateError
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateWaitingInput:
		return "waiting_input"
	case StateWaitingPermission:
		return "waiting_permission"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Provider is the capability interface for one agent CLI flavor.
type Provider interface {
	// Tag returns the provider identifier.
	Tag() Tag
	// DetectState classifies a pane capture.
	DetectState(capture string) State
	// PromptVisible reports whether the agent's input prompt is showing in
	// the capture tail. Used to close the stale-idle delivery race.
	PromptVisible(capture string) bool
	// PeekUserInput returns any text the human has already typed at the
	// prompt, or "" if the prompt line is empty. ok is false when the
	// provider cannot observe typed input at all.
	PeekUserInput(capture string) (text string, ok bool)
	// Command builds the agent startup command for a new pane.
	Command(model string) string
}

// registry maps tags to providers. Populated at init; read-only afterwards.
var registry = map[Tag]Provider{
	Claude:   claudeProvider{},
	Codex:    codexProvider{app: false},
	CodexApp: codexProvider{app: true},
}

// Lookup returns the provider for a tag, defaulting to Claude for unknown
// tags so that legacy state files keep working.
func Lookup(tag Tag) Provider {
	if p, ok := registry[tag]; ok {
		return p
	}
	return registry[Claude]
}

// Valid reports whether the tag names a known provider.
func Valid(tag Tag) bool {
	_, ok := registry[tag]
	return ok
}

// tailLines returns the last n non-empty lines of a capture.
func tailLines(capture string, n int) []string {
	lines := strings.Split(strings.TrimRight(capture, "\n"), "\n")
	var tail []string
	for i := len(lines) - 1; i >= 0 && len(tail) < n; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		tail = append([]string{lines[i]}, tail...)
	}
	return tail
}
