package provider

import (
	"fmt"
	"strings"
)

// codexProvider classifies codex panes. The codex TUI prompt is a "▌"
// cursor block on the composer line; the app variant (codex-app) renders
// the composer off-pane, so typed input can never be observed.
type codexProvider struct {
	app bool
}

func (p codexProvider) Tag() Tag {
	if p.app {
		return CodexApp
	}
	return Codex
}

var codexPromptMarkers = []string{
	"▌",
	"› ",
	"Ctrl+C to quit",
}

var codexErrorMarkers = []string{
	"stream error:",
	"fatal:",
}

func (p codexProvider) DetectState(capture string) State {
	for _, m := range codexErrorMarkers {
		if strings.Contains(capture, m) {
			return StateError
		}
	}
	if strings.Contains(capture, "Allow command?") || strings.Contains(capture, "Approve this action?") {
		return StateWaitingPermission
	}
	if p.PromptVisible(capture) {
		return StateWaitingInput
	}
	return StateRunning
}

func (p codexProvider) PromptVisible(capture string) bool {
	for _, line := range tailLines(capture, 4) {
		for _, m := range codexPromptMarkers {
			if strings.Contains(line, m) {
				return true
			}
		}
	}
	return false
}

// PeekUserInput is unsupported for codex-app (the composer is not part of
// the pane); for codex it reads the composer line.
func (p codexProvider) PeekUserInput(capture string) (string, bool) {
	if p.app {
		return "", false
	}
	for _, line := range tailLines(capture, 4) {
		if idx := strings.Index(line, "▌"); idx >= 0 {
			return strings.TrimSpace(line[:idx]), true
		}
	}
	return "", true
}

func (p codexProvider) Command(model string) string {
	bin := "codex"
	if p.app {
		bin = "codex app"
	}
	if model == "" {
		return bin
	}
	return fmt.Sprintf("%s --model %s", bin, model)
}
