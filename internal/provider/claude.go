package provider

import (
	"fmt"
	"strings"
)

// claudeProvider classifies Claude Code panes. Claude renders its input
// prompt as a "> " glyph inside a box-drawing frame; permission dialogs
// contain a question plus a numbered accept option.
type claudeProvider struct{}

func (claudeProvider) Tag() Tag { return Claude }

// permissionMarkers are substrings that identify a permission dialog.
// Matched case-sensitively against the visible region.
var permissionMarkers = []string{
	"Do you want to proceed?",
	"Do you want to allow",
	"Bypass Permissions mode",
	"1. Yes",
}

// fatalMarkers identify provider-reported fatal output.
var fatalMarkers = []string{
	"Fatal error:",
	"Credit balance is too low",
	"API Error: 401",
}

func (p claudeProvider) DetectState(capture string) State {
	for _, m := range fatalMarkers {
		if strings.Contains(capture, m) {
			return StateError
		}
	}
	// Permission dialogs take precedence over the idle prompt: the dialog
	// is rendered in the same region the prompt would occupy.
	if p.permissionVisible(capture) {
		return StateWaitingPermission
	}
	if p.PromptVisible(capture) {
		return StateWaitingInput
	}
	return StateRunning
}

func (claudeProvider) permissionVisible(capture string) bool {
	hit := 0
	for _, m := range permissionMarkers {
		if strings.Contains(capture, m) {
			hit++
		}
	}
	// A lone "1. Yes" appears in other menus; require the question too.
	return hit >= 2
}

// PromptVisible reports whether the trailing region shows the "> " input
// glyph, with or without the surrounding box frame.
func (claudeProvider) PromptVisible(capture string) bool {
	for _, line := range tailLines(capture, 6) {
		trimmed := strings.TrimSpace(line)
		trimmed = strings.TrimPrefix(trimmed, "│")
		trimmed = strings.TrimSpace(trimmed)
		if trimmed == ">" || strings.HasPrefix(trimmed, "> ") {
			return true
		}
	}
	return false
}

// PeekUserInput returns text already typed at the prompt line.
func (p claudeProvider) PeekUserInput(capture string) (string, bool) {
	for _, line := range tailLines(capture, 6) {
		trimmed := strings.TrimSpace(line)
		trimmed = strings.TrimPrefix(trimmed, "│")
		trimmed = strings.TrimSpace(trimmed)
		if strings.HasPrefix(trimmed, "> ") {
			typed := strings.TrimSpace(strings.TrimPrefix(trimmed, "> "))
			// The closing box edge is rendering, not input.
			typed = strings.TrimSuffix(typed, "│")
			return strings.TrimSpace(typed), true
		}
		if trimmed == ">" {
			return "", true
		}
	}
	return "", true
}

func (claudeProvider) Command(model string) string {
	if model == "" {
		return "claude"
	}
	return fmt.Sprintf("claude --model %s", model)
}
