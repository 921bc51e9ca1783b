package events

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/codetown/sm/internal/client"
	"github.com/codetown/sm/internal/session"
)

func testModel() Model {
	return New(client.NewWithBase("http://127.0.0.1:1"), &session.Session{
		ID:       "abc12345",
		Name:     "claude-abc12345",
		Provider: "codex-app",
		Status:   session.StatusRunning,
	})
}

func TestCaptureMsgPopulatesView(t *testing.T) {
	m := testModel()
	updated, _ := m.Update(captureMsg{text: "▌ working on tests\n"})
	model := updated.(Model)
	if !model.loaded {
		t.Fatal("model not loaded after capture")
	}
	view := model.View()
	if !strings.Contains(view, "working on tests") {
		t.Errorf("view missing capture:\n%s", view)
	}
	if !strings.Contains(view, "claude-abc12345") {
		t.Errorf("view missing session label:\n%s", view)
	}
}

func TestQuitKey(t *testing.T) {
	m := testModel()
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q produced no command")
	}
	if msg := cmd(); msg != tea.Quit() {
		t.Errorf("q command = %v, want tea.Quit", msg)
	}
}

func TestTailViewKeepsBottom(t *testing.T) {
	m := testModel()
	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, "line")
	}
	lines = append(lines, "last")
	m.text = strings.Join(lines, "\n") + "\n"
	m.height = 10

	out := m.tailView()
	if !strings.Contains(out, "last") {
		t.Error("tail view dropped the bottom line")
	}
	if got := len(strings.Split(out, "\n")); got > 6 {
		t.Errorf("tail view kept %d lines for height 10", got)
	}
}
