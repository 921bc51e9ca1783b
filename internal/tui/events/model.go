// Package events implements the live pane view behind `sm tui`.
package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/codetown/sm/internal/client"
	"github.com/codetown/sm/internal/session"
	"github.com/codetown/sm/internal/style"
)

// pollEvery is the refresh cadence against the daemon.
const pollEvery = time.Second

// tailLines is how much pane tail each poll fetches.
const tailLines = 200

type tickMsg time.Time

type captureMsg struct {
	text string
	err  error
}

// Model is the bubbletea model for the live pane view.
type Model struct {
	api    *client.Client
	target *session.Session
	keys   keyMap
	spin   spinner.Model

	text   string
	err    error
	loaded bool
	height int
}

type keyMap struct {
	Quit key.Binding
}

// New creates the event view for one session.
func New(api *client.Client, target *session.Session) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		api:    api,
		target: target,
		keys: keyMap{
			Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		},
		spin: sp,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.poll, tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) poll() tea.Msg {
	text, err := m.api.Summary(m.target.ID, tailLines)
	return captureMsg{text: text, err: err}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.height = msg.Height
		return m, nil
	case tickMsg:
		return m, tea.Batch(m.poll, tick())
	case captureMsg:
		m.text = msg.text
		m.err = msg.err
		m.loaded = true
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	if !m.loaded {
		return fmt.Sprintf("\n %s contacting daemon...\n", m.spin.View())
	}

	label := m.target.FriendlyName
	if label == "" {
		label = m.target.Name
	}
	header := style.Bold.Render(fmt.Sprintf(" %s  %s", label, style.Status(string(m.target.Status))))

	var body string
	if m.err != nil {
		body = style.Error.Render(fmt.Sprintf(" capture error: %v", m.err))
	} else {
		body = m.tailView()
	}

	return header + "\n\n" + body + "\n" + style.Dim.Render("  q quit") + "\n"
}

// tailView trims the capture to the visible window, keeping the bottom.
func (m Model) tailView() string {
	lines := strings.Split(strings.TrimRight(m.text, "\n"), "\n")
	if m.height > 4 && len(lines) > m.height-4 {
		lines = lines[len(lines)-(m.height-4):]
	}
	return strings.Join(lines, "\n")
}
