// Package status implements the live session dashboard behind
// `sm status --watch`.
package status

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/codetown/sm/internal/client"
	"github.com/codetown/sm/internal/session"
	"github.com/codetown/sm/internal/style"
)

// refreshEvery is the poll cadence against the daemon.
const refreshEvery = 2 * time.Second

// KeyMap holds the dashboard key bindings.
type KeyMap struct {
	Refresh key.Binding
	Quit    key.Binding
}

// DefaultKeyMap returns the standard bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

type tickMsg time.Time

type refreshMsg struct {
	sessions []*session.Session
	health   *client.HealthReport
	err      error
}

// Model is the bubbletea model for the dashboard.
type Model struct {
	api  *client.Client
	keys KeyMap
	spin spinner.Model

	sessions []*session.Session
	health   *client.HealthReport
	err      error
	loaded   bool
}

// New creates the dashboard model.
func New(api *client.Client) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		api:  api,
		keys: DefaultKeyMap(),
		spin: sp,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.refresh, tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refresh fetches sessions and health off the UI goroutine.
func (m Model) refresh() tea.Msg {
	sessions, err := m.api.ListSessions(false)
	if err != nil {
		return refreshMsg{err: err}
	}
	health, err := m.api.HealthDetailed()
	if err != nil {
		return refreshMsg{sessions: sessions, err: err}
	}
	return refreshMsg{sessions: sessions, health: health}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, m.refresh
		}
	case tickMsg:
		return m, tea.Batch(m.refresh, tick())
	case refreshMsg:
		m.sessions = msg.sessions
		m.health = msg.health
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

	var out string
	if m.err != nil {
		out += style.Error.Render(fmt.Sprintf(" daemon error: %v", m.err)) + "\n\n"
	}
	if m.health != nil {
		out += fmt.Sprintf(" daemon: %s  sessions: %d active / %d total  monitors: %d\n\n",
			style.Health(m.health.Status),
			m.health.Resources["active_sessions"],
			m.health.Resources["total_sessions"],
			m.health.Resources["monitor_tasks"])
	}

	out += RenderSessionTable(m.sessions)
	out += style.Dim.Render("\n  r refresh · q quit") + "\n"
	return out
}

// RenderSessionTable renders the session list the same way for the watch
// dashboard and the one-shot `sm status` output.
func RenderSessionTable(sessions []*session.Session) string {
	if len(sessions) == 0 {
		return style.Dim.Render("  no sessions\n")
	}

	table := style.NewTable(
		style.Column{Name: "ID", Width: 8},
		style.Column{Name: "NAME", Width: 18},
		style.Column{Name: "PROVIDER", Width: 10},
		style.Column{Name: "STATUS", Width: 24},
		style.Column{Name: "TASK", Width: 32},
		style.Column{Name: "ACTIVITY", Width: 10},
	)
	for _, s := range sessions {
		name := s.FriendlyName
		if name == "" {
			name = s.Name
		}
		table.AddRow(
			s.ID,
			name,
			string(s.Provider),
			style.Status(string(s.Status)),
			s.CurrentTask,
			ago(s.LastActivity),
		)
	}
	return table.Render()
}

// ago formats a timestamp as a compact relative duration.
func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
