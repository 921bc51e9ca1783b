// Package style provides consistent terminal styling using Lipgloss.
package style

import (
	"github.com/charmbracelet/lipgloss"
)

// Base text styles.
var (
	Bold  = lipgloss.NewStyle().Bold(true)
	Dim   = lipgloss.NewStyle().Faint(true)
	Error = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	Warn  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	Good  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// statusStyles maps session lifecycle states to colors.
var statusStyles = map[string]lipgloss.Style{
	"starting":           Dim,
	"running":            Good,
	"waiting_input":      lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
	"waiting_permission": Warn,
	"idle":               Dim,
	"stopped":            Dim,
	"error":              Error,
}

// Status renders a session status with its color.
func Status(status string) string {
	if s, ok := statusStyles[status]; ok {
		return s.Render(status)
	}
	return status
}

// Health renders a health status (healthy/degraded/unhealthy or
// ok/warning/error) with its color.
func Health(status string) string {
	switch status {
	case "healthy", "ok":
		return Good.Render(status)
	case "degraded", "warning":
		return Warn.Render(status)
	case "unhealthy", "error":
		return Error.Render(status)
	}
	return status
}
