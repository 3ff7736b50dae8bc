package status

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ralmosara/NetSuiteClone-sub003/internal/tui/theme"
)

// Model holds the status bar state.
type Model struct {
	Connected bool
	Transport string
	Identity  string
	Unread    int
	Orders    []string
	Width     int
}

// New creates a status bar model.
func New() Model {
	return Model{}
}

// SetConnection records a connect or disconnect.
func (m *Model) SetConnection(connected bool, transport string) {
	m.Connected = connected
	m.Transport = transport
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	switch {
	case m.Identity == "":
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDimmed).Render("○ Signed out")
	case m.Connected && m.Transport == "polling":
		connStr = lipgloss.NewStyle().Foreground(theme.ColorWarning).Render("● Connected (polling)")
	case m.Connected:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	default:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}

	parts := []string{connStr}
	if m.Identity != "" {
		parts = append(parts, "user "+m.Identity)
	}
	parts = append(parts, fmt.Sprintf("%d unread", m.Unread))
	if len(m.Orders) > 0 {
		parts = append(parts, "watching "+strings.Join(m.Orders, ","))
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")

	bar := lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(strings.Join(parts, sep))

	return bar
}
