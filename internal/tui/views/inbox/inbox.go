// Package inbox renders the notification list, newest first, with a
// selection cursor.
package inbox

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ralmosara/NetSuiteClone-sub003/internal/client"
	"github.com/ralmosara/NetSuiteClone-sub003/internal/tui/theme"
)

// Model holds the inbox state.
type Model struct {
	Width    int
	items    []client.Notification
	selected int
}

func New() Model {
	return Model{}
}

// SetItems replaces the list, keeping the cursor on the same notification
// when it is still present.
func (m *Model) SetItems(items []client.Notification) {
	var keep string
	if cur, ok := m.Selected(); ok {
		keep = cur.ID
	}
	m.items = items
	m.selected = 0
	for i, n := range items {
		if n.ID == keep {
			m.selected = i
			break
		}
	}
}

func (m Model) Len() int { return len(m.items) }

// Selected returns the notification under the cursor.
func (m Model) Selected() (client.Notification, bool) {
	if m.selected < 0 || m.selected >= len(m.items) {
		return client.Notification{}, false
	}
	return m.items[m.selected], true
}

func (m Model) Cursor() int { return m.selected }

func (m *Model) Next() {
	if len(m.items) > 0 {
		m.selected = (m.selected + 1) % len(m.items)
	}
}

func (m *Model) Prev() {
	if len(m.items) > 0 {
		m.selected = (m.selected - 1 + len(m.items)) % len(m.items)
	}
}

// View renders up to height rows around the cursor.
func (m Model) View(height int) string {
	width := m.Width
	if width < 40 {
		width = 40
	}
	if height < 3 {
		height = 3
	}

	header := theme.StyleHeader.Render(fmt.Sprintf("=== NOTIFICATIONS (%d/%d) ", len(m.items), client.MaxNotifications))
	lines := []string{header}

	if len(m.items) == 0 {
		lines = append(lines, theme.StyleDimmed.Render("  Nothing new"))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	start := 0
	if m.selected >= height {
		start = m.selected - height + 1
	}
	end := start + height
	if end > len(m.items) {
		end = len(m.items)
	}

	for i := start; i < end; i++ {
		prefix := "  "
		if i == m.selected {
			prefix = "> "
		}
		lines = append(lines, renderLine(prefix, m.items[i], width))
	}
	if end < len(m.items) {
		lines = append(lines, theme.StyleDimmed.Render(fmt.Sprintf("  … %d older", len(m.items)-end)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderLine(prefix string, n client.Notification, width int) string {
	color := theme.NotificationColor(n.Type)
	glyph := lipgloss.NewStyle().Foreground(color).Render(theme.NotificationGlyph(n.Type))
	title := lipgloss.NewStyle().Foreground(color).Bold(true).Render(truncate(n.Title, 32))
	age := theme.StyleDimmed.Render(Age(time.Since(n.CreatedAt)))

	body := n.Message
	room := width - 48
	if room < 10 {
		room = 10
	}
	body = truncate(body, room)

	line := prefix + glyph + " " + title + "  " + body + "  " + age
	if prefix == "> " {
		return theme.StyleSelected.Render(line)
	}
	return line
}

// Age formats a duration the way the inbox shows it: "now", "5m", "2h", "3d".
func Age(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	}
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
