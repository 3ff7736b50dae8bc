// Package feed provides a scrollable log of order and inventory updates.
package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ralmosara/NetSuiteClone-sub003/internal/client"
	"github.com/ralmosara/NetSuiteClone-sub003/internal/tui/theme"
)

const maxEntries = 200

// Entry kinds.
const (
	KindOrder     = "ord"
	KindInventory = "inv"
	KindConn      = "conn"
	KindError     = "err"
)

// Entry is a single feed line.
type Entry struct {
	Time    time.Time
	Kind    string
	Message string
	Color   lipgloss.Color
}

// Model holds feed state.
type Model struct {
	Entries []Entry
	Offset  int // scroll offset (from bottom)
}

// New creates an empty feed.
func New() Model {
	return Model{}
}

// Add appends a line and caps the buffer.
func (m *Model) Add(kind, message string) {
	m.add(Entry{Time: time.Now(), Kind: kind, Message: message, Color: kindToColor(kind)})
}

func (m *Model) add(e Entry) {
	m.Entries = append(m.Entries, e)
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
	// Reset scroll to bottom on new entry.
	m.Offset = 0
}

// AddOrder logs an order status change.
func (m *Model) AddOrder(u client.OrderUpdate) {
	number := u.OrderNumber
	if number == "" {
		number = "#" + u.OrderID
	}
	msg := fmt.Sprintf("%s %s → %s", number, orDash(u.OldStatus), orDash(u.NewStatus))
	if u.UpdatedBy != "" {
		msg += " by " + u.UpdatedBy
	}
	m.add(Entry{Time: stamp(u.UpdatedAt), Kind: KindOrder, Message: msg, Color: theme.StatusColor(u.NewStatus)})
}

// AddInventory logs an inventory quantity change.
func (m *Model) AddInventory(u client.InventoryUpdate) {
	name := u.ItemName
	if name == "" {
		name = u.ItemID
	}
	delta := u.NewQuantity - u.OldQuantity
	msg := fmt.Sprintf("%s @ %s %g → %g (%+g)", name, orDash(u.LocationID), u.OldQuantity, u.NewQuantity, delta)
	m.add(Entry{Time: stamp(u.UpdatedAt), Kind: KindInventory, Message: msg, Color: theme.QuantityColor(delta)})
}

// ScrollUp moves the viewport up.
func (m *Model) ScrollUp(n int) {
	m.Offset += n
	max := len(m.Entries) - 1
	if max < 0 {
		max = 0
	}
	if m.Offset > max {
		m.Offset = max
	}
}

// ScrollDown moves the viewport down.
func (m *Model) ScrollDown(n int) {
	m.Offset -= n
	if m.Offset < 0 {
		m.Offset = 0
	}
}

func panelStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorder)
}

// View renders the newest entries that fit in height lines.
func (m Model) View(width, height int) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}
	visibleLines := height - 3
	if visibleLines < 3 {
		visibleLines = 3
	}

	title := theme.StyleHeader.Render(" ACTIVITY ")

	if len(m.Entries) == 0 {
		body := theme.StyleDimmed.Render("  No events received yet.")
		return panelStyle(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
	}

	end := len(m.Entries) - m.Offset
	start := end - visibleLines
	if start < 0 {
		start = 0
	}
	if end < 0 {
		end = 0
	}

	var lines []string
	for i := start; i < end; i++ {
		e := m.Entries[i]
		tsStr := theme.StyleDimmed.Render(e.Time.Format("15:04:05"))
		kindStr := lipgloss.NewStyle().Foreground(e.Color).Width(4).Render(e.Kind)
		msgStr := e.Message
		if len(msgStr) > innerW-16 && innerW > 20 {
			msgStr = msgStr[:innerW-19] + "..."
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", tsStr, kindStr, msgStr))
	}

	body := strings.Join(lines, "\n")
	parts := []string{title, body}
	if m.Offset > 0 {
		parts = append(parts, theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", m.Offset)))
	}
	return panelStyle(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func kindToColor(kind string) lipgloss.Color {
	switch kind {
	case KindConn:
		return theme.ColorHealthy
	case KindError:
		return theme.ColorDanger
	default:
		return theme.ColorDimmed
	}
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t.Local()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
