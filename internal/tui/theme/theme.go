// Package theme provides the Lip Gloss color palette and reusable styles
// for the notification viewer. It is a leaf package with no internal
// imports to avoid import cycles.
package theme

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Notification type colors.
var (
	ColorOrder     = lipgloss.Color("#3b82f6")
	ColorApproval  = lipgloss.Color("#a855f7")
	ColorInventory = lipgloss.Color("#06b6d4")
	ColorAlert     = lipgloss.Color("#dc2626")
	ColorSystem    = lipgloss.Color("#9ca3af")
	ColorDefault   = lipgloss.Color("#9ca3af")
)

// Order status colors.
var (
	ColorPending  = lipgloss.Color("#854d0e")
	ColorActive   = lipgloss.Color("#2563eb")
	ColorComplete = lipgloss.Color("#16a34a")
	ColorHold     = lipgloss.Color("#dc2626")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorBg      = lipgloss.Color("#111827")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// NotificationColor returns the color for a notification type.
func NotificationColor(typ string) lipgloss.Color {
	switch typ {
	case "order":
		return ColorOrder
	case "approval":
		return ColorApproval
	case "inventory":
		return ColorInventory
	case "alert":
		return ColorAlert
	case "system":
		return ColorSystem
	default:
		return ColorDefault
	}
}

// NotificationGlyph returns a Unicode glyph for a notification type.
func NotificationGlyph(typ string) string {
	switch typ {
	case "order":
		return "◆"
	case "approval":
		return "✎"
	case "inventory":
		return "▤"
	case "alert":
		return "✗"
	case "system":
		return "◎"
	default:
		return "·"
	}
}

// StatusColor returns the color for an order status.
func StatusColor(status string) lipgloss.Color {
	switch {
	case strings.HasPrefix(status, "pending"):
		return ColorPending
	case status == "delivered", status == "closed", status == "approved":
		return ColorComplete
	case strings.Contains(status, "hold"), status == "cancelled", status == "rejected":
		return ColorHold
	case status == "":
		return ColorDefault
	default:
		return ColorActive
	}
}

// QuantityColor colors an inventory change by direction.
func QuantityColor(delta float64) lipgloss.Color {
	switch {
	case delta < 0:
		return ColorWarning
	case delta > 0:
		return ColorHealthy
	default:
		return ColorDimmed
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)
)
