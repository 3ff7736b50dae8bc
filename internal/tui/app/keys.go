package app

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keyboard bindings for the TUI.
type KeyMap struct {
	Up         key.Binding
	Down       key.Binding
	MarkRead   key.Binding
	Clear      key.Binding
	JoinOrder  key.Binding
	LeaveOrder key.Binding
	FeedUp     key.Binding
	FeedDown   key.Binding
	Submit     key.Binding
	Escape     key.Binding
	Quit       key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "prev notification"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "next notification"),
		),
		MarkRead: key.NewBinding(
			key.WithKeys("enter", "r"),
			key.WithHelp("enter", "mark read"),
		),
		Clear: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear all"),
		),
		JoinOrder: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "watch order"),
		),
		LeaveOrder: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "unwatch order"),
		),
		FeedUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("pgup", "scroll activity"),
		),
		FeedDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("pgdn", "scroll activity"),
		),
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "submit"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "cancel"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}
