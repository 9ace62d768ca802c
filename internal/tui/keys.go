package tui

import (
	"github.com/charmbracelet/bubbles/key"
)

// KeyMap defines all keybindings for the task monitor
type KeyMap struct {
	// Navigation
	Up     key.Binding
	Down   key.Binding
	Top    key.Binding
	Bottom key.Binding

	// Views
	Filter key.Binding

	// Task actions
	Cancel key.Binding
	Abort  key.Binding

	Quit key.Binding
	Help key.Binding
}

// DefaultKeyMap returns the default keybindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "move up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "move down"),
		),
		Top: key.NewBinding(
			key.WithKeys("home", "g"),
			key.WithHelp("g", "go to top"),
		),
		Bottom: key.NewBinding(
			key.WithKeys("end", "G"),
			key.WithHelp("G", "go to bottom"),
		),

		Filter: key.NewBinding(
			key.WithKeys("tab", "f"),
			key.WithHelp("tab", "active/all tasks"),
		),

		Cancel: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "cancel task"),
		),
		Abort: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "abort task"),
		),

		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
	}
}

// ShortHelp returns a condensed help view
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Filter, k.Cancel, k.Abort, k.Quit, k.Help}
}

// FullHelp returns a complete help view
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Top, k.Bottom},
		{k.Filter},
		{k.Cancel, k.Abort},
		{k.Help, k.Quit},
	}
}
