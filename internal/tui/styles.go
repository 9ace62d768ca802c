// Package tui provides the live task monitor behind "stevedore watch".
package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Color palette - matches existing CLI colors
var (
	ColorPrimary   = lipgloss.Color("#7C3AED") // Purple
	ColorSecondary = lipgloss.Color("#06B6D4") // Cyan
	ColorSuccess   = lipgloss.Color("#10B981") // Green
	ColorWarning   = lipgloss.Color("#F59E0B") // Yellow
	ColorError     = lipgloss.Color("#EF4444") // Red
	ColorMuted     = lipgloss.Color("#6B7280") // Gray
	ColorText      = lipgloss.Color("#F3F4F6") // Light gray
	ColorBg        = lipgloss.Color("#1F2937") // Dark gray
	ColorBgAlt     = lipgloss.Color("#374151") // Slightly lighter
)

// ManagerColors tints manager names in the task list
var ManagerColors = map[string]lipgloss.Color{
	"homebrew_formula": lipgloss.Color("#FBB040"), // Homebrew yellow
	"homebrew_cask":    lipgloss.Color("#FBB040"),
	"npm":              lipgloss.Color("#CB3837"), // npm red
	"pip":              lipgloss.Color("#3776AB"), // Python blue
	"cargo":            lipgloss.Color("#DEA584"), // Rust orange
	"rustup":           lipgloss.Color("#DEA584"),
	"mas":              lipgloss.Color("#0D96F6"), // App Store blue
	"softwareupdate":   lipgloss.Color("#A2AAAD"), // Apple gray
}

// Styles contains all the lipgloss styles used in the TUI
type Styles struct {
	// App frame
	App       lipgloss.Style
	Header    lipgloss.Style
	Footer    lipgloss.Style
	StatusBar lipgloss.Style

	// Tabs
	Tab         lipgloss.Style
	TabActive   lipgloss.Style
	TabInactive lipgloss.Style

	// Content
	Content     lipgloss.Style
	Title       lipgloss.Style
	Subtitle    lipgloss.Style
	Description lipgloss.Style

	// List items
	ListItem         lipgloss.Style
	ListItemSelected lipgloss.Style
	ListItemDim      lipgloss.Style

	// Task display
	TaskID      lipgloss.Style
	TaskKind    lipgloss.Style
	TaskElapsed lipgloss.Style

	// Status indicators
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style

	// Help
	HelpKey  lipgloss.Style
	HelpDesc lipgloss.Style
	HelpSep  lipgloss.Style

	// Spinner
	Spinner lipgloss.Style
}

// DefaultStyles returns the default style configuration
func DefaultStyles() *Styles {
	s := &Styles{}

	// App frame
	s.App = lipgloss.NewStyle().
		Background(ColorBg)

	s.Header = lipgloss.NewStyle().
		Foreground(ColorText).
		Background(ColorBgAlt).
		Padding(0, 1).
		Bold(true)

	s.Footer = lipgloss.NewStyle().
		Foreground(ColorMuted).
		Padding(0, 1)

	s.StatusBar = lipgloss.NewStyle().
		Foreground(ColorText).
		Background(ColorBgAlt).
		Padding(0, 1)

	// Tabs
	s.Tab = lipgloss.NewStyle().
		Padding(0, 2)

	s.TabActive = s.Tab.
		Foreground(ColorPrimary).
		Bold(true).
		Underline(true)

	s.TabInactive = s.Tab.
		Foreground(ColorMuted)

	// Content
	s.Content = lipgloss.NewStyle().
		Padding(1, 2)

	s.Title = lipgloss.NewStyle().
		Foreground(ColorText).
		Bold(true).
		MarginBottom(1)

	s.Subtitle = lipgloss.NewStyle().
		Foreground(ColorSecondary).
		Bold(true)

	s.Description = lipgloss.NewStyle().
		Foreground(ColorMuted)

	// List items
	s.ListItem = lipgloss.NewStyle().
		PaddingLeft(2)

	s.ListItemSelected = lipgloss.NewStyle().
		Foreground(ColorPrimary).
		Bold(true).
		PaddingLeft(0).
		SetString("> ")

	s.ListItemDim = lipgloss.NewStyle().
		Foreground(ColorMuted).
		PaddingLeft(2)

	// Task display
	s.TaskID = lipgloss.NewStyle().
		Foreground(ColorMuted).
		Width(6)

	s.TaskKind = lipgloss.NewStyle().
		Foreground(ColorSecondary).
		Width(11)

	s.TaskElapsed = lipgloss.NewStyle().
		Foreground(ColorMuted)

	// Status indicators
	s.Success = lipgloss.NewStyle().
		Foreground(ColorSuccess).
		Bold(true)

	s.Warning = lipgloss.NewStyle().
		Foreground(ColorWarning).
		Bold(true)

	s.Error = lipgloss.NewStyle().
		Foreground(ColorError).
		Bold(true)

	s.Info = lipgloss.NewStyle().
		Foreground(ColorSecondary)

	// Help
	s.HelpKey = lipgloss.NewStyle().
		Foreground(ColorSecondary).
		Bold(true)

	s.HelpDesc = lipgloss.NewStyle().
		Foreground(ColorMuted)

	s.HelpSep = lipgloss.NewStyle().
		Foreground(ColorMuted).
		SetString(" - ")

	// Spinner
	s.Spinner = lipgloss.NewStyle().
		Foreground(ColorPrimary)

	return s
}

// ManagerStyle returns a fixed-width style for a manager name
func ManagerStyle(id string) lipgloss.Style {
	color, ok := ManagerColors[id]
	if !ok {
		color = ColorText
	}
	return lipgloss.NewStyle().
		Foreground(color).
		Bold(true).
		Width(18)
}

// StatusStyle returns the style for a task status
func (s *Styles) StatusStyle(status string) lipgloss.Style {
	var st lipgloss.Style
	switch status {
	case "completed":
		st = s.Success
	case "failed":
		st = s.Error
	case "cancelled":
		st = s.Warning
	case "running":
		st = s.Info
	default:
		st = s.Description
	}
	return st.Width(10)
}

// Badge creates a badge-style label
func Badge(text string, color lipgloss.Color) string {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(color).
		Padding(0, 1).
		Render(text)
}
