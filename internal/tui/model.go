package tui

import (
	"context"
	"sort"
	"time"

	"stevedore/internal/taskqueue"
)

// Source is what the monitor polls and acts on.
type Source interface {
	Snapshots() []taskqueue.Snapshot
	Cancel(ctx context.Context, id taskqueue.TaskID, mode taskqueue.CancelMode) error
}

// View represents different views in the monitor
type View int

const (
	ViewActive View = iota
	ViewAll
	ViewHelp
)

// Tab represents a navigable tab
type Tab struct {
	Name string
	View View
}

// DefaultTabs returns the default tab configuration
func DefaultTabs() []Tab {
	return []Tab{
		{Name: "Active", View: ViewActive},
		{Name: "All tasks", View: ViewAll},
	}
}

// Model holds the monitor state
type Model struct {
	// Core state
	ready    bool
	quitting bool

	// Dimensions
	width  int
	height int

	// Navigation
	tabs       []Tab
	activeTab  int
	activeView View
	prevView   View

	// Data
	source Source
	grace  time.Duration
	tasks  []taskqueue.Snapshot

	// selected follows a task id across polls so the cursor does not jump
	// when tasks are added or leave the active view.
	selected taskqueue.TaskID
	cursor   int
	scroll   int

	// UI state
	errorMsg   string
	successMsg string
	jobRunning bool
	jobLabel   string

	styles *Styles
	keys   KeyMap
}

// NewModel creates a new monitor model
func NewModel(source Source, grace time.Duration) *Model {
	return &Model{
		tabs:       DefaultTabs(),
		activeView: ViewActive,
		source:     source,
		grace:      grace,
		styles:     DefaultStyles(),
		keys:       DefaultKeyMap(),
	}
}

// SetSize sets the terminal size
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

// VisibleHeight returns the height available for list content
func (m *Model) VisibleHeight() int {
	// header (1), tabs (1), title (2), footer (2)
	h := m.height - 6
	if h < 1 {
		return 1
	}
	return h
}

// SetTasks replaces the task list and keeps the cursor on the selected task
// when it is still visible.
func (m *Model) SetTasks(snaps []taskqueue.Snapshot) {
	sorted := make([]taskqueue.Snapshot, len(snaps))
	copy(sorted, snaps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	m.tasks = sorted
	m.reselect()
}

func (m *Model) reselect() {
	items := m.ListItems()
	if len(items) == 0 {
		m.cursor, m.scroll = 0, 0
		return
	}
	for i, s := range items {
		if s.ID == m.selected {
			m.setCursor(i)
			return
		}
	}
	// The selected task left the view: stay at the same position.
	m.setCursor(m.cursor)
}

// ListItems returns the tasks for the current view
func (m *Model) ListItems() []taskqueue.Snapshot {
	if m.activeView != ViewActive {
		return m.tasks
	}
	var active []taskqueue.Snapshot
	for _, s := range m.tasks {
		if !s.Status.IsTerminal() {
			active = append(active, s)
		}
	}
	return active
}

// SelectedTask returns the task under the cursor.
func (m *Model) SelectedTask() (taskqueue.Snapshot, bool) {
	items := m.ListItems()
	if m.cursor >= 0 && m.cursor < len(items) {
		return items[m.cursor], true
	}
	return taskqueue.Snapshot{}, false
}

// Counts tallies tasks by status.
func (m *Model) Counts() map[taskqueue.Status]int {
	counts := make(map[taskqueue.Status]int)
	for _, s := range m.tasks {
		counts[s.Status]++
	}
	return counts
}

func (m *Model) setCursor(pos int) {
	items := m.ListItems()
	if len(items) == 0 {
		m.cursor, m.scroll = 0, 0
		return
	}
	if pos < 0 {
		pos = 0
	}
	if pos >= len(items) {
		pos = len(items) - 1
	}
	m.cursor = pos
	m.selected = items[pos].ID

	// Adjust scroll to keep cursor visible
	visible := m.VisibleHeight()
	if pos < m.scroll {
		m.scroll = pos
	} else if pos >= m.scroll+visible {
		m.scroll = pos - visible + 1
	}
}

// MoveCursor moves the cursor by delta, clamping to valid range
func (m *Model) MoveCursor(delta int) {
	m.setCursor(m.cursor + delta)
}

// GoToTop moves cursor to the top
func (m *Model) GoToTop() {
	m.setCursor(0)
}

// GoToBottom moves cursor to the bottom
func (m *Model) GoToBottom() {
	m.setCursor(len(m.ListItems()) - 1)
}

// NextTab switches to the next tab
func (m *Model) NextTab() {
	m.activeTab = (m.activeTab + 1) % len(m.tabs)
	m.activeView = m.tabs[m.activeTab].View
	m.reselect()
}

// ToggleHelp shows or hides the help view
func (m *Model) ToggleHelp() {
	if m.activeView == ViewHelp {
		m.activeView = m.prevView
		return
	}
	m.prevView = m.activeView
	m.activeView = ViewHelp
}

// SetError sets an error message
func (m *Model) SetError(msg string) {
	m.errorMsg = msg
	m.successMsg = ""
}

// SetSuccess sets a success message
func (m *Model) SetSuccess(msg string) {
	m.successMsg = msg
	m.errorMsg = ""
}
