package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"stevedore/internal/taskqueue"
)

const pollInterval = 250 * time.Millisecond

// Job is optional background work started with the monitor, such as a bulk
// refresh. Its summary is shown when it finishes.
type Job func(ctx context.Context) (summary string, err error)

// Messages for async operations
type (
	snapshotsMsg []taskqueue.Snapshot

	cancelDoneMsg struct {
		id    taskqueue.TaskID
		abort bool
		err   error
	}

	jobDoneMsg struct {
		summary string
		err     error
	}
)

// App wraps the Model with bubbletea components
type App struct {
	*Model
	ctx     context.Context
	job     Job
	spinner spinner.Model
	help    help.Model
}

// NewApp creates a new monitor. job may be nil.
func NewApp(ctx context.Context, source Source, grace time.Duration, label string, job Job) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(ColorPrimary)

	a := &App{
		Model:   NewModel(source, grace),
		ctx:     ctx,
		job:     job,
		spinner: sp,
		help:    help.New(),
	}
	if job != nil {
		a.jobRunning = true
		a.jobLabel = label
	}
	return a
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.spinner.Tick, a.pollNow()}
	if a.job != nil {
		cmds = append(cmds, a.runJob())
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.SetSize(msg.Width, msg.Height)
		a.help.Width = msg.Width
		a.ready = true

	case snapshotsMsg:
		a.SetTasks(msg)
		return a, a.pollLater()

	case cancelDoneMsg:
		verb := "Cancelled"
		if msg.abort {
			verb = "Aborted"
		}
		if msg.err != nil {
			a.SetError(fmt.Sprintf("Task %s: %v", msg.id, msg.err))
		} else {
			a.SetSuccess(fmt.Sprintf("%s task %s", verb, msg.id))
		}
		return a, a.pollNow()

	case jobDoneMsg:
		a.jobRunning = false
		if msg.err != nil {
			a.SetError(msg.err.Error())
		} else {
			a.SetSuccess(msg.summary)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		return a, a.handleKey(msg)
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, a.keys.Quit):
		a.quitting = true
		return tea.Quit
	case key.Matches(msg, a.keys.Help):
		a.ToggleHelp()
	case a.activeView == ViewHelp:
		// Only help and quit apply on the help screen.
	case key.Matches(msg, a.keys.Up):
		a.MoveCursor(-1)
	case key.Matches(msg, a.keys.Down):
		a.MoveCursor(1)
	case key.Matches(msg, a.keys.Top):
		a.GoToTop()
	case key.Matches(msg, a.keys.Bottom):
		a.GoToBottom()
	case key.Matches(msg, a.keys.Filter):
		a.NextTab()
	case key.Matches(msg, a.keys.Cancel):
		return a.cancelSelected(false)
	case key.Matches(msg, a.keys.Abort):
		return a.cancelSelected(true)
	}
	return nil
}

// cancelSelected runs Cancel off the UI goroutine; a graceful cancel can
// block for the whole grace period.
func (a *App) cancelSelected(abort bool) tea.Cmd {
	task, ok := a.SelectedTask()
	if !ok || task.Status.IsTerminal() {
		return nil
	}
	mode := taskqueue.Graceful(a.grace)
	if abort {
		mode = taskqueue.Immediate()
	}
	source, ctx := a.source, a.ctx
	return func() tea.Msg {
		err := source.Cancel(ctx, task.ID, mode)
		return cancelDoneMsg{id: task.ID, abort: abort, err: err}
	}
}

func (a *App) pollNow() tea.Cmd {
	source := a.source
	return func() tea.Msg {
		return snapshotsMsg(source.Snapshots())
	}
}

func (a *App) pollLater() tea.Cmd {
	source := a.source
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		return snapshotsMsg(source.Snapshots())
	})
}

func (a *App) runJob() tea.Cmd {
	job, ctx := a.job, a.ctx
	return func() tea.Msg {
		summary, err := job(ctx)
		return jobDoneMsg{summary: summary, err: err}
	}
}

// View implements tea.Model
func (a *App) View() string {
	if !a.ready {
		return "Loading..."
	}

	if a.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(a.renderHeader())
	b.WriteString("\n")
	b.WriteString(a.renderTabs())
	b.WriteString("\n")
	b.WriteString(a.renderContent())
	b.WriteString(a.renderFooter())
	return b.String()
}

// renderHeader renders the header bar
func (a *App) renderHeader() string {
	title := a.styles.Header.Render(" stevedore - task monitor ")

	var right string
	switch {
	case a.jobRunning:
		right = a.spinner.View() + " " + a.jobLabel
	case a.errorMsg != "":
		right = a.styles.Error.Render(a.errorMsg)
	case a.successMsg != "":
		right = a.styles.Success.Render(a.successMsg)
	}

	padding := a.width - lipgloss.Width(title) - lipgloss.Width(right) - 2
	if padding < 0 {
		padding = 0
	}

	return title + strings.Repeat(" ", padding) + right
}

// renderTabs renders the tab bar
func (a *App) renderTabs() string {
	var tabs []string
	for i, tab := range a.tabs {
		style := a.styles.TabInactive
		if i == a.activeTab && a.activeView != ViewHelp {
			style = a.styles.TabActive
		}
		tabs = append(tabs, style.Render(tab.Name))
	}

	return lipgloss.NewStyle().
		Width(a.width).
		Background(ColorBgAlt).
		Padding(0, 1).
		Render(strings.Join(tabs, " "))
}

// renderContent renders the main content area
func (a *App) renderContent() string {
	var content string
	if a.activeView == ViewHelp {
		content = a.styles.Title.Render("Keyboard Shortcuts") + "\n\n" + a.help.FullHelpView(a.keys.FullHelp())
	} else {
		content = a.renderTaskList()
	}

	return lipgloss.NewStyle().
		Width(a.width).
		Height(a.height - 4).
		Render(content)
}

func (a *App) renderTaskList() string {
	var b strings.Builder

	items := a.ListItems()
	b.WriteString(a.styles.Title.Render(fmt.Sprintf("%s (%d)", a.tabs[a.activeTab].Name, len(items))))
	b.WriteString("\n")

	if len(items) == 0 {
		b.WriteString(a.styles.Description.Render("No tasks"))
		return b.String()
	}

	end := a.scroll + a.VisibleHeight()
	if end > len(items) {
		end = len(items)
	}
	now := time.Now()
	for i := a.scroll; i < end; i++ {
		b.WriteString(a.renderTaskLine(items[i], i == a.cursor, now))
		b.WriteString("\n")
	}
	return b.String()
}

func (a *App) renderTaskLine(s taskqueue.Snapshot, selected bool, now time.Time) string {
	marker := "  "
	if selected {
		marker = a.styles.ListItemSelected.String()
	}

	status := a.styles.StatusStyle(string(s.Status)).Render(string(s.Status))
	if s.Status == taskqueue.StatusRunning {
		status = a.spinner.View() + " " + status
	}

	line := marker +
		a.styles.TaskID.Render("#"+s.ID.String()) +
		ManagerStyle(string(s.Manager)).Render(string(s.Manager)) +
		a.styles.TaskKind.Render(string(s.Kind)) +
		status + " " +
		a.styles.TaskElapsed.Render(elapsed(s, now))

	if s.Error != "" && (selected || a.activeView == ViewAll) {
		line += "  " + a.styles.Error.Render(s.Error)
	}
	return line
}

// elapsed renders run time for started tasks and wait time for queued ones.
func elapsed(s taskqueue.Snapshot, now time.Time) string {
	switch {
	case s.StartedAt == nil && s.FinishedAt != nil:
		return "never started"
	case s.StartedAt == nil:
		return "waiting " + now.Sub(s.CreatedAt).Truncate(time.Second).String()
	case s.FinishedAt != nil:
		return s.FinishedAt.Sub(*s.StartedAt).Truncate(time.Millisecond).String()
	}
	return now.Sub(*s.StartedAt).Truncate(time.Second).String()
}

// renderFooter renders status counts and key hints
func (a *App) renderFooter() string {
	counts := a.Counts()
	summary := fmt.Sprintf("queued %d  running %d  completed %d  failed %d  cancelled %d",
		counts[taskqueue.StatusQueued],
		counts[taskqueue.StatusRunning],
		counts[taskqueue.StatusCompleted],
		counts[taskqueue.StatusFailed],
		counts[taskqueue.StatusCancelled])

	if n := counts[taskqueue.StatusFailed]; n > 0 {
		summary = Badge(fmt.Sprintf("%d failed", n), ColorError) + "  " + summary
	}

	return lipgloss.NewStyle().
		Width(a.width).
		Background(ColorBgAlt).
		Foreground(ColorMuted).
		Padding(0, 1).
		Render(summary + "   " + a.help.ShortHelpView(a.keys.ShortHelp()))
}

// Run starts the monitor and blocks until the user quits or ctx is done.
func Run(ctx context.Context, source Source, grace time.Duration, label string, job Job) error {
	app := NewApp(ctx, source, grace, label, job)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
