package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/crush/pkg/crush/logging"
	"github.com/jamesainslie/crush/pkg/crush/types"
)

// maxWarnings is how many recent warnings the view keeps.
const maxWarnings = 5

// Runner performs a run, reporting progress through onProgress.
type Runner func(ctx context.Context, onProgress func(types.Progress)) (*types.RunReport, error)

// ProgressMsg is sent when the run reports progress.
type ProgressMsg types.Progress

// LogMsg carries a warning or error logged during the run.
type LogMsg logging.Entry

// RunCompleteMsg is sent when the runner returns.
type RunCompleteMsg struct {
	Report *types.RunReport
	Err    error
}

type tickUIMsg struct{}

// Model is the Bubble Tea model for a run.
type Model struct {
	ctx    context.Context
	cancel context.CancelFunc
	runner Runner

	spinner      spinner.Model
	bar          progress.Model
	progressChan chan types.Progress
	logs         <-chan logging.Entry

	current   types.Progress
	lines     []string
	warnings  []logging.Entry
	optimized int
	startTime time.Time

	done   bool
	report *types.RunReport
	err    error

	width  int
	height int
}

// NewModel creates a model that runs runner when started. logs may be nil.
func NewModel(ctx context.Context, runner Runner, logs <-chan logging.Entry) Model {
	ctx, cancel := context.WithCancel(ctx)

	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return Model{
		ctx:          ctx,
		cancel:       cancel,
		runner:       runner,
		spinner:      s,
		bar:          progress.New(progress.WithDefaultGradient()),
		progressChan: make(chan types.Progress, 100),
		logs:         logs,
		startTime:    time.Now(),
		width:        80,
		height:       24,
	}
}

// Init starts the run.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.startRun(),
		m.listenForProgress(),
		m.listenForLogs(),
		m.tickUI(),
	)
}

func (m Model) tickUI() tea.Cmd {
	return tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
		return tickUIMsg{}
	})
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.cancel()
		}
		return m, nil

	case tickUIMsg:
		if !m.done {
			return m, m.tickUI()
		}
		return m, nil

	case ProgressMsg:
		m.apply(types.Progress(msg))
		return m, m.listenForProgress()

	case LogMsg:
		m.addWarning(logging.Entry(msg))
		return m, m.listenForLogs()

	case RunCompleteMsg:
		m.done = true
		m.report = msg.Report
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// apply records a progress update and the console lines it implies.
func (m *Model) apply(p types.Progress) {
	switch p.Phase {
	case types.PhaseScanning:
		if p.Recursive {
			m.lines = append(m.lines, "Search files in folder (recursively): "+p.Dir)
		} else {
			m.lines = append(m.lines, "Search files in folder: "+p.Dir)
		}
	case types.PhaseOptimizing:
		if p.Done == 0 {
			m.lines = append(m.lines, fmt.Sprintf("Found %d files. Start optimizing...", p.Total))
		}
	case types.PhaseItemDone:
		if p.Total == 0 {
			m.lines = append(m.lines, "Found 0 files. Start optimizing...")
		}
		m.lines = append(m.lines, fmt.Sprintf("Optimized %d images.", p.Optimized))
		m.optimized += p.Optimized
	}
	m.current = p
}

func (m *Model) addWarning(e logging.Entry) {
	m.warnings = append(m.warnings, e)
	if len(m.warnings) > maxWarnings {
		m.warnings = m.warnings[len(m.warnings)-maxWarnings:]
	}
}

// startRun runs the runner and closes the progress channel when it returns.
func (m Model) startRun() tea.Cmd {
	ctx := m.ctx
	progressChan := m.progressChan
	runner := m.runner
	return func() tea.Msg {
		report, err := runner(ctx, func(p types.Progress) {
			if p.Phase == types.PhaseOptimizing {
				select {
				case progressChan <- p:
				default:
					// Channel full, skip this update
				}
				return
			}
			// Item boundaries carry the console lines and must not be dropped.
			select {
			case progressChan <- p:
			case <-ctx.Done():
			}
		})
		close(progressChan)
		return RunCompleteMsg{Report: report, Err: err}
	}
}

func (m Model) listenForProgress() tea.Cmd {
	progressChan := m.progressChan
	return func() tea.Msg {
		p, ok := <-progressChan
		if !ok {
			return nil
		}
		return ProgressMsg(p)
	}
}

func (m Model) listenForLogs() tea.Cmd {
	logs := m.logs
	if logs == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-logs
		if !ok {
			return nil
		}
		return LogMsg(e)
	}
}

// View renders the model.
func (m Model) View() string {
	var b strings.Builder

	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	b.WriteString("\n")
	b.WriteString(m.renderHeader(contentWidth))
	b.WriteString("\n")
	b.WriteString(renderDivider(contentWidth))
	b.WriteString("\n\n")

	switch {
	case m.done && m.err != nil:
		b.WriteString(errorTextStyle.Render(fmt.Sprintf("  Error: %v", m.err)))
	case m.done:
		b.WriteString(successTextStyle.Render("  Run complete!"))
	case m.current.CurrentPath != "":
		b.WriteString(fmt.Sprintf("  %s Optimizing: %s", m.spinner.View(),
			truncatePath(m.current.CurrentPath, contentWidth-20)))
	default:
		b.WriteString(fmt.Sprintf("  %s Searching: %s", m.spinner.View(),
			truncatePath(m.current.Dir, contentWidth-20)))
	}
	b.WriteString("\n\n")

	m.bar.Width = contentWidth - 4
	b.WriteString("  ")
	b.WriteString(m.bar.ViewAs(m.current.Percent()))
	b.WriteString("\n\n")

	b.WriteString(m.renderStats(contentWidth))
	b.WriteString("\n\n")

	for _, line := range m.visibleLines() {
		b.WriteString("  ")
		b.WriteString(mutedTextStyle.Render(line))
		b.WriteString("\n")
	}

	if len(m.warnings) > 0 {
		b.WriteString("\n")
		for _, w := range m.warnings {
			style := warningTextStyle
			if w.Level >= logging.LevelError {
				style = errorTextStyle
			}
			b.WriteString(style.Render(fmt.Sprintf("  %s [%s] %s", w.Level, w.Component, w.Message)))
			b.WriteString("\n")
		}
	}

	content := b.String()
	contentLines := strings.Count(content, "\n") + 1
	if available := m.height - 2; available > contentLines {
		content += strings.Repeat("\n", available-contentLines)
	}

	return outerBoxStyle.Width(m.width - 2).Height(m.height - 2).Render(content)
}

// visibleLines returns the newest console lines that fit the window.
func (m Model) visibleLines() []string {
	room := m.height - 20 - len(m.warnings)
	if room < 3 {
		room = 3
	}
	if len(m.lines) <= room {
		return m.lines
	}
	return m.lines[len(m.lines)-room:]
}

func (m Model) renderHeader(width int) string {
	title := titleStyle.Render("  crush")
	hint := mutedTextStyle.Render("[Ctrl+C to stop]")

	spacing := width - lipgloss.Width(title) - lipgloss.Width(hint)
	if spacing < 1 {
		spacing = 1
	}
	return title + strings.Repeat(" ", spacing) + hint
}

func (m Model) renderStats(totalWidth int) string {
	boxWidth := (totalWidth - 10) / 4
	if boxWidth < 10 {
		boxWidth = 10
	}

	items := "-"
	if m.current.ItemCount > 0 {
		items = fmt.Sprintf("%d/%d", m.current.ItemIndex+1, m.current.ItemCount)
	}
	files := fmt.Sprintf("%s/%s", humanize.Comma(int64(m.current.Done)), humanize.Comma(int64(m.current.Total)))

	optimized := m.optimized
	if m.current.Phase == types.PhaseOptimizing {
		optimized += m.current.Optimized
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		"  ", renderStatBox("Item", items, boxWidth),
		" ", renderStatBox("Files", files, boxWidth),
		" ", renderStatBox("Optimized", humanize.Comma(int64(optimized)), boxWidth),
		" ", renderStatBox("Time", formatDuration(time.Since(m.startTime)), boxWidth))
}

func renderStatBox(label, value string, width int) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		lipgloss.PlaceHorizontal(width-4, lipgloss.Center, statsLabelStyle.Render(label)),
		lipgloss.PlaceHorizontal(width-4, lipgloss.Center, statsValueStyle.Render(value)))
	return statsBoxStyle.Width(width).Render(content)
}

// formatDuration formats a duration as M:SS.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	m := d / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%d:%02d", m, s)
}

// Report returns the finished run's report, or nil while running.
func (m Model) Report() *types.RunReport { return m.report }

// Err returns the error the runner returned.
func (m Model) Err() error { return m.err }

// Run shows the TUI while runner executes and returns its result.
func Run(ctx context.Context, runner Runner) (*types.RunReport, error) {
	logs := logging.Subscribe()
	defer logging.Unsubscribe(logs)

	model := NewModel(ctx, runner, logs)
	defer model.cancel()

	p := tea.NewProgram(model, tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return nil, err
	}

	fm, ok := final.(Model)
	if !ok {
		return nil, fmt.Errorf("unexpected model type %T", final)
	}
	return fm.report, fm.err
}
