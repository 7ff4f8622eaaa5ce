package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/airframesio/checksumo/cmd/diff"
)

const maxLogMessages = 8

// watchModel is the bubbletea dashboard shown while a check runs
type watchModel struct {
	spinner      spinner.Model
	deadlineBar  progress.Model
	state        diff.State
	iteration    int
	rows         int
	tables       []string
	lastErr      error
	messages     []string
	mode         string
	startTime    time.Time
	deadline     time.Time
	now          func() time.Time
	cancel       context.CancelFunc
	width        int
	done         bool
	interrupted  bool
	finalMessage string
}

type watchEventMsg diff.Event

type checkDoneMsg struct {
	err error
}

type logMsg string

type deadlineTickMsg time.Time

var (
	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Margin(0, 2)

	stageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")).
			Margin(0, 2)

	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFAA00")).
				Bold(true).
				Margin(0, 2)

	progressInfoStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#888888")).
				Margin(0, 2)

	timeoutStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87")).
			Bold(true).
			Margin(0, 2)
)

func newWatchModel(mode string, startTime, deadline time.Time, cancel context.CancelFunc) watchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	bar := progress.New(
		progress.WithScaledGradient("#FF7CCB", "#FDFF8C"),
		progress.WithWidth(60),
	)

	return watchModel{
		spinner:     s,
		deadlineBar: bar,
		state:       diff.StateScanning,
		mode:        mode,
		startTime:   startTime,
		deadline:    deadline,
		now:         time.Now,
		cancel:      cancel,
		messages:    make([]string, 0, maxLogMessages),
	}
}

func deadlineTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return deadlineTickMsg(t)
	})
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		tea.EnterAltScreen,
		deadlineTick(),
	)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	case tea.WindowSizeMsg:
		return m.handleWindowSizeMsg(msg)
	case spinner.TickMsg:
		return m.handleSpinnerTickMsg(msg)
	case progress.FrameMsg:
		return m.handleProgressFrameMsg(msg)
	case watchEventMsg:
		return m.handleWatchEventMsg(msg)
	case logMsg:
		return m.handleLogMsg(msg)
	case deadlineTickMsg:
		return m, deadlineTick()
	case checkDoneMsg:
		return m.handleCheckDoneMsg(msg)
	}
	return m, nil
}

func (m watchModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" || msg.String() == "q" {
		m.done = true
		m.interrupted = true
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Sequence(tea.ExitAltScreen, tea.Quit)
	}
	return m, nil
}

func (m watchModel) handleWindowSizeMsg(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.deadlineBar.Width = msg.Width - 10
	return m, nil
}

func (m watchModel) handleSpinnerTickMsg(msg spinner.TickMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

func (m watchModel) handleProgressFrameMsg(msg progress.FrameMsg) (tea.Model, tea.Cmd) {
	barModel, cmd := m.deadlineBar.Update(msg)
	if bm, ok := barModel.(progress.Model); ok {
		m.deadlineBar = bm
	}
	return m, cmd
}

func (m watchModel) handleWatchEventMsg(msg watchEventMsg) (tea.Model, tea.Cmd) {
	m.state = msg.State
	m.iteration = msg.Iteration
	m.rows = msg.Rows
	m.tables = msg.Tables
	m.lastErr = msg.Err

	switch msg.State {
	case diff.StateWaiting:
		m.addMessage(fmt.Sprintf("⏳ %d rows differ on %s", msg.Rows, strings.Join(msg.Tables, ", ")))
	case diff.StateConverged:
		m.addMessage(fmt.Sprintf("✅ Converged after %d iterations", msg.Iteration))
	case diff.StateTimeout:
		m.addMessage(fmt.Sprintf("⏰ Deadline reached with %d rows pending", msg.Rows))
	}
	return m, nil
}

func (m watchModel) handleLogMsg(msg logMsg) (tea.Model, tea.Cmd) {
	m.addMessage(string(msg))
	return m, nil
}

func (m watchModel) handleCheckDoneMsg(msg checkDoneMsg) (tea.Model, tea.Cmd) {
	m.done = true
	if msg.err != nil {
		m.finalMessage = fmt.Sprintf("❌ Check failed: %v", msg.err)
	} else {
		m.finalMessage = "✅ Check completed"
	}
	return m, tea.Sequence(tea.ExitAltScreen, tea.Quit)
}

func (m *watchModel) addMessage(message string) {
	m.messages = append(m.messages, message)
	if len(m.messages) > maxLogMessages {
		m.messages = m.messages[len(m.messages)-maxLogMessages:]
	}
}

// elapsedFraction is the share of the check window already used, in [0, 1]
func (m watchModel) elapsedFraction() float64 {
	window := m.deadline.Sub(m.startTime)
	if window <= 0 {
		return 1
	}
	fraction := float64(m.now().Sub(m.startTime)) / float64(window)
	switch {
	case fraction < 0:
		return 0
	case fraction > 1:
		return 1
	}
	return fraction
}

func (m watchModel) remaining() time.Duration {
	if d := m.deadline.Sub(m.now()); d > 0 {
		return d.Round(time.Second)
	}
	return 0
}

func (m watchModel) renderHeader() []string {
	title := tableHeaderStyle.Render(fmt.Sprintf("checksumo %s (%s)", Version, m.mode))
	return []string{"", title, ""}
}

func (m watchModel) renderMessages() []string {
	sections := []string{helpStyle.Render("Log:")}
	if len(m.messages) == 0 {
		return append(sections, "     (waiting for the first scan...)")
	}
	for _, msg := range m.messages {
		sections = append(sections, "     "+msg)
	}
	return sections
}

func (m watchModel) renderSeparator() []string {
	separatorWidth := 80
	if m.width > 0 && m.width < 200 {
		separatorWidth = m.width - 6
	}
	separator := "   " + strings.Repeat("─", separatorWidth)
	return []string{"", lipgloss.NewStyle().Foreground(lipgloss.Color("#444")).Render(separator), ""}
}

func (m watchModel) renderState() []string {
	var sections []string

	stateInfo := fmt.Sprintf("%s %s, iteration %d", m.spinner.View(), m.state, m.iteration)
	if m.state == diff.StateTimeout {
		sections = append(sections, timeoutStyle.Render(stateInfo))
	} else {
		sections = append(sections, stageStyle.Render(stateInfo))
	}

	if m.rows > 0 {
		sections = append(sections, progressInfoStyle.Render(fmt.Sprintf("Pending rows: %d", m.rows)))
	}
	if len(m.tables) > 0 {
		sections = append(sections, progressInfoStyle.Render("Tables: "+strings.Join(m.tables, ", ")))
	}
	if m.lastErr != nil {
		sections = append(sections, timeoutStyle.Render(fmt.Sprintf("Last error: %v", m.lastErr)))
	}

	sections = append(sections, "")
	sections = append(sections, progressInfoStyle.Render(fmt.Sprintf("Deadline %s (%s left)", m.deadline.Format("15:04:05"), m.remaining())))
	sections = append(sections, "   "+m.deadlineBar.ViewAs(m.elapsedFraction()))
	return sections
}

func (m watchModel) View() string {
	if m.done {
		return m.finalMessage + "\n"
	}

	var sections []string
	sections = append(sections, m.renderHeader()...)
	sections = append(sections, m.renderMessages()...)
	sections = append(sections, m.renderSeparator()...)
	sections = append(sections, m.renderState()...)
	sections = append(sections, "")
	sections = append(sections, helpStyle.Render("Press Ctrl+C or 'q' to quit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
