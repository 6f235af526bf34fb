package ui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

var frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type tickMsg struct{}

type doneMsg struct {
	details []string
	err     error
}

type model struct {
	title   string
	frame   int
	started time.Time
	done    bool
	details []string
	err     error
	work    func() tea.Msg
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tick(), m.work)
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(frames)
		return m, tick()
	case doneMsg:
		m.done, m.details, m.err = true, msg.details, msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.done, m.err = true, context.Canceled
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	if !m.done {
		elapsed := time.Since(m.started).Round(100 * time.Millisecond)
		return fmt.Sprintf("%s %s %s\n", frames[m.frame], titleStyle.Render(m.title), dimStyle.Render(elapsed.String()))
	}
	out := okStyle.Render("✓ ") + titleStyle.Render(m.title) + "\n"
	if m.err != nil {
		out = failStyle.Render("✗ ") + titleStyle.Render(m.title) + " " + failStyle.Render(m.err.Error()) + "\n"
	}
	for _, d := range m.details {
		out += dimStyle.Render("  "+d) + "\n"
	}
	return out
}

// Run executes fn behind a terminal spinner and returns what fn returned.
// Ctrl+C cancels the context passed to fn.
func Run(title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := model{
		title:   title,
		started: time.Now(),
		work: func() tea.Msg {
			details, err := fn(ctx)
			return doneMsg{details: details, err: err}
		},
	}
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return nil, err
	}
	res := final.(model)
	return res.details, res.err
}
