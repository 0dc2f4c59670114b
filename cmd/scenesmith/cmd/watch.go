package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"scenesmith/internal/core"
)

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	watchDimStyle   = lipgloss.NewStyle().Faint(true)
	watchErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type watchTickMsg time.Time

type watchDataMsg struct {
	tasks []core.TaskSnapshot
	prog  progressPayload
	err   error
}

type watchModel struct {
	ctx   context.Context
	tasks []core.TaskSnapshot
	prog  progressPayload
	err   error
}

func runStatusWatch(ctx context.Context) error {
	m := watchModel{ctx: ctx}
	_, err := tea.NewProgram(m, tea.WithContext(ctx)).Run()
	return err
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.fetch, watchTick())
}

func watchTick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

func (m watchModel) fetch() tea.Msg {
	tasks, prog, err := fetchStatus(m.ctx)
	return watchDataMsg{tasks: tasks, prog: prog, err: err}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	case watchTickMsg:
		return m, tea.Batch(m.fetch, watchTick())
	case watchDataMsg:
		m.tasks = msg.tasks
		m.prog = msg.prog
		m.err = msg.err
	}
	return m, nil
}

func (m watchModel) View() string {
	out := watchTitleStyle.Render("scenesmith") + "\n\n"
	if m.err != nil {
		out += watchErrStyle.Render(m.err.Error()) + "\n"
		return out
	}
	out += renderStatusTable(m.tasks) + "\n"
	out += fmt.Sprintf("scenes %d/%d  parts %d/%d\n",
		m.prog.DoneScenes, m.prog.TotalScenes, m.prog.DoneParts, m.prog.TotalParts)
	out += watchDimStyle.Render("q to quit") + "\n"
	return out
}
