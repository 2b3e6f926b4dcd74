package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/containust/containust/pkg/state"
)

// psTUIModel is a minimal bubbletea dashboard for `ctst ps --tui`:
// a periodically refreshed container table. Grounded on
// jinterlante1206-AleutianLocal's services/code_buddy/tui.DiffReviewModel
// shape (Model/Update/View, lipgloss-styled header/rows, "q" to quit),
// scaled down to a read-only auto-refreshing list instead of an
// interactive review flow.
type psTUIModel struct {
	states  *state.Index
	records []state.Record
	err     error
	width   int
}

type tickMsg time.Time

func runPsTUI(states *state.Index) error {
	p := tea.NewProgram(newPsTUIModel(states))
	_, err := p.Run()
	return err
}

func newPsTUIModel(states *state.Index) psTUIModel {
	return psTUIModel{states: states}
}

func (m psTUIModel) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type refreshMsg struct {
	records []state.Record
	err     error
}

func (m psTUIModel) refresh() tea.Cmd {
	states := m.states
	return func() tea.Msg {
		records, err := states.List()
		return refreshMsg{records: records, err: err}
	}
}

func (m psTUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil
	case tickMsg:
		return m, tea.Batch(m.refresh(), tickCmd())
	case refreshMsg:
		m.records, m.err = msg.records, msg.err
		return m, nil
	}
	return m, nil
}

var (
	psTUIHeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	psTUIRunningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	psTUIFailedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	psTUIDimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func (m psTUIModel) View() string {
	var b string
	b += psTUIHeaderStyle.Render("containust — ctst ps --tui") + "\n\n"
	if m.err != nil {
		return b + fmt.Sprintf("error reading state: %v\n", m.err)
	}
	b += fmt.Sprintf("%-14s %-16s %-10s %-8s\n", "ID", "NAME", "STATE", "PID")
	for _, r := range m.records {
		style := psTUIDimStyle
		switch r.State {
		case state.StateRunning:
			style = psTUIRunningStyle
		case state.StateFailed:
			style = psTUIFailedStyle
		}
		b += style.Render(fmt.Sprintf("%-14.14s %-16.16s %-10s %-8d", r.ID, r.Name, r.State, r.PID)) + "\n"
	}
	b += "\n" + psTUIDimStyle.Render("q to quit, refreshes every second")
	return b
}
