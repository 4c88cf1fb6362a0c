package main

import (
	"errors"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gl-yziquel/himalaya/internal/theme"
)

var errInterrupted = errors.New("interrupted")

type doneMsg struct{ err error }

// spinnerModel shows a spinner on stderr until work finishes.
type spinnerModel struct {
	spinner spinner.Model
	title   string
	work    func() error

	done bool
	err  error
}

func (m spinnerModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		return doneMsg{err: m.work()}
	})
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.done = true
			m.err = errInterrupted
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinnerModel) View() string {
	if m.done {
		return ""
	}
	return m.spinner.View() + " " + theme.HelpStyle.Render(m.title) + "\n"
}

// withSpinner runs work while a spinner titled title is displayed.
func withSpinner(title string, work func() error) error {
	m := spinnerModel{
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(theme.ColorMagenta)),
		),
		title: title,
		work:  work,
	}

	final, err := tea.NewProgram(m, tea.WithOutput(os.Stderr)).Run()
	if err != nil {
		return err
	}
	return final.(spinnerModel).err
}
