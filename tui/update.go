package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Update implements tea.Model interface
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case TickMsg:
		return m, tea.Batch(pollStatus(m.client), tickCmd())
	case StatusUpdateMsg:
		return m.handleStatusUpdate(msg)
	case StartRunMsg:
		if msg.Err != nil {
			m.Err = fmt.Errorf("failed to start run: %w", msg.Err)
		}
		return m, pollStatus(m.client)
	}
	return m, nil
}

// handleKeyPress processes keyboard input
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "s", "S":
		if m.Connected && !m.running() {
			m.Err = nil
			return m, triggerStart(m.client)
		}
	}
	return m, nil
}

// handleStatusUpdate syncs the local copy of the server state
func (m Model) handleStatusUpdate(msg StatusUpdateMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		m.Connected = false
		m.Err = msg.Err
		return m, nil
	}
	m.Connected = true
	m.Err = nil
	if msg.Status != nil {
		m.Status = *msg.Status
	}
	return m, nil
}
