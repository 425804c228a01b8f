package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// pollInterval is how often the model asks the server for status
const pollInterval = 500 * time.Millisecond

// pollStatus creates a command to poll pipeline status
func pollStatus(client *Client) tea.Cmd {
	return func() tea.Msg {
		status, err := client.Status()
		return StatusUpdateMsg{Status: status, Err: err}
	}
}

// triggerStart creates a command to start a run
func triggerStart(client *Client) tea.Cmd {
	return func() tea.Msg {
		return StartRunMsg{Err: client.Start()}
	}
}

// tickCmd creates a command that ticks every pollInterval
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}
