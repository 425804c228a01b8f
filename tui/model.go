// Package tui renders pipeline progress: a bubbletea client that polls the
// status endpoint, and the run summary printed by the command line.
package tui

import (
	"fmt"

	"corpusdedup/types"

	tea "github.com/charmbracelet/bubbletea"
)

// Model represents the TUI client state (thin client)
type Model struct {
	client *Client

	// Local UI state (synced from the server)
	Status types.StatusResponse
	Err    error

	// Connection status
	Connected bool
}

// NewModel creates a new TUI model
func NewModel(serverURL string) Model {
	return Model{
		client: NewClient(serverURL),
		Status: types.StatusResponse{State: types.StateIdle},
	}
}

// Init implements tea.Model interface
func (m Model) Init() tea.Cmd {
	// Start polling immediately
	return tea.Batch(
		pollStatus(m.client),
		tickCmd(),
	)
}

// running reports whether the server is mid-run
func (m Model) running() bool {
	switch m.Status.State {
	case types.StateIdle, types.StateFinalized, types.StateError:
		return false
	}
	return true
}

// stateText returns the headline for the current state
func (m Model) stateText() string {
	if !m.Connected {
		msg := "Not connected to server"
		if m.Err != nil {
			msg += ": " + m.Err.Error()
		}
		return failedStyle.Render("❌ " + msg)
	}

	s := m.Status
	switch s.State {
	case types.StateIdle:
		return readyBadge.Render("👋 Ready") + "\n\n" + mutedStyle.Render(TextStartInstruction)
	case types.StateLoaded, types.StateExactDone, types.StateFuzzyDone, types.StateSemanticDone:
		if s.ActiveStage != "" {
			return runningStyle.Render(fmt.Sprintf("🔍 Running %s stage...", s.ActiveStage))
		}
		return runningStyle.Render(fmt.Sprintf("⏳ %s", s.State))
	case types.StateFinalized:
		return doneBadge.Render("✅ FINALIZED")
	case types.StateError:
		errMsg := s.Error
		if errMsg == "" {
			errMsg = "Unknown error"
		}
		return failedStyle.Render("❌ Error: " + errMsg)
	default:
		return string(s.State)
	}
}
