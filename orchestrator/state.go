package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"corpusdedup/types"
)

const maxLogs = 50

// Manager holds the pipeline state with thread-safe access. The API and the TUI
// read it through Status while a run updates it.
type Manager struct {
	mu sync.RWMutex

	// Current state
	currentState types.State
	activeStage  types.Stage
	running      bool

	runID     string
	loaded    int
	invalid   int
	survivors int
	stages    []types.StageSummary

	// Logs (ring buffer)
	logs    []types.LogEntry
	lastErr error
}

// NewManager creates a new state manager
func NewManager() *Manager {
	return &Manager{
		currentState: types.StateIdle,
		logs:         make([]types.LogEntry, 0, maxLogs),
	}
}

// Begin resets the per-run fields for a new run. It returns false when a run is
// already in progress.
func (m *Manager) Begin(runID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return false
	}
	m.running = true
	m.currentState = types.StateIdle
	m.activeStage = ""
	m.runID = runID
	m.loaded, m.invalid, m.survivors = 0, 0, 0
	m.stages = nil
	m.lastErr = nil
	m.appendLog(fmt.Sprintf("Run %s started", runID))
	return true
}

// Loaded records the corpus counts and moves to the loaded state
func (m *Manager) Loaded(docs, invalid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentState = types.StateLoaded
	m.loaded, m.invalid, m.survivors = docs, invalid, docs
	m.appendLog(fmt.Sprintf("Loaded %d documents (%d invalid)", docs, invalid))
}

// StartStage marks stage as running
func (m *Manager) StartStage(stage types.Stage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeStage = stage
	m.appendLog(fmt.Sprintf("Running %s stage...", stage))
}

// StageDone records a committed stage and advances the state machine
func (m *Manager) StageDone(summary types.StageSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentState = types.DoneState(summary.Stage)
	m.activeStage = ""
	m.survivors = summary.Survivors
	m.stages = append(m.stages, summary)

	switch {
	case summary.Skipped:
		m.appendLog(fmt.Sprintf("%s stage disabled, %d documents passed through", summary.Stage, summary.Survivors))
	case summary.FromCache:
		m.appendLog(fmt.Sprintf("%s stage loaded from checkpoint: %d survivors", summary.Stage, summary.Survivors))
	default:
		m.appendLog(fmt.Sprintf("%s stage removed %d of %d documents in %s",
			summary.Stage, summary.Removed, summary.Input, summary.Duration.Round(time.Millisecond)))
	}
}

// Finish moves to the finalized state and ends the run
func (m *Manager) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentState = types.StateFinalized
	m.running = false
	m.appendLog(fmt.Sprintf("Run %s finalized with %d survivors", m.runID, m.survivors))
}

// AddLog adds a log entry (thread-safe)
func (m *Manager) AddLog(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLog(message)
}

// SetError sets the error state and ends the run
func (m *Manager) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentState = types.StateError
	m.running = false
	m.lastErr = err
	m.appendLog(fmt.Sprintf("Error: %v", err))
}

// State gets the current state (thread-safe)
func (m *Manager) State() types.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentState
}

// Running reports whether a run is in progress
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Status returns a snapshot of the current state (thread-safe)
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()

	resp := types.StatusResponse{
		State:       m.currentState,
		ActiveStage: m.activeStage,
		RunID:       m.runID,
		Logs:        append([]types.LogEntry{}, m.logs...),
		Stages:      append([]types.StageSummary{}, m.stages...),
		Loaded:      m.loaded,
		Invalid:     m.invalid,
		Survivors:   m.survivors,
	}
	if m.lastErr != nil {
		resp.Error = m.lastErr.Error()
	}
	return resp
}

// appendLog must be called with the lock held
func (m *Manager) appendLog(message string) {
	m.logs = append(m.logs, types.LogEntry{Timestamp: time.Now(), Message: message})
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}
