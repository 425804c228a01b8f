package types

import "time"

// State represents the pipeline state machine
type State string

const (
	StateIdle         State = "idle"
	StateLoaded       State = "loaded"
	StateExactDone    State = "exact_done"
	StateFuzzyDone    State = "fuzzy_done"
	StateSemanticDone State = "semantic_done"
	StateFinalized    State = "finalized"
	StateError        State = "error"
)

// DoneState returns the state reached once the given stage has committed
func DoneState(stage Stage) State {
	switch stage {
	case StageExact:
		return StateExactDone
	case StageFuzzy:
		return StateFuzzyDone
	case StageSemantic:
		return StateSemanticDone
	}
	return StateError
}

// LogEntry represents a single log line with timestamp
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// StageSummary reports what one stage did
type StageSummary struct {
	Stage       Stage         `json:"stage"`
	Input       int           `json:"input"`
	Survivors   int           `json:"survivors"`
	Removed     int           `json:"removed"`
	Flagged     int           `json:"flagged,omitempty"`
	Groups      int           `json:"groups"`
	FromCache   bool          `json:"from_cache"`
	Skipped     bool          `json:"skipped,omitempty"`
	Fingerprint string        `json:"fingerprint"`
	Duration    time.Duration `json:"duration"`
}

// RunSummary is the final report of a pipeline run
type RunSummary struct {
	RunID     string         `json:"run_id"`
	Loaded    int            `json:"loaded"`
	Invalid   int            `json:"invalid"`
	Survivors int            `json:"survivors"`
	Stages    []StageSummary `json:"stages"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
}

// TotalRemoved returns the number of documents removed across all stages
func (s RunSummary) TotalRemoved() int {
	n := 0
	for _, st := range s.Stages {
		n += st.Removed
	}
	return n
}

// StatusResponse is the JSON response for GET /api/dedup/status
type StatusResponse struct {
	State       State          `json:"state"`
	ActiveStage Stage          `json:"active_stage,omitempty"`
	RunID       string         `json:"run_id,omitempty"`
	Logs        []LogEntry     `json:"logs"`
	Stages      []StageSummary `json:"stages"`
	Loaded      int            `json:"loaded"`
	Invalid     int            `json:"invalid"`
	Survivors   int            `json:"survivors"`
	Error       string         `json:"error,omitempty"`
}
