package tui

import (
	"time"

	"corpusdedup/types"
)

// Messages for the tea program (polling-based)

// StatusUpdateMsg is sent when we receive status from the server
type StatusUpdateMsg struct {
	Status *types.StatusResponse
	Err    error
}

// TickMsg is sent periodically to trigger polling
type TickMsg struct {
	Time time.Time
}

// StartRunMsg is sent once a start request has been answered
type StartRunMsg struct {
	Err error
}
