package tui

import (
	"corpusdedup/types"

	"github.com/charmbracelet/lipgloss"
)

// Palette: teal for kept documents, amber for removals, slate for chrome
const (
	colorAccent  = "#2A9D8F"
	colorKept    = "#52B788"
	colorRemoved = "#E9C46A"
	colorFailed  = "#E76F51"
	colorMuted   = "#8D99AE"
	colorPanel   = "#264653"
	colorInverse = "#F1FAEE"
)

var (
	headerStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(colorAccent)).
		MarginBottom(1)

	// readyBadge and doneBadge frame the idle and finalized headlines
	readyBadge = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(colorInverse)).
		Background(lipgloss.Color(colorPanel)).
		Padding(0, 1)

	doneBadge = readyBadge.
		Background(lipgloss.Color(colorKept))

	runningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color(colorAccent))

	failedStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(colorFailed))

	mutedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color(colorMuted))

	survivorsStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(colorKept))

	removedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color(colorRemoved))

	stagePanel = lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color(colorPanel)).
		Padding(0, 1)

	tableHeaderStyle = lipgloss.NewStyle().
		Bold(true).
		Underline(true)
)

// sourceStyle colors the SOURCE column of a stage row
func sourceStyle(st types.StageSummary) lipgloss.Style {
	switch {
	case st.Skipped:
		return mutedStyle
	case st.FromCache:
		return runningStyle
	}
	return survivorsStyle
}

// UI Text Constants
const (
	TextStartInstruction = "Press 's' to start a run"
	TextFooterIdle       = "Press 's' to start a run | Press 'q' to quit"
	TextFooterRunning    = "Press 'q' to detach (the run continues on the server)"
)
