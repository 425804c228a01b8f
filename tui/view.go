package tui

import (
	"fmt"
	"strings"

	"corpusdedup/types"
)

// View implements tea.Model interface
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("🧹 Corpus Deduplication"))
	b.WriteString("\n\n")

	b.WriteString(m.stateText())
	b.WriteString("\n\n")

	s := m.Status
	if m.Connected && s.RunID != "" {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("📊 Run %s: %d loaded (%d invalid), %d surviving", s.RunID, s.Loaded, s.Invalid, s.Survivors)))
		b.WriteString("\n")
	}
	if len(s.Stages) > 0 {
		b.WriteString(stagePanel.Render(stageTable(s.Stages)))
		b.WriteString("\n")
	}

	if len(s.Logs) > 0 {
		b.WriteString(mutedStyle.Render("📝 Recent Activity:"))
		b.WriteString("\n")
		logs := s.Logs
		if len(logs) > 10 {
			logs = logs[len(logs)-10:]
		}
		for _, entry := range logs {
			b.WriteString(mutedStyle.Render(fmt.Sprintf("   %s %s", entry.Timestamp.Format("15:04:05"), entry.Message)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if m.running() {
		b.WriteString(mutedStyle.Render(TextFooterRunning))
	} else {
		b.WriteString(mutedStyle.Render(TextFooterIdle))
	}
	return b.String()
}

// stageTable lays out one row per completed stage
func stageTable(stages []types.StageSummary) string {
	var b strings.Builder
	b.WriteString(tableHeaderStyle.Render(fmt.Sprintf("%-9s %8s %9s %8s %7s  %s", "STAGE", "INPUT", "SURVIVORS", "REMOVED", "GROUPS", "SOURCE")))
	b.WriteString("\n")
	for _, st := range stages {
		source := "computed"
		switch {
		case st.Skipped:
			source = "disabled"
		case st.FromCache:
			source = "checkpoint"
		}
		fmt.Fprintf(&b, "%-9s %8d %s %s %7d  %s\n", st.Stage, st.Input,
			survivorsStyle.Render(fmt.Sprintf("%9d", st.Survivors)),
			removedStyle.Render(fmt.Sprintf("%8d", st.Removed)),
			st.Groups, sourceStyle(st).Render(source))
	}
	return strings.TrimRight(b.String(), "\n")
}
