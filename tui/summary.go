package tui

import (
	"fmt"
	"strings"
	"time"

	"corpusdedup/types"
)

// RenderSummary formats a finished run for the terminal
func RenderSummary(s types.RunSummary) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Deduplication summary"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Run:       %s\n", s.RunID)
	fmt.Fprintf(&b, "Loaded:    %d (%d invalid)\n", s.Loaded, s.Invalid)
	fmt.Fprintf(&b, "Removed:   %s\n", removedStyle.Render(fmt.Sprint(s.TotalRemoved())))
	fmt.Fprintf(&b, "Survivors: %s\n", survivorsStyle.Render(fmt.Sprint(s.Survivors)))
	fmt.Fprintf(&b, "Elapsed:   %s\n", s.EndedAt.Sub(s.StartedAt).Round(time.Millisecond))
	if len(s.Stages) > 0 {
		b.WriteString(stagePanel.Render(stageTable(s.Stages)))
		b.WriteString("\n")
	}
	return b.String()
}
