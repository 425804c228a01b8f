package audit

import (
	"fmt"
	"time"

	"corpusdedup/types"

	"github.com/xuri/excelize/v2"
)

const summarySheet = "Summary"

// WriteReport saves an xlsx workbook describing rec: a Summary sheet with run and
// stage counts, then one sheet per stage listing every group member.
func WriteReport(filename string, rec *RunRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename summary sheet: %w", err)
	}
	writeSummary(f, rec, headerStyle)

	for _, stage := range types.Stages {
		if err := writeGroups(f, stage, rec.Groups[stage], headerStyle); err != nil {
			return err
		}
	}

	f.SetActiveSheet(0)
	if err := f.SaveAs(filename); err != nil {
		return fmt.Errorf("save report %s: %w", filename, err)
	}
	return nil
}

func writeSummary(f *excelize.File, rec *RunRecord, headerStyle int) {
	s := rec.Summary
	rows := [][]any{
		{"Run ID", s.RunID},
		{"Status", rec.Status},
		{"Started", s.StartedAt.Format(time.RFC3339)},
		{"Ended", s.EndedAt.Format(time.RFC3339)},
		{"Loaded", s.Loaded},
		{"Invalid", s.Invalid},
		{"Survivors", s.Survivors},
		{"Removed", s.TotalRemoved()},
	}
	if rec.Error != "" {
		rows = append(rows, []any{"Error", rec.Error})
	}
	for i, r := range rows {
		f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), r[0])
		f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), r[1])
	}

	start := len(rows) + 2
	headers := []string{"Stage", "Input", "Survivors", "Removed", "Flagged", "Groups", "From cache", "Skipped", "Duration (s)"}
	writeHeader(f, summarySheet, start, headers, headerStyle)
	for i, st := range s.Stages {
		row := start + 1 + i
		f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), string(st.Stage))
		f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), st.Input)
		f.SetCellValue(summarySheet, fmt.Sprintf("C%d", row), st.Survivors)
		f.SetCellValue(summarySheet, fmt.Sprintf("D%d", row), st.Removed)
		f.SetCellValue(summarySheet, fmt.Sprintf("E%d", row), st.Flagged)
		f.SetCellValue(summarySheet, fmt.Sprintf("F%d", row), st.Groups)
		f.SetCellValue(summarySheet, fmt.Sprintf("G%d", row), st.FromCache)
		f.SetCellValue(summarySheet, fmt.Sprintf("H%d", row), st.Skipped)
		f.SetCellValue(summarySheet, fmt.Sprintf("I%d", row), st.Duration.Seconds())
	}
	f.SetColWidth(summarySheet, "A", "A", 14)
	f.SetColWidth(summarySheet, "B", "I", 12)
}

func writeGroups(f *excelize.File, stage types.Stage, groups []types.DuplicateGroup, headerStyle int) error {
	sheet := string(stage) + " groups"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}

	headers := []string{"Group", "Key", "Document", "Role", "Score"}
	writeHeader(f, sheet, 1, headers, headerStyle)

	row := 2
	for gi, g := range groups {
		for _, id := range g.Members {
			role := "removed"
			if id == g.Survivor {
				role = "survivor"
			}
			f.SetCellValue(sheet, fmt.Sprintf("A%d", row), gi+1)
			f.SetCellValue(sheet, fmt.Sprintf("B%d", row), g.Key)
			f.SetCellValue(sheet, fmt.Sprintf("C%d", row), id)
			f.SetCellValue(sheet, fmt.Sprintf("D%d", row), role)
			if score, ok := g.Scores[id]; ok {
				f.SetCellValue(sheet, fmt.Sprintf("E%d", row), score)
			}
			row++
		}
	}

	for i := range headers {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, 18)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, row int, headers []string, style int) {
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		f.SetCellValue(sheet, cell, header)
		f.SetCellStyle(sheet, cell, cell, style)
	}
}
