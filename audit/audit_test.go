package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"corpusdedup/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "audit.sqlite"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func recordSampleRun(t *testing.T, db *DB, runErr error) types.RunSummary {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.BeginRun(ctx, "run-1", start))
	exact := types.StageSummary{Stage: types.StageExact, Input: 3, Survivors: 2, Removed: 1, Groups: 1, Duration: 1500 * time.Millisecond}
	require.NoError(t, db.RecordStage(ctx, "run-1", exact, []types.DuplicateGroup{
		{Stage: types.StageExact, Key: "h1", Members: []string{"1", "2"}, Survivor: "1", Removed: []string{"2"}},
	}))
	fuzzy := types.StageSummary{Stage: types.StageFuzzy, Input: 2, Survivors: 1, Removed: 1, Groups: 1, FromCache: true}
	require.NoError(t, db.RecordStage(ctx, "run-1", fuzzy, []types.DuplicateGroup{
		{Stage: types.StageFuzzy, Key: "component:1", Members: []string{"1", "3"}, Survivor: "1", Removed: []string{"3"},
			Scores: map[string]float64{"1": 0.75, "3": 0.75}},
	}))

	summary := types.RunSummary{
		RunID: "run-1", Loaded: 3, Survivors: 1,
		Stages:    []types.StageSummary{exact, fuzzy},
		StartedAt: start, EndedAt: start.Add(time.Minute),
	}
	require.NoError(t, db.FinishRun(ctx, summary, runErr))
	return summary
}

func TestRecordAndLoadRun(t *testing.T) {
	db := openTestDB(t)
	recordSampleRun(t, db, nil)

	id, err := db.LatestRunID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", id)

	rec, err := db.LoadRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, rec.Status)
	assert.Equal(t, 3, rec.Summary.Loaded)
	require.Len(t, rec.Summary.Stages, 2)
	assert.Equal(t, types.StageExact, rec.Summary.Stages[0].Stage)
	assert.Equal(t, 1500*time.Millisecond, rec.Summary.Stages[0].Duration)
	assert.True(t, rec.Summary.Stages[1].FromCache)
	assert.Equal(t, 2, rec.Summary.TotalRemoved())

	fuzzy := rec.Groups[types.StageFuzzy]
	require.Len(t, fuzzy, 1)
	assert.Equal(t, []string{"1", "3"}, fuzzy[0].Members)
	assert.Equal(t, []string{"3"}, fuzzy[0].Removed)
	assert.InDelta(t, 0.75, fuzzy[0].Scores["3"], 1e-12)
	assert.Nil(t, rec.Groups[types.StageExact][0].Scores)
}

func TestRecordStageReplacesEarlierRecord(t *testing.T) {
	db := openTestDB(t)
	recordSampleRun(t, db, nil)
	ctx := context.Background()

	again := types.StageSummary{Stage: types.StageExact, Input: 3, Survivors: 3}
	require.NoError(t, db.RecordStage(ctx, "run-1", again, nil))

	rec, err := db.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, rec.Groups[types.StageExact])
	assert.Equal(t, 3, rec.Summary.Stages[0].Survivors)
}

func TestFinishRunRecordsFailure(t *testing.T) {
	db := openTestDB(t)
	recordSampleRun(t, db, errors.New("stage semantic: boom"))

	rec, err := db.LoadRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "stage semantic: boom", rec.Error)

	err = db.FinishRun(context.Background(), types.RunSummary{RunID: "ghost"}, nil)
	assert.Error(t, err)
}

func TestWriteReport(t *testing.T) {
	db := openTestDB(t)
	recordSampleRun(t, db, nil)
	rec, err := db.LoadRun(context.Background(), "run-1")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, WriteReport(path, rec))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Summary", "exact groups", "fuzzy groups", "semantic groups"}, f.GetSheetList())

	runID, err := f.GetCellValue("Summary", "B1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)

	role, err := f.GetCellValue("fuzzy groups", "D3")
	require.NoError(t, err)
	assert.Equal(t, "removed", role)
	doc, err := f.GetCellValue("fuzzy groups", "C3")
	require.NoError(t, err)
	assert.Equal(t, "3", doc)
}
