package tui

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"corpusdedup/types"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientStatusAndStart(t *testing.T) {
	var started atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/dedup/status":
			json.NewEncoder(w).Encode(types.StatusResponse{State: types.StateFuzzyDone, RunID: "r1", Survivors: 7})
		case r.Method == http.MethodPost && r.URL.Path == "/api/dedup/start":
			started.Store(true)
			w.WriteHeader(http.StatusAccepted)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	status, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, types.StateFuzzyDone, status.State)
	assert.Equal(t, 7, status.Survivors)

	require.NoError(t, c.Start())
	assert.True(t, started.Load())
}

func TestClientReportsConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusConflict)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}

func TestModelTracksStatus(t *testing.T) {
	m := NewModel("http://unused")
	assert.Contains(t, m.View(), "Not connected")

	next, _ := m.Update(StatusUpdateMsg{Status: &types.StatusResponse{
		State:       types.StateExactDone,
		ActiveStage: types.StageFuzzy,
		RunID:       "r1",
		Loaded:      10,
		Stages:      []types.StageSummary{{Stage: types.StageExact, Input: 10, Survivors: 8, Removed: 2, Groups: 1}},
		Logs:        []types.LogEntry{{Timestamp: time.Now(), Message: "Running fuzzy stage..."}},
	}})
	m = next.(Model)
	assert.True(t, m.Connected)
	assert.True(t, m.running())

	view := m.View()
	assert.Contains(t, view, "Running fuzzy stage")
	assert.Contains(t, view, "exact")
	assert.Contains(t, view, TextFooterRunning)

	// starting is ignored while a run is in progress
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	assert.Nil(t, cmd)

	next, _ = m.Update(StatusUpdateMsg{Err: errors.New("connection refused")})
	m = next.(Model)
	assert.False(t, m.Connected)
	assert.Contains(t, m.View(), "connection refused")
}

func TestModelStartsWhenIdle(t *testing.T) {
	m := NewModel("http://unused")
	next, _ := m.Update(StatusUpdateMsg{Status: &types.StatusResponse{State: types.StateFinalized}})
	m = next.(Model)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	assert.NotNil(t, cmd)
}

func TestRenderSummary(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out := RenderSummary(types.RunSummary{
		RunID: "r1", Loaded: 5, Invalid: 1, Survivors: 2,
		Stages: []types.StageSummary{
			{Stage: types.StageExact, Input: 5, Survivors: 4, Removed: 1, Groups: 1, FromCache: true},
			{Stage: types.StageFuzzy, Input: 4, Survivors: 2, Removed: 2, Groups: 1},
			{Stage: types.StageSemantic, Input: 2, Survivors: 2, Skipped: true},
		},
		StartedAt: start, EndedAt: start.Add(1500 * time.Millisecond),
	})

	assert.Contains(t, out, "r1")
	assert.Contains(t, out, "5 (1 invalid)")
	assert.Contains(t, out, "1.5s")
	for _, want := range []string{"checkpoint", "computed", "disabled"} {
		assert.True(t, strings.Contains(out, want), want)
	}
}

func TestStageTableRows(t *testing.T) {
	table := stageTable([]types.StageSummary{
		{Stage: types.StageExact, Input: 10, Survivors: 8, Removed: 2, Groups: 2},
		{Stage: types.StageFuzzy, Input: 8, Survivors: 8, FromCache: true},
	})

	lines := strings.Split(table, "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "SURVIVORS")
	assert.True(t, strings.HasPrefix(lines[1], "exact"))
	assert.Contains(t, lines[1], "computed")
	assert.True(t, strings.HasPrefix(lines[2], "fuzzy"))
	assert.Contains(t, lines[2], "checkpoint")
}
