package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"corpusdedup/corpus"
	"corpusdedup/deduplication"
	"corpusdedup/orchestrator"
	"corpusdedup/types"

	"github.com/gin-gonic/gin"
)

func (s *Server) registerDedupRoutes(r *gin.Engine) {
	g := r.Group("/api/dedup")
	g.POST("/run", s.handleRun)
	g.POST("/start", s.handleStart)
	g.GET("/status", s.handleStatus)
	g.DELETE("/cache", s.handleClearCache)
}

// RunDocument is one inline document. ID is optional.
type RunDocument struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// RunRequest represents the request to deduplicate inline documents
type RunRequest struct {
	Documents []RunDocument `json:"documents" binding:"required"`
}

// RunResponse represents the result of a synchronous run
type RunResponse struct {
	RunID     string                                 `json:"run_id"`
	Summary   types.RunSummary                       `json:"summary"`
	Survivors []RunDocument                          `json:"survivors"`
	Removed   []deduplication.RemovalEntry           `json:"removed"`
	Groups    map[types.Stage][]types.DuplicateGroup `json:"groups"`
	Problems  []string                               `json:"problems,omitempty"`
}

// handleRun handles POST /api/dedup/run
func (s *Server) handleRun(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	loaded := s.documents(req.Documents)
	if len(loaded.Docs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no valid documents", "problems": problems(loaded)})
		return
	}

	res, err := s.pipeline.RunDocuments(c.Request.Context(), loaded.Docs, loaded.Invalid)
	switch {
	case errors.Is(err, orchestrator.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := RunResponse{
		RunID:     res.Summary.RunID,
		Summary:   res.Summary,
		Survivors: make([]RunDocument, len(res.Survivors)),
		Removed:   res.Removals.Entries(),
		Groups:    res.Groups,
		Problems:  problems(loaded),
	}
	for i, d := range res.Survivors {
		resp.Survivors[i] = RunDocument{ID: d.ID, Text: d.Text}
	}
	c.JSON(http.StatusOK, resp)
}

// documents validates inline documents like corpus lines: blank text and
// repeated ids are excluded and counted, the rest get ids and dense ordinals
func (s *Server) documents(in []RunDocument) *corpus.Result {
	records := make([]corpus.Record, len(in))
	for i, d := range in {
		records[i] = corpus.Record{ID: strings.TrimSpace(d.ID), Text: d.Text, Position: i + 1}
	}
	return corpus.Collect(records, corpus.Options{IDPrefix: s.pipeline.IDPrefix(), Logger: s.logger})
}

func problems(res *corpus.Result) []string {
	out := make([]string, 0, len(res.Problems))
	for _, p := range res.Problems {
		out = append(out, p.Error())
	}
	return out
}

// handleStart handles POST /api/dedup/start
func (s *Server) handleStart(c *gin.Context) {
	state := s.pipeline.State()
	if state.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("run already in progress (state=%s)", state.State())})
		return
	}

	s.startRun()
	c.JSON(http.StatusAccepted, gin.H{
		"status":  "started",
		"message": "Deduplication run initiated",
	})
}

// handleStatus handles GET /api/dedup/status
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.pipeline.State().Status())
}

// handleClearCache handles DELETE /api/dedup/cache
func (s *Server) handleClearCache(c *gin.Context) {
	if s.pipeline.State().Running() {
		c.JSON(http.StatusConflict, gin.H{"error": "cannot clear checkpoints while a run is in progress"})
		return
	}
	if err := s.pipeline.ClearCache(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear cache: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}
