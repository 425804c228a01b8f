// Package api serves the deduplication pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"corpusdedup/orchestrator"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Server is the deduplication HTTP server
type Server struct {
	pipeline   *orchestrator.Pipeline
	httpServer *http.Server
	cron       *cron.Cron
	cronID     cron.EntryID
	logger     zerolog.Logger
	mu         sync.Mutex

	// ctx outlives requests and is cancelled by Shutdown; background runs use it
	ctx    context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup
}

// NewServer creates a new server listening on port
func NewServer(pipeline *orchestrator.Pipeline, port string, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		pipeline: pipeline,
		cron:     cron.New(),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.httpServer = &http.Server{
		Addr:    ":" + port,
		Handler: s.Router(),
	}
	return s
}

// Router constructs a Gin engine with registered routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	// Minimal middleware: recovery; request logging goes through zerolog
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/api/health", handleHealth)
	s.registerDedupRoutes(r)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.logger.Debug().Str("method", c.Request.Method).Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).Msg("request")
	}
}

// handleHealth handles GET /api/health
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start starts the HTTP server in the background
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("starting API server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()
	return nil
}

// StartCron schedules automated runs of the configured input
func (s *Server) StartCron(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(schedule, func() {
		if s.pipeline.State().Running() {
			s.logger.Info().Str("state", string(s.pipeline.State().State())).Msg("cron skipped: a run is in progress")
			return
		}
		s.logger.Info().Msg("cron triggered: starting scheduled run")
		s.startRun()
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.cronID = id
	s.cron.Start()
	s.logger.Info().Str("schedule", schedule).Msg("cron job started")
	return nil
}

// startRun runs the pipeline in the background
func (s *Server) startRun() {
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if _, err := s.pipeline.Run(s.ctx); err != nil {
			s.logger.Error().Err(err).Msg("run failed")
		}
	}()
}

// Shutdown stops the cron, cancels background runs and drains the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down API server")

	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.cancel()
	s.runs.Wait()

	return s.httpServer.Shutdown(ctx)
}
