// Package orchestrator drives the exact, fuzzy and semantic stages in order,
// resuming from committed checkpoints and enforcing the cross-stage invariants.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"corpusdedup/audit"
	"corpusdedup/checkpoint"
	"corpusdedup/config"
	"corpusdedup/corpus"
	"corpusdedup/deduplication"
	"corpusdedup/shared/kafka"
	"corpusdedup/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OutputFile is the name of the final survivor file inside the output directory
const OutputFile = "survivors.jsonl"

// Pipeline runs the stages of one configuration. The sinks are optional; a nil
// sink is skipped.
type Pipeline struct {
	cfg    config.Config
	dedup  *deduplication.Deduplicator
	state  *Manager
	logger zerolog.Logger

	mirror   *checkpoint.Mirror
	removals *checkpoint.RemovalMirror
	events   *kafka.Publisher
	audit    *audit.DB
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithState shares a state manager with the API
func WithState(m *Manager) Option { return func(p *Pipeline) { p.state = m } }

// WithMirror restores and uploads checkpoints through an object store
func WithMirror(m *checkpoint.Mirror) Option { return func(p *Pipeline) { p.mirror = m } }

// WithRemovalMirror publishes each stage's removals to Redis
func WithRemovalMirror(r *checkpoint.RemovalMirror) Option { return func(p *Pipeline) { p.removals = r } }

// WithEvents publishes stage and group events to Kafka
func WithEvents(e *kafka.Publisher) Option { return func(p *Pipeline) { p.events = e } }

// WithAudit records runs in the audit database
func WithAudit(db *audit.DB) Option { return func(p *Pipeline) { p.audit = db } }

// New creates a pipeline around a deduplicator
func New(dedup *deduplication.Deduplicator, logger zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: dedup.Config(), dedup: dedup, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	if p.state == nil {
		p.state = NewManager()
	}
	return p
}

// State returns the pipeline's state manager
func (p *Pipeline) State() *Manager { return p.state }

// IDPrefix returns the prefix for generated document ids
func (p *Pipeline) IDPrefix() string { return p.cfg.IDPrefix }

// Result is the outcome of a completed run
type Result struct {
	Summary   types.RunSummary
	Survivors []types.Document
	Removals  *deduplication.RemovalSet
	Groups    map[types.Stage][]types.DuplicateGroup
}

// ErrBusy is returned when a run is started while another is in progress
var ErrBusy = errors.New("a deduplication run is already in progress")

// Run loads the configured input, runs every stage and writes the survivors to
// <output_dir>/survivors.jsonl. The report is written when audit.report_path is set.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if p.cfg.Input == "" {
		return nil, fmt.Errorf("%w: input is required", types.ErrConfig)
	}
	loaded, err := corpus.ReadFile(ctx, p.cfg.Input, corpus.Options{IDPrefix: p.cfg.IDPrefix, Logger: p.logger})
	if err != nil {
		return nil, err
	}

	res, err := p.RunDocuments(ctx, loaded.Docs, loaded.Invalid)
	if err != nil {
		return nil, err
	}

	out := filepath.Join(p.cfg.OutputDir, OutputFile)
	if err := corpus.WriteFile(out, res.Survivors); err != nil {
		return res, fmt.Errorf("write survivors: %w", err)
	}
	p.logger.Info().Str("path", out).Int("docs", len(res.Survivors)).Msg("survivors written")

	if p.cfg.Audit.ReportPath != "" {
		rec := &audit.RunRecord{Summary: res.Summary, Status: audit.StatusSucceeded, Groups: res.Groups}
		if err := audit.WriteReport(p.cfg.Audit.ReportPath, rec); err != nil {
			return res, err
		}
		p.logger.Info().Str("path", p.cfg.Audit.ReportPath).Msg("report written")
	}
	return res, nil
}

// RunDocuments runs every stage over docs, which must carry dense ordinals in
// input order. invalid is the number of records excluded while loading.
func (p *Pipeline) RunDocuments(ctx context.Context, docs []types.Document, invalid int) (*Result, error) {
	runID := uuid.NewString()
	if !p.state.Begin(runID) {
		return nil, ErrBusy
	}
	logger := p.logger.With().Str("run_id", runID).Logger()

	summary := types.RunSummary{RunID: runID, Loaded: len(docs), Invalid: invalid, StartedAt: time.Now().UTC()}
	p.state.Loaded(len(docs), invalid)
	if p.audit != nil {
		if err := p.audit.BeginRun(ctx, runID, summary.StartedAt); err != nil {
			logger.Warn().Err(err).Msg("failed to record run start")
		}
	}

	res, err := p.runStages(ctx, runID, docs, &summary, logger)
	summary.EndedAt = time.Now().UTC()
	if p.audit != nil {
		// the run outcome is recorded even when ctx was cancelled
		if ferr := p.audit.FinishRun(context.WithoutCancel(ctx), summary, err); ferr != nil {
			logger.Warn().Err(ferr).Msg("failed to record run outcome")
		}
	}
	if err != nil {
		p.state.SetError(err)
		p.listCheckpoints(logger)
		return nil, err
	}

	res.Summary = summary
	p.state.Finish()
	logger.Info().Int("survivors", summary.Survivors).Int("removed", summary.TotalRemoved()).
		Dur("elapsed", summary.EndedAt.Sub(summary.StartedAt)).Msg("run finalized")
	return res, nil
}

func (p *Pipeline) runStages(ctx context.Context, runID string, docs []types.Document, summary *types.RunSummary, logger zerolog.Logger) (*Result, error) {
	resources, release := deduplication.AcquireResources(p.cfg.Workers, p.cfg.WorkerMemory, logger)
	defer release()

	if p.cfg.ClearCache {
		if err := p.ClearCache(ctx); err != nil {
			return nil, err
		}
	}

	res := &Result{
		Removals: deduplication.NewRemovalSet(),
		Groups:   make(map[types.Stage][]types.DuplicateGroup, len(types.Stages)),
	}
	current := docs
	inputFP := types.CorpusFingerprint(docs)
	var completed types.Stage

	for _, stage := range types.Stages {
		p.state.StartStage(stage)
		stageLogger := logger.With().Str("stage", string(stage)).Logger()

		out, st, err := p.advance(ctx, runID, stage, current, inputFP, resources, res.Removals, stageLogger)
		if err != nil {
			if completed != "" {
				p.writeIntermediate(completed, current, stageLogger)
			}
			return nil, err
		}

		summary.Stages = append(summary.Stages, st)
		summary.Survivors = st.Survivors
		res.Groups[stage] = out.Groups
		p.state.StageDone(st)
		p.publish(ctx, runID, st, out, stageLogger)

		stageLogger.Info().Int("docs", st.Input).Int("survivors", st.Survivors).Int("removed", st.Removed).
			Int("groups", st.Groups).Bool("from_cache", st.FromCache).Msg("stage complete")

		current = out.Survivors
		inputFP = types.CorpusFingerprint(current)
		completed = stage
	}

	res.Survivors = current
	return res, nil
}

// advance produces the committed output of one stage, from its checkpoint when
// the fingerprint matches, otherwise by running it. The output's removals are
// added to removals once the invariants hold. A checkpoint that fails them is
// discarded and the stage recomputed.
func (p *Pipeline) advance(ctx context.Context, runID string, stage types.Stage, docs []types.Document, inputFP string,
	resources *deduplication.Resources, removals *deduplication.RemovalSet, logger zerolog.Logger) (*types.StageOutput, types.StageSummary, error) {
	started := time.Now()
	fp := checkpoint.Fingerprint(stage, p.cfg.StageFingerprint(stage), inputFP)
	st := types.StageSummary{Stage: stage, Input: len(docs), Fingerprint: fp}

	if !p.cfg.StageEnabled(stage) {
		out, err := p.dedup.RunStage(ctx, stage, docs, resources)
		if err != nil {
			return nil, st, err
		}
		st.Skipped = true
		return out, fill(st, out, started), nil
	}

	store := checkpoint.NewStore(p.cfg.CacheDir(stage), stage, logger)
	out, err := p.loadCheckpoint(ctx, store, fp, logger)
	switch {
	case err == nil:
		verr := verify(stage, docs, out, p.performRemoval(stage), removals)
		if verr == nil {
			if err := removals.AddAll(out.Removed, stage); err != nil {
				return nil, st, &types.StageError{Stage: stage, Err: err}
			}
			st.FromCache = true
			return out, fill(st, out, started), nil
		}
		// a checkpoint that does not fit this input is treated as corrupt
		logger.Warn().Err(verr).Msg("discarding inconsistent checkpoint")
		if err := store.Discard(); err != nil {
			return nil, st, &types.StageError{Stage: stage, Err: err}
		}
	case !errors.Is(err, checkpoint.ErrMiss):
		return nil, st, &types.StageError{Stage: stage, Err: err}
	}

	out, err = p.compute(ctx, stage, docs, resources, logger)
	if err != nil {
		return nil, st, err
	}
	if err := verify(stage, docs, out, p.performRemoval(stage), removals); err != nil {
		return nil, st, &types.StageError{Stage: stage, Err: err}
	}
	if err := removals.AddAll(out.Removed, stage); err != nil {
		return nil, st, &types.StageError{Stage: stage, Err: err}
	}
	if _, err := store.Commit(out, checkpoint.Manifest{Fingerprint: fp, Input: len(docs), RunID: runID}); err != nil {
		return nil, st, &types.StageError{Stage: stage, Err: err}
	}
	if p.mirror != nil {
		if err := p.mirror.Push(ctx, store); err != nil {
			logger.Warn().Err(err).Msg("failed to mirror checkpoint")
		}
	}
	return out, fill(st, out, started), nil
}

// loadCheckpoint returns the committed output for fp. A corrupt checkpoint is
// discarded and reported as a miss. When the local copy is missing or stale the
// mirror is consulted once.
func (p *Pipeline) loadCheckpoint(ctx context.Context, store *checkpoint.Store, fp string, logger zerolog.Logger) (*types.StageOutput, error) {
	out, err := p.loadLocal(store, fp, logger)
	if !errors.Is(err, checkpoint.ErrMiss) || p.mirror == nil {
		return out, err
	}

	pulled, err := p.mirror.Pull(ctx, store)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to restore checkpoint from mirror")
		return nil, checkpoint.ErrMiss
	}
	if !pulled {
		return nil, checkpoint.ErrMiss
	}
	return p.loadLocal(store, fp, logger)
}

func (p *Pipeline) loadLocal(store *checkpoint.Store, fp string, logger zerolog.Logger) (*types.StageOutput, error) {
	out, _, err := store.Load(fp)
	if errors.Is(err, types.ErrCacheCorrupt) {
		logger.Warn().Err(err).Msg("discarding corrupt checkpoint")
		if derr := store.Discard(); derr != nil {
			return nil, derr
		}
		return nil, checkpoint.ErrMiss
	}
	return out, err
}

// compute runs the stage, retrying failures up to max_stage_retries. Cancellation
// and configuration errors are not retried.
func (p *Pipeline) compute(ctx context.Context, stage types.Stage, docs []types.Document, resources *deduplication.Resources, logger zerolog.Logger) (*types.StageOutput, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxStageRetries; attempt++ {
		if attempt > 0 {
			logger.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("retrying stage")
			p.state.AddLog(fmt.Sprintf("Retrying %s stage (attempt %d)", stage, attempt+1))
		}
		out, err := p.dedup.RunStage(ctx, stage, docs, resources)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, types.ErrConfig) || errors.Is(err, types.ErrConsistency) {
			break
		}
	}
	return nil, lastErr
}

// verify checks the output of a stage against its input and the run's removals:
// survivors are an ordered subset of the input, every input document is either a
// survivor or removed, nothing is removed twice and a stage without removal
// passes everything through. removals is not modified.
func verify(stage types.Stage, input []types.Document, out *types.StageOutput, performRemoval bool, removals *deduplication.RemovalSet) error {
	if out.Stage != stage {
		return fmt.Errorf("%w: output belongs to stage %s", types.ErrConsistency, out.Stage)
	}
	inInput := make(map[string]struct{}, len(input))
	for _, d := range input {
		inInput[d.ID] = struct{}{}
	}

	survivors := make(map[string]struct{}, len(out.Survivors))
	lastOrdinal := -1
	for _, d := range out.Survivors {
		if _, ok := inInput[d.ID]; !ok {
			return fmt.Errorf("%w: survivor %s was not an input of the %s stage", types.ErrConsistency, d.ID, stage)
		}
		if removals.Contains(d.ID) {
			return fmt.Errorf("%w: survivor %s was already removed", types.ErrConsistency, d.ID)
		}
		if d.Ordinal <= lastOrdinal {
			return fmt.Errorf("%w: survivors of the %s stage are out of order at %s", types.ErrConsistency, stage, d.ID)
		}
		lastOrdinal = d.Ordinal
		survivors[d.ID] = struct{}{}
	}

	removed := make(map[string]struct{}, len(out.Removed))
	for _, id := range out.Removed {
		if _, ok := inInput[id]; !ok {
			return fmt.Errorf("%w: removed %s was not an input of the %s stage", types.ErrConsistency, id, stage)
		}
		if _, ok := survivors[id]; ok {
			return fmt.Errorf("%w: %s is both removed and a survivor", types.ErrConsistency, id)
		}
		if _, ok := removed[id]; ok || removals.Contains(id) {
			return fmt.Errorf("%w: %s removed twice", types.ErrConsistency, id)
		}
		removed[id] = struct{}{}
	}
	if len(out.Survivors)+len(out.Removed) != len(input) {
		return fmt.Errorf("%w: %s stage accounts for %d of %d documents", types.ErrConsistency,
			stage, len(out.Survivors)+len(out.Removed), len(input))
	}
	if !performRemoval && len(out.Removed) > 0 {
		return fmt.Errorf("%w: %s stage removed documents with perform_removal off", types.ErrConsistency, stage)
	}
	return nil
}

func (p *Pipeline) performRemoval(stage types.Stage) bool {
	switch stage {
	case types.StageExact:
		return p.cfg.Exact.PerformRemoval
	case types.StageFuzzy:
		return p.cfg.Fuzzy.PerformRemoval
	case types.StageSemantic:
		return p.cfg.Semantic.PerformRemoval
	}
	return false
}

// publish forwards a committed stage to the optional sinks. Sink failures are
// logged and never fail the run.
func (p *Pipeline) publish(ctx context.Context, runID string, st types.StageSummary, out *types.StageOutput, logger zerolog.Logger) {
	if p.removals != nil {
		if err := p.removals.Record(ctx, runID, st.Stage, out.Removed); err != nil {
			logger.Warn().Err(err).Msg("failed to mirror removals")
		}
	}
	if p.events != nil {
		if err := p.events.StageCompleted(runID, st); err != nil {
			logger.Warn().Err(err).Msg("failed to publish stage event")
		}
		if err := p.events.Groups(runID, st.Stage, out.Groups); err != nil {
			logger.Warn().Err(err).Msg("failed to publish group events")
		}
	}
	if p.audit != nil {
		if err := p.audit.RecordStage(ctx, runID, st, out.Groups); err != nil {
			logger.Warn().Err(err).Msg("failed to record stage")
		}
	}
}

// writeIntermediate saves the survivors of completed, the last committed stage,
// next to the output so a failed run still leaves a usable corpus
func (p *Pipeline) writeIntermediate(completed types.Stage, docs []types.Document, logger zerolog.Logger) {
	path := IntermediatePath(p.cfg.OutputDir, completed)
	if err := corpus.WriteFile(path, docs); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("failed to write intermediate survivors")
		return
	}
	logger.Info().Str("path", path).Int("docs", len(docs)).Msg("intermediate survivors written")
}

// IntermediatePath returns where the survivors of completed are saved when a
// later stage fails
func IntermediatePath(outputDir string, completed types.Stage) string {
	return filepath.Join(outputDir, "intermediate_"+string(completed), OutputFile)
}

// listCheckpoints logs the committed checkpoints a failed run leaves behind
func (p *Pipeline) listCheckpoints(logger zerolog.Logger) {
	for _, stage := range types.Stages {
		store := checkpoint.NewStore(p.cfg.CacheDir(stage), stage, logger)
		m, err := store.Manifest()
		if err != nil {
			continue
		}
		logger.Info().Str("stage", string(stage)).Str("dir", store.Dir()).Int("survivors", m.Survivors).
			Time("created_at", m.CreatedAt).Msg("committed checkpoint kept")
	}
}

// ClearCache removes every stage checkpoint, locally and in the mirror
func (p *Pipeline) ClearCache(ctx context.Context) error {
	return ClearCache(ctx, p.cfg, p.mirror, p.logger)
}

// ClearCache removes the checkpoint of every stage in cfg. mirror may be nil.
func ClearCache(ctx context.Context, cfg config.Config, mirror *checkpoint.Mirror, logger zerolog.Logger) error {
	var errs []error
	for _, stage := range types.Stages {
		if err := checkpoint.NewStore(cfg.CacheDir(stage), stage, logger).Discard(); err != nil {
			errs = append(errs, err)
		}
	}
	if mirror != nil {
		if err := mirror.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	logger.Info().Msg("checkpoints cleared")
	return nil
}

func fill(st types.StageSummary, out *types.StageOutput, started time.Time) types.StageSummary {
	st.Survivors = len(out.Survivors)
	st.Removed = len(out.Removed)
	st.Flagged = len(out.Flagged)
	st.Groups = len(out.Groups)
	st.Duration = time.Since(started)
	return st
}
