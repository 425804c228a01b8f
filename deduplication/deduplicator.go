package deduplication

import (
	"context"
	"errors"
	"fmt"

	"corpusdedup/config"
	"corpusdedup/types"

	"github.com/rs/zerolog"
)

// Deduplicator runs the three deduplication stages against one configuration.
// It owns the embedder used by the semantic stage.
type Deduplicator struct {
	cfg      config.Config
	embedder Embedder
	logger   zerolog.Logger
}

// NewDeduplicator creates a new instance of the deduplicator, building the
// configured embedder when the semantic stage is enabled
func NewDeduplicator(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Deduplicator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var embedder Embedder
	if cfg.Semantic.Enabled {
		e, err := NewEmbedder(ctx, cfg.Semantic)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		embedder = e
		logger.Info().Str("provider", cfg.Semantic.EmbeddingProvider).Str("model", e.ModelName()).Msg("embedder ready")
	}

	return &Deduplicator{cfg: cfg, embedder: embedder, logger: logger}, nil
}

// NewDeduplicatorWithEmbedder constructs a deduplicator from a preconfigured embedder.
func NewDeduplicatorWithEmbedder(embedder Embedder, cfg config.Config, logger zerolog.Logger) (*Deduplicator, error) {
	if embedder == nil {
		return nil, errors.New("embedder cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Deduplicator{cfg: cfg, embedder: embedder, logger: logger}, nil
}

// Config returns the configuration the deduplicator was built with
func (d *Deduplicator) Config() config.Config { return d.cfg }

// RunStage executes one stage over docs. A disabled stage passes every document
// through unchanged. Stage failures are wrapped in *types.StageError.
func (d *Deduplicator) RunStage(ctx context.Context, stage types.Stage, docs []types.Document, res *Resources) (*types.StageOutput, error) {
	if !d.cfg.StageEnabled(stage) {
		d.logger.Info().Str("stage", string(stage)).Msg("stage disabled, passing documents through")
		return buildOutput(stage, docs, nil, false), nil
	}

	var (
		out *types.StageOutput
		err error
	)
	switch stage {
	case types.StageExact:
		out, err = DedupExact(ctx, docs, d.cfg.Exact, res)
	case types.StageFuzzy:
		out, err = DedupFuzzy(ctx, docs, d.cfg.Fuzzy, res)
	case types.StageSemantic:
		if d.embedder == nil {
			return nil, &types.StageError{Stage: stage, Err: fmt.Errorf("%w: no embedder configured", types.ErrConfig)}
		}
		out, err = DedupSemantic(ctx, docs, d.cfg.Semantic, d.embedder, d.cfg.MaxBackoffRetries, res)
	default:
		return nil, fmt.Errorf("%w: unknown stage %q", types.ErrConfig, stage)
	}
	if err != nil {
		return nil, &types.StageError{Stage: stage, Err: err}
	}
	return out, nil
}

// Close releases the embedder when it holds resources
func (d *Deduplicator) Close() error {
	var errs []error
	if c, ok := d.embedder.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("embedder close error: %w", err))
		}
	}
	return errors.Join(errs...)
}
