package main

import (
	"context"
	"errors"
	"fmt"

	"corpusdedup/audit"
	"corpusdedup/checkpoint"
	"corpusdedup/config"
	"corpusdedup/deduplication"
	"corpusdedup/orchestrator"
	"corpusdedup/shared/kafka"

	"github.com/spf13/cobra"
)

// loadConfig builds the configuration: defaults, then the config file, then the
// environment, then command flags. The result is validated.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Lookup("input") != nil && flags.Changed("input") {
		cfg.Input, _ = flags.GetString("input")
	}
	if flags.Lookup("output-dir") != nil && flags.Changed("output-dir") {
		cfg.OutputDir, _ = flags.GetString("output-dir")
	}
	if flags.Lookup("clear-cache") != nil && flags.Changed("clear-cache") {
		cfg.ClearCache, _ = flags.GetBool("clear-cache")
	}
	if flags.Lookup("report") != nil && flags.Changed("report") {
		cfg.Audit.ReportPath, _ = flags.GetString("report")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// sinks holds the optional outputs configured for a pipeline
type sinks struct {
	mirror   *checkpoint.Mirror
	removals *checkpoint.RemovalMirror
	events   *kafka.Publisher
	audit    *audit.DB
}

// openSinks connects every sink enabled in cfg
func openSinks(ctx context.Context, cfg config.Config) (*sinks, error) {
	s := &sinks{}
	if cfg.S3.Bucket != "" {
		store, err := checkpoint.NewS3(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		s.mirror = checkpoint.NewMirror(store, cfg.S3.Prefix, logger)
		logger.Info().Str("bucket", cfg.S3.Bucket).Str("prefix", cfg.S3.Prefix).Msg("checkpoint mirror enabled")
	}
	if cfg.Redis.Addr != "" {
		r, err := checkpoint.NewRemovalMirror(cfg.Redis)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.removals = r
	}
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := kafka.NewPublisher(kafka.PublisherConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic, Logger: logger})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.events = p
	}
	if cfg.Audit.DBPath != "" {
		db, err := audit.Open(ctx, cfg.Audit.DBPath, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.audit = db
	}
	return s, nil
}

func (s *sinks) options() []orchestrator.Option {
	var opts []orchestrator.Option
	if s.mirror != nil {
		opts = append(opts, orchestrator.WithMirror(s.mirror))
	}
	if s.removals != nil {
		opts = append(opts, orchestrator.WithRemovalMirror(s.removals))
	}
	if s.events != nil {
		opts = append(opts, orchestrator.WithEvents(s.events))
	}
	if s.audit != nil {
		opts = append(opts, orchestrator.WithAudit(s.audit))
	}
	return opts
}

// Close releases every open sink
func (s *sinks) Close() error {
	var errs []error
	if s.removals != nil {
		if err := s.removals.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close error: %w", err))
		}
	}
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit close error: %w", err))
		}
	}
	return errors.Join(errs...)
}

// newPipeline builds the deduplicator and a pipeline wired to the configured sinks.
// The returned cleanup closes both.
func newPipeline(ctx context.Context, cfg config.Config, opts ...orchestrator.Option) (*orchestrator.Pipeline, func(), error) {
	dedup, err := deduplication.NewDeduplicator(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	s, err := openSinks(ctx, cfg)
	if err != nil {
		dedup.Close()
		return nil, nil, err
	}

	p := orchestrator.New(dedup, logger, append(s.options(), opts...)...)
	cleanup := func() {
		if err := s.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close sinks")
		}
		if err := dedup.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close deduplicator")
		}
	}
	return p, cleanup, nil
}
