// Command corpusdedup removes exact, near and semantic duplicates from a JSONL corpus.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"corpusdedup/types"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFormat  string

	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "corpusdedup",
	Short: "Deduplicate a text corpus in three stages",
	Long: `corpusdedup removes duplicates from a JSONL corpus ({"id": ..., "text": ...} per line)
in three stages: exact content hashes, MinHash/LSH near duplicates and embedding
clusters. Each stage commits a checkpoint, so an interrupted run resumes from the
last completed stage.

Configuration comes from --config (YAML or TOML), DEDUP_* environment variables
and a .env file in the working directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load environment variables from .env if present (non-fatal if missing)
		_ = godotenv.Load()

		l, err := newLogger(logLevel, logFormat)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format (console or json)")
}

func newLogger(level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("%w: invalid --log-level %q", types.ErrConfig, level)
	}

	var l zerolog.Logger
	switch format {
	case "console":
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	case "json":
		l = zerolog.New(os.Stderr)
	default:
		return zerolog.Nop(), fmt.Errorf("%w: invalid --log-format %q (want console or json)", types.ErrConfig, format)
	}
	return l.Level(lvl).With().Timestamp().Logger(), nil
}

// exitCode maps a command error to the process exit status
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, types.ErrConfig):
		return 2
	case errors.Is(err, types.ErrConsistency):
		return 3
	default:
		return 1
	}
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}
