package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"corpusdedup/tui"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Deduplicate the configured input once",
	Long: `Run every stage over the input and write the survivors to <output_dir>/survivors.jsonl.

Stages whose checkpoint matches the current input and configuration are loaded
instead of recomputed. When a later stage fails, the survivors of the last
completed stage are written to <output_dir>/intermediate_<completed>/survivors.jsonl,
e.g. intermediate_fuzzy/ when the semantic stage fails.

Examples:
  corpusdedup run --input corpus.jsonl
  corpusdedup run -c dedup.yaml --clear-cache
  corpusdedup run -c dedup.toml --report report.xlsx`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, cleanup, err := newPipeline(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := p.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Print(tui.RenderSummary(res.Summary))
		return nil
	},
}

func init() {
	runCmd.Flags().String("input", "", "Input JSONL file (overrides config)")
	runCmd.Flags().String("output-dir", "", "Output directory (overrides config)")
	runCmd.Flags().Bool("clear-cache", false, "Remove every stage checkpoint before running")
	runCmd.Flags().String("report", "", "Write an xlsx report of the run to this path")
	rootCmd.AddCommand(runCmd)
}
