package main

import (
	"errors"
	"fmt"

	"corpusdedup/audit"
	"corpusdedup/types"

	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export a recorded run from the audit database as xlsx",
	Long: `Export a run recorded in the audit database (audit.db_path) as an xlsx workbook
with a Summary sheet and one sheet of duplicate groups per stage.

Examples:
  corpusdedup report -c dedup.yaml                   # latest run
  corpusdedup report -c dedup.yaml --run <run id> --out run.xlsx`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Audit.DBPath == "" {
			return fmt.Errorf("%w: audit.db_path is required", types.ErrConfig)
		}
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = cfg.Audit.ReportPath
		}
		if out == "" {
			return errors.New("--out is required when audit.report_path is not set")
		}

		ctx := cmd.Context()
		db, err := audit.Open(ctx, cfg.Audit.DBPath, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		runID, _ := cmd.Flags().GetString("run")
		if runID == "" {
			if runID, err = db.LatestRunID(ctx); err != nil {
				return err
			}
		}
		rec, err := db.LoadRun(ctx, runID)
		if err != nil {
			return err
		}
		if err := audit.WriteReport(out, rec); err != nil {
			return err
		}
		fmt.Printf("Report for run %s written to %s\n", runID, out)
		return nil
	},
}

func init() {
	reportCmd.Flags().String("run", "", "Run id (default: the latest run)")
	reportCmd.Flags().String("out", "", "Output path (default: audit.report_path)")
	rootCmd.AddCommand(reportCmd)
}
