package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"corpusdedup/api"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the deduplication API",
	Long: `Start the HTTP API:

  GET    /api/health
  POST   /api/dedup/run     deduplicate inline documents and return the result
  POST   /api/dedup/start   start a background run of the configured input
  GET    /api/dedup/status  state, per-stage counts and recent log lines
  DELETE /api/dedup/cache   remove every stage checkpoint

When server.cron_schedule (or --cron) is set, runs of the configured input are
also started on that schedule.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetString("port")
		}
		if cmd.Flags().Changed("cron") {
			cfg.Server.CronSchedule, _ = cmd.Flags().GetString("cron")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, cleanup, err := newPipeline(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		srv := api.NewServer(p, cfg.Server.Port, logger)
		if err := srv.Start(); err != nil {
			return err
		}
		if cfg.Server.CronSchedule != "" {
			if err := srv.StartCron(cfg.Server.CronSchedule); err != nil {
				return err
			}
		}

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().String("port", "", "Port to listen on (overrides config)")
	serveCmd.Flags().String("cron", "", "Cron schedule for automated runs, e.g. \"0 */6 * * *\"")
	rootCmd.AddCommand(serveCmd)
}
