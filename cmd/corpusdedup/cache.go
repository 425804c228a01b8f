package main

import (
	"fmt"

	"corpusdedup/checkpoint"
	"corpusdedup/orchestrator"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Checkpoint maintenance commands",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every stage checkpoint, locally and in the S3 mirror",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		var mirror *checkpoint.Mirror
		if cfg.S3.Bucket != "" {
			store, err := checkpoint.NewS3(ctx, cfg.S3)
			if err != nil {
				return err
			}
			mirror = checkpoint.NewMirror(store, cfg.S3.Prefix, logger)
		}
		if err := orchestrator.ClearCache(ctx, cfg, mirror, logger); err != nil {
			return err
		}
		fmt.Println("Checkpoints cleared")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
