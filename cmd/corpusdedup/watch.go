package main

import (
	"corpusdedup/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a running server's progress in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		_, err := tea.NewProgram(tui.NewModel(url), tea.WithContext(cmd.Context())).Run()
		return err
	},
}

func init() {
	watchCmd.Flags().String("url", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(watchCmd)
}
