package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "kosha",
	Short: "kosha - personal journal and reminder bot",
	Long: `kosha keeps a daily journal over Telegram, fires reminders, sends an
hourly check-in and writes a Gemini summary of yesterday's entries.`,
	SilenceUsage: true,
	// Running without a subcommand starts the bot.
	RunE: runHandler,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.json", "path to the config file (.json, .yaml or .toml)")
	rootCmd.AddCommand(runCmd, checkConfigCmd, remindersCmd)
}
