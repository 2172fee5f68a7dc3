package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kosha/internal/config"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the config file and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.NewConfigManager(configPath).Load()
		if err != nil {
			return err
		}
		loc, _ := cfg.Location()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "config ok: %s\n", configPath)
		fmt.Fprintf(out, "  timezone:        %s\n", loc)
		fmt.Fprintf(out, "  summary_at:      %s\n", config.OrDefault(cfg.Scheduler.SummaryAt, config.DefaultSummaryAt))
		fmt.Fprintf(out, "  checkin_window:  %s\n", config.OrDefault(cfg.Scheduler.CheckinWindow, config.DefaultCheckinWindow))
		fmt.Fprintf(out, "  storage:         %s\n", config.OrDefault(cfg.Storage.Path, config.DefaultStoragePath))
		fmt.Fprintf(out, "  gemini:          %t\n", cfg.Gemini.APIKey != "")
		fmt.Fprintf(out, "  allowed chats:   %d\n", len(cfg.Telegram.AllowedChatIDs))
		return nil
	},
}
