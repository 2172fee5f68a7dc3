package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"kosha/internal/clock"
	"kosha/internal/config"
	"kosha/internal/storage"
	"kosha/internal/timeutil"
	logx "kosha/pkg/logx"
)

var remindersCmd = &cobra.Command{
	Use:   "reminders",
	Short: "List pending reminders from the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.NewConfigManager(configPath).Load()
		if err != nil {
			return err
		}
		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		st, err := storage.Open(storage.Config{
			Path:        config.OrDefault(cfg.Storage.Path, config.DefaultStoragePath),
			BusyTimeout: config.MustDuration(cfg.Storage.BusyTimeout, 5*time.Second),
		}, logx.NewConsole("WARN"))
		if err != nil {
			return err
		}
		defer st.Close()

		rems, err := st.ActiveReminders(cmd.Context())
		if err != nil {
			return err
		}
		norm := timeutil.NewNormalizer(loc, clock.Real{})
		now := norm.Now()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCHAT\tFIRE AT\tSTATE\tTEXT")
		for _, r := range rems {
			at := norm.Normalize(r.FireAt)
			state := "pending"
			if !at.After(now) {
				state = "overdue"
			}
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", r.ID, r.ChatID, at.Format(timeutil.MinuteLayout), state, r.Content)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d active reminder(s)\n", len(rems))
		return nil
	},
}
