package config

import (
	"reflect"
	"strings"

	logx "kosha/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ between two configs
// and returns log fields describing the new values. Secrets are reported
// only as "set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout ||
		oldCfg.Telegram.AlertChatID != newCfg.Telegram.AlertChatID ||
		!reflect.DeepEqual(oldCfg.Telegram.AllowedChatIDs, newCfg.Telegram.AllowedChatIDs) {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Int("telegram.allowed_chats", len(newCfg.Telegram.AllowedChatIDs)),
			logx.Bool("telegram.alert_chat_set", newCfg.Telegram.AlertChatID != 0),
		)
	}
	if strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) {
		changed = append(changed, "timezone")
		fields = append(fields, logx.String("timezone", newCfg.Timezone))
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts", newCfg.Logging.Alerts.Enabled),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		fields = append(fields,
			logx.String("scheduler.summary_at", newCfg.Scheduler.SummaryAt),
			logx.String("scheduler.checkin_window", newCfg.Scheduler.CheckinWindow),
		)
	}
	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "task_engine")
	}
	if oldCfg.Recovery != newCfg.Recovery {
		changed = append(changed, "recovery")
	}
	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		fields = append(fields, logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec))
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
	}
	if oldCfg.Gemini != newCfg.Gemini {
		changed = append(changed, "gemini")
		fields = append(fields,
			logx.Bool("gemini.api_key_changed", oldCfg.Gemini.APIKey != newCfg.Gemini.APIKey),
			logx.String("gemini.chat_model", newCfg.Gemini.ChatModel),
		)
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		fields = append(fields,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.Bool("http.token_set", newCfg.HTTP.Token != ""),
		)
	}
	return changed, fields
}

// RestartRequired filters changed down to the sections that only take
// effect after a restart. Everything else is applied live, except the bot
// token, which callers check separately.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "timezone", "storage", "http":
			out = append(out, s)
		}
	}
	return out
}
