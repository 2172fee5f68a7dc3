package app

import (
	"time"

	"kosha/internal/config"
	"kosha/internal/llm"
	"kosha/internal/notifier"
	"kosha/internal/recovery"
	"kosha/internal/storage"
	"kosha/internal/task/engine"
	"kosha/internal/task/scheduler"
	telegram "kosha/internal/transport/telegram"
	logx "kosha/pkg/logx"
)

// The map* helpers turn a validated config into component configs. Bad
// values have already been rejected by config.Validate, so parse errors
// fall back to defaults.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    cfg.Logging.Alerts.Enabled,
			ChatID:     cfg.Telegram.AlertChatID,
			MinLevel:   cfg.Logging.Alerts.MinLevel,
			RatePerSec: cfg.Logging.Alerts.RatePerSec,
		},
	}
}

func mapTelegram(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.MustDuration(cfg.Telegram.PollTimeout, 10*time.Second),
	}
}

func mapStorage(cfg *config.Config) storage.Config {
	return storage.Config{
		Path:        config.OrDefault(cfg.Storage.Path, config.DefaultStoragePath),
		BusyTimeout: config.MustDuration(cfg.Storage.BusyTimeout, 5*time.Second),
	}
}

func mapEngine(cfg *config.Config) engine.Config {
	return engine.Config{
		DefaultTimeout: config.MustDuration(cfg.TaskEngine.DefaultTimeout, 0),
		RetryMax:       engineRetries(cfg.TaskEngine.RetryMax),
		RetryBase:      config.MustDuration(cfg.TaskEngine.RetryBase, 0),
		HistorySize:    cfg.TaskEngine.HistorySize,
	}
}

// engineRetries maps the config value onto engine.Config, where 0 means
// the default and a negative value disables retries.
func engineRetries(n *int) int {
	switch {
	case n == nil:
		return 0
	case *n == 0:
		return -1
	default:
		return *n
	}
}

func mapScheduler(cfg *config.Config, loc *time.Location) scheduler.Config {
	return scheduler.Config{
		Location:           loc,
		MisfireGrace:       config.MustDuration(cfg.Scheduler.MisfireGrace, time.Second),
		SummaryConcurrency: cfg.TaskEngine.SummaryConcurrency,
	}
}

func mapRecovery(cfg *config.Config) recovery.Config {
	rc := recovery.DefaultConfig()
	rc.MissedGrace = config.MustDuration(cfg.Recovery.MissedGrace, rc.MissedGrace)
	if h, m, err := scheduler.ParseClock(config.OrDefault(cfg.Scheduler.SummaryAt, config.DefaultSummaryAt)); err == nil {
		rc.SummaryHour, rc.SummaryMinute = h, m
	}
	if w, err := scheduler.ParseHourWindow(config.OrDefault(cfg.Scheduler.CheckinWindow, config.DefaultCheckinWindow)); err == nil {
		rc.CheckinWindow = w
	}
	return rc
}

func mapNotifier(cfg *config.Config) notifier.Config {
	return notifier.Config{
		RatePerSec:    cfg.Notifier.RatePerSec,
		RetryMax:      cfg.Notifier.RetryMax,
		RetryBase:     config.MustDuration(cfg.Notifier.RetryBase, 0),
		RetryMaxDelay: config.MustDuration(cfg.Notifier.RetryMaxDelay, 0),
		SendTimeout:   config.MustDuration(cfg.Notifier.SendTimeout, 0),
		MaxMessageLen: cfg.Notifier.MaxMessageLen,
	}
}

func mapGemini(cfg *config.Config) llm.Config {
	return llm.Config{
		APIKey:          cfg.Gemini.APIKey,
		BaseURL:         cfg.Gemini.BaseURL,
		SummaryModel:    cfg.Gemini.SummaryModel,
		ChatModel:       cfg.Gemini.ChatModel,
		Timeout:         config.MustDuration(cfg.Gemini.Timeout, 60*time.Second),
		RetryMax:        cfg.Gemini.RetryMax,
		BreakerFailures: cfg.Gemini.BreakerFailures,
		BreakerCooldown: config.MustDuration(cfg.Gemini.BreakerCooldown, 0),
	}
}

func sessionTTL(cfg *config.Config) time.Duration {
	return config.MustDuration(cfg.Gemini.SessionTTL, 30*time.Minute)
}

func shutdownWait(cfg *config.Config) time.Duration {
	return config.MustDuration(cfg.Scheduler.WaitOnShutdown, 10*time.Second)
}

// armingChanged reports whether the recurring per-user triggers must be
// re-registered.
func armingChanged(a, b *config.Config) bool {
	return config.OrDefault(a.Scheduler.SummaryAt, config.DefaultSummaryAt) != config.OrDefault(b.Scheduler.SummaryAt, config.DefaultSummaryAt) ||
		config.OrDefault(a.Scheduler.CheckinWindow, config.DefaultCheckinWindow) != config.OrDefault(b.Scheduler.CheckinWindow, config.DefaultCheckinWindow)
}
