package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"kosha/internal/task/scheduler"
	logx "kosha/pkg/logx"
)

const (
	DefaultStoragePath   = "./kosha.db"
	DefaultHTTPAddr      = "127.0.0.1:6060"
	DefaultSummaryAt     = "02:00"
	DefaultCheckinWindow = "06-23"
	DefaultMaxMessageLen = 4000
)

// Location resolves the configured IANA zone. Empty means UTC.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}

// Validate checks everything that can be checked without side effects and
// returns all problems joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(fmt.Errorf("telegram.token is required (or set %s)", EnvTelegramToken))
	}
	if _, err := cfg.Location(); err != nil {
		add(fmt.Errorf("timezone: %w", err))
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.Alerts.Enabled && cfg.Telegram.AlertChatID == 0 {
		add(errors.New("logging.alerts.enabled requires telegram.alert_chat_id"))
	}

	for path, raw := range map[string]string{
		"telegram.poll_timeout":       cfg.Telegram.PollTimeout,
		"scheduler.misfire_grace":     cfg.Scheduler.MisfireGrace,
		"scheduler.wait_on_shutdown":  cfg.Scheduler.WaitOnShutdown,
		"task_engine.retry_base":      cfg.TaskEngine.RetryBase,
		"task_engine.default_timeout": cfg.TaskEngine.DefaultTimeout,
		"recovery.missed_grace":       cfg.Recovery.MissedGrace,
		"notifier.retry_base":         cfg.Notifier.RetryBase,
		"notifier.retry_max_delay":    cfg.Notifier.RetryMaxDelay,
		"notifier.send_timeout":       cfg.Notifier.SendTimeout,
		"storage.busy_timeout":        cfg.Storage.BusyTimeout,
		"gemini.timeout":              cfg.Gemini.Timeout,
		"gemini.breaker_cooldown":     cfg.Gemini.BreakerCooldown,
		"gemini.session_ttl":          cfg.Gemini.SessionTTL,
	} {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if _, _, err := scheduler.ParseClock(OrDefault(cfg.Scheduler.SummaryAt, DefaultSummaryAt)); err != nil {
		add(fmt.Errorf("scheduler.summary_at: %w", err))
	}
	if _, err := scheduler.ParseHourWindow(OrDefault(cfg.Scheduler.CheckinWindow, DefaultCheckinWindow)); err != nil {
		add(fmt.Errorf("scheduler.checkin_window: %w", err))
	}

	if n := cfg.Notifier.MaxMessageLen; n < 0 || n > 4096 {
		add(fmt.Errorf("notifier.max_message_len must be within 1..4096, got %d", n))
	}
	if (cfg.TaskEngine.RetryMax != nil && *cfg.TaskEngine.RetryMax < 0) || cfg.Notifier.RetryMax < 0 || cfg.Gemini.RetryMax < 0 {
		add(errors.New("retry_max values must be >= 0"))
	}

	if cfg.HTTP.Enabled {
		addr := OrDefault(cfg.HTTP.Addr, DefaultHTTPAddr)
		if !IsLoopbackAddr(addr) && strings.TrimSpace(cfg.HTTP.Token) == "" {
			add(fmt.Errorf("http.addr %q is not loopback; set http.token", addr))
		}
	}
	return errors.Join(errs...)
}

// IsLoopbackAddr reports whether a listen addr only binds loopback.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// OrDefault returns the trimmed v, or def when v is blank.
func OrDefault(v, def string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return def
}
