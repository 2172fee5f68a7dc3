package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "1m"); an empty string selects the default.
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Timezone   string           `json:"timezone,omitempty"`
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Recovery   RecoveryConfig   `json:"recovery"`
	Notifier   NotifierConfig   `json:"notifier"`
	Storage    StorageConfig    `json:"storage"`
	Gemini     GeminiConfig     `json:"gemini"`
	HTTP       HTTPConfig       `json:"http"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// AllowedChatIDs restricts who may talk to the bot. Empty allows everyone.
	AllowedChatIDs []int64 `json:"allowed_chat_ids,omitempty"`
	// AlertChatID receives warning logs when logging.alerts is enabled.
	AlertChatID int64 `json:"alert_chat_id,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SchedulerConfig controls the triggers.
//
// Defaults: misfire_grace "1s", summary_at "02:00", checkin_window "06-23".
type SchedulerConfig struct {
	MisfireGrace   string `json:"misfire_grace,omitempty"`
	SummaryAt      string `json:"summary_at,omitempty"`
	CheckinWindow  string `json:"checkin_window,omitempty"`
	WaitOnShutdown string `json:"wait_on_shutdown,omitempty"`
}

// TaskEngineConfig controls how fired jobs execute.
type TaskEngineConfig struct {
	// RetryMax unset selects the default of 2 retries; 0 disables them. A
	// retry re-runs the whole job.
	RetryMax       *int   `json:"retry_max,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	// SummaryConcurrency caps parallel summary generation across users.
	SummaryConcurrency int `json:"summary_concurrency,omitempty"`
}

type RecoveryConfig struct {
	MissedGrace string `json:"missed_grace,omitempty"`
}

type NotifierConfig struct {
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	MaxMessageLen int    `json:"max_message_len,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type GeminiConfig struct {
	APIKey          string `json:"api_key"`
	BaseURL         string `json:"base_url,omitempty"`
	SummaryModel    string `json:"summary_model,omitempty"`
	ChatModel       string `json:"chat_model,omitempty"`
	Timeout         string `json:"timeout,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	BreakerFailures int    `json:"breaker_failures,omitempty"`
	BreakerCooldown string `json:"breaker_cooldown,omitempty"`
	SessionTTL      string `json:"session_ttl,omitempty"`
}

// HTTPConfig controls the local diagnostics server.
//
// Prefer a loopback addr. A non-loopback addr requires a token.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
	Metrics bool   `json:"metrics,omitempty"`
}
