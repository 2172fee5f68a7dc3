package notifier

import "time"

type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	// MaxMessageLen is the chunk size for SendHTML, in runes.
	MaxMessageLen int
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	} else if c.RetryMax == 0 {
		c.RetryMax = 2
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	if c.MaxMessageLen <= 0 {
		c.MaxMessageLen = 4000
	}
	return c
}

type HistoryItem struct {
	At     time.Time `json:"at"`
	ChatID int64     `json:"chat_id"`
	Text   string    `json:"text"`
	Error  string    `json:"error,omitempty"`
}

// DeliveryEvent is the Data of notifier.* bus events.
type DeliveryEvent struct {
	ChatID        int64  `json:"chat_id"`
	Runes         int    `json:"runes"`
	Attempts      int    `json:"attempts"`
	Undeliverable bool   `json:"undeliverable,omitempty"`
	Error         string `json:"error,omitempty"`
}
