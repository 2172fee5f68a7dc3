package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls task execution. Zero values select defaults.
type Config struct {
	// DefaultTimeout bounds a task with no Timeout of its own. 0 means none.
	DefaultTimeout time.Duration

	// RetryMax 0 selects the default of 2; a negative value disables retries.
	// A retry re-runs the whole task.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	HistorySize int
}

func (c Config) withDefaults() Config {
	switch {
	case c.RetryMax == 0:
		c.RetryMax = 2
	case c.RetryMax < 0:
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

type TaskOptions struct {
	// RetryMax 0 uses the engine default; a negative value disables retries.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%

	// ConcurrencyLimit caps parallel runs sharing ConcurrencyKey. 0 disables.
	ConcurrencyLimit int
}

func (o TaskOptions) withDefaults(cfg Config) TaskOptions {
	switch {
	case o.RetryMax == 0:
		o.RetryMax = cfg.RetryMax
	case o.RetryMax < 0:
		o.RetryMax = 0
	}
	if o.RetryBase <= 0 {
		o.RetryBase = cfg.RetryBase
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = cfg.RetryMaxDelay
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = 0.2
	}
	if o.ConcurrencyLimit < 0 {
		o.ConcurrencyLimit = 0
	}
	return o
}

// RunState tracks whether a task name is in flight. The engine keeps one per
// name, so a replaced job that reuses its name shares the guard.
type RunState struct {
	mu       sync.Mutex
	inflight int
}

func (s *RunState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *RunState) release() {
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

// Running reports whether a run holds the guard.
func (s *RunState) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

type HistoryItem struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Kind     string        `json:"kind,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
}

// TaskEvent is the Data of task.* bus events.
type TaskEvent struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Kind      string        `json:"kind,omitempty"`
	Started   time.Time     `json:"started"`
	GroupWait time.Duration `json:"group_wait,omitempty"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Error     string        `json:"error,omitempty"`
}

// Task is one unit of work. Name keys the overlap guard; Kind is a label for
// logs and metrics.
type Task struct {
	ID             string
	Name           string
	Kind           string
	Timeout        time.Duration
	Run            func(ctx context.Context) error
	Opt            TaskOptions
	ConcurrencyKey string
}

type Snapshot struct {
	Accepting  bool          `json:"accepting"`
	InFlight   int64         `json:"in_flight"`
	Dispatched uint64        `json:"dispatched"`
	Skipped    uint64        `json:"skipped"`
	Failed     uint64        `json:"failed"`
	Config     Config        `json:"config"`
	History    []HistoryItem `json:"history"`
}
