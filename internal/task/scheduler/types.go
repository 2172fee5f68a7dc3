package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"kosha/internal/clock"
	"kosha/internal/task/engine"
)

type Kind string

const (
	KindReminder      Kind = "reminder"
	KindDailySummary  Kind = "daily-summary"
	KindHourlyCheckin Kind = "hourly-checkin"
	KindMaintenance   Kind = "maintenance"
)

// JobID identifies a registration. Registering an existing id replaces it.
type JobID struct {
	Kind Kind
	ID   int64
}

func ReminderJob(reminderID int64) JobID { return JobID{Kind: KindReminder, ID: reminderID} }
func DailySummaryJob(userID int64) JobID { return JobID{Kind: KindDailySummary, ID: userID} }
func HourlyCheckinJob(userID int64) JobID {
	return JobID{Kind: KindHourlyCheckin, ID: userID}
}

func (j JobID) String() string { return string(j.Kind) + ":" + strconv.FormatInt(j.ID, 10) }

// ParseJobID reads the "kind:id" form produced by String.
func ParseJobID(s string) (JobID, error) {
	kind, num, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || kind == "" {
		return JobID{}, fmt.Errorf("invalid job id %q", s)
	}
	id, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return JobID{}, fmt.Errorf("invalid job id %q: %w", s, err)
	}
	return JobID{Kind: Kind(kind), ID: id}, nil
}

// Command is the payload of a job. Executors switch on its concrete type.
type Command interface {
	CommandName() string
}

// Executor runs a fired job.
type Executor interface {
	Execute(ctx context.Context, id JobID, cmd Command) error
}

type ExecutorFunc func(ctx context.Context, id JobID, cmd Command) error

func (f ExecutorFunc) Execute(ctx context.Context, id JobID, cmd Command) error {
	return f(ctx, id, cmd)
}

// Config controls triggering. Execution settings live in engine.Config.
type Config struct {
	Location *time.Location
	// MisfireGrace is how far in the past a one-shot fire time may be and
	// still be registered (it then fires at once). Default 1s.
	MisfireGrace time.Duration
	// SummaryConcurrency caps parallel daily-summary runs. 0 means 1.
	SummaryConcurrency int
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.MisfireGrace <= 0 {
		c.MisfireGrace = time.Second
	}
	if c.SummaryConcurrency <= 0 {
		c.SummaryConcurrency = 1
	}
	return c
}

type Option func(*Service)

// WithClock drives one-shot timers from clk.
func WithClock(clk clock.Clock) Option { return func(s *Service) { s.clk = clk } }

type Trigger string

const (
	TriggerOnce Trigger = "once"
	TriggerCron Trigger = "cron"
)

type registration struct {
	id      JobID
	cmd     Command
	trigger Trigger
	ver     uint64

	at    time.Time
	timer clock.Timer

	spec    string
	sched   cron.Schedule
	entryID cron.EntryID
}

type JobInfo struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	Trigger Trigger   `json:"trigger"`
	Spec    string    `json:"spec,omitempty"`
	Command string    `json:"command"`
	Next    time.Time `json:"next"`
	Prev    time.Time `json:"prev,omitempty"`
	Running bool      `json:"running"`
}

type Snapshot struct {
	Started  bool            `json:"started"`
	Timezone string          `json:"timezone"`
	Jobs     []JobInfo       `json:"jobs"`
	Engine   engine.Snapshot `json:"engine"`
}
