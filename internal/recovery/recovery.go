// Package recovery rebuilds the in-memory schedule from the store at
// startup. Reminders that came due while the process was down are reported
// as missed and deactivated; the rest are re-registered.
package recovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"kosha/internal/eventbus"
	"kosha/internal/jobs"
	"kosha/internal/storage"
	"kosha/internal/task/scheduler"
	"kosha/internal/timeutil"
	kit "kosha/internal/transport"
	logx "kosha/pkg/logx"
)

const deactivateTimeout = 5 * time.Second

type Store interface {
	ActiveReminders(ctx context.Context) ([]storage.Reminder, error)
	DeactivateReminder(ctx context.Context, id int64) error
	Users(ctx context.Context) ([]storage.User, error)
}

// Registry is the part of the scheduler recovery registers into.
type Registry interface {
	ScheduleOnce(id scheduler.JobID, at time.Time, cmd scheduler.Command) error
	ScheduleDaily(id scheduler.JobID, hour, minute int, cmd scheduler.Command) error
	ScheduleHourlyWindow(id scheduler.JobID, start, end int, cmd scheduler.Command) error
}

type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Config struct {
	// MissedGrace treats reminders due within this window as missed. Default 5s.
	MissedGrace   time.Duration
	SummaryHour   int
	SummaryMinute int
	CheckinWindow scheduler.HourWindow
}

func (c Config) withDefaults() Config {
	if c.MissedGrace <= 0 {
		c.MissedGrace = 5 * time.Second
	}
	if c.CheckinWindow == (scheduler.HourWindow{}) {
		c.CheckinWindow = scheduler.HourWindow{Start: 6, End: 23}
	}
	return c
}

// DefaultConfig is summaries at 02:00 and check-ins from 06 to 23.
func DefaultConfig() Config {
	return Config{SummaryHour: 2}.withDefaults()
}

type Report struct {
	Missed   int `json:"missed"`
	Rearmed  int `json:"rearmed"`
	Users    int `json:"users"`
	Failures int `json:"failures"`
}

// ReminderEvent is the Data of recovery.* bus events.
type ReminderEvent struct {
	ReminderID int64     `json:"reminder_id"`
	ChatID     int64     `json:"chat_id"`
	At         time.Time `json:"at"`
}

type Coordinator struct {
	store Store
	reg   Registry
	send  Sender
	norm  *timeutil.Normalizer
	log   logx.Logger
	bus   eventbus.Bus

	mu  sync.Mutex
	cfg Config
}

func New(cfg Config, store Store, reg Registry, send Sender, norm *timeutil.Normalizer, log logx.Logger, bus eventbus.Bus) *Coordinator {
	return &Coordinator{
		store: store, reg: reg, send: send, norm: norm, bus: bus,
		log: log.With(logx.String("comp", "recovery")),
		cfg: cfg.withDefaults(),
	}
}

func (c *Coordinator) Apply(cfg Config) {
	c.mu.Lock()
	c.cfg = cfg.withDefaults()
	c.mu.Unlock()
}

func (c *Coordinator) config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Run restores reminders and then arms every user's recurring jobs. Per-item
// failures are counted and logged; only a failed store read is returned.
func (c *Coordinator) Run(ctx context.Context) (Report, error) {
	var rep Report
	cfg := c.config()

	rems, err := c.store.ActiveReminders(ctx)
	if err != nil {
		return rep, fmt.Errorf("load active reminders: %w", err)
	}

	type due struct {
		r  storage.Reminder
		at time.Time
	}
	items := make([]due, 0, len(rems))
	for _, r := range rems {
		items = append(items, due{r: r, at: c.norm.Normalize(r.FireAt)})
	}
	// Mixed naive/aware rows may sort differently once normalized.
	sort.SliceStable(items, func(i, j int) bool { return items[i].at.Before(items[j].at) })

	cutoff := c.norm.Now().Add(cfg.MissedGrace)
	for _, it := range items {
		if !it.at.After(cutoff) {
			c.missed(ctx, it.r, it.at)
			rep.Missed++
			continue
		}
		cmd := jobs.ReminderCommand{ReminderID: it.r.ID, UserID: it.r.UserID, ChatID: it.r.ChatID, Content: it.r.Content}
		if err := c.reg.ScheduleOnce(scheduler.ReminderJob(it.r.ID), it.at, cmd); err != nil {
			c.log.Error("rearm reminder failed", logx.Int64("reminder_id", it.r.ID), logx.Err(err))
			rep.Failures++
			continue
		}
		rep.Rearmed++
		eventbus.Emit(c.bus, eventbus.RecoveryRearmed, ReminderEvent{ReminderID: it.r.ID, ChatID: it.r.ChatID, At: it.at})
	}

	users, err := c.store.Users(ctx)
	if err != nil {
		return rep, fmt.Errorf("load users: %w", err)
	}
	for _, u := range users {
		if err := c.ArmUser(u); err != nil {
			c.log.Error("arm user failed", logx.Int64("user_id", u.ID), logx.Err(err))
			rep.Failures++
			continue
		}
		rep.Users++
	}

	c.log.Info("recovery complete",
		logx.Int("missed", rep.Missed),
		logx.Int("rearmed", rep.Rearmed),
		logx.Int("users", rep.Users),
		logx.Int("failures", rep.Failures),
	)
	return rep, nil
}

// missed notifies and deactivates. A failed send is logged and the reminder
// is deactivated anyway.
func (c *Coordinator) missed(ctx context.Context, r storage.Reminder, at time.Time) {
	log := c.log.With(logx.Int64("reminder_id", r.ID), logx.Int64("chat_id", r.ChatID))
	if _, err := c.send.SendText(ctx, kit.Chat(r.ChatID), jobs.MissedReminderText(r.Content, at), nil); err != nil {
		log.Warn("missed reminder notice failed", logx.Err(err))
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deactivateTimeout)
	defer cancel()
	if err := c.store.DeactivateReminder(dctx, r.ID); err != nil {
		log.Error("deactivate missed reminder failed", logx.Err(err))
	}
	eventbus.Emit(c.bus, eventbus.RecoveryMissed, ReminderEvent{ReminderID: r.ID, ChatID: r.ChatID, At: at})
}

// ArmUser registers the user's daily summary and hourly check-ins. It is
// idempotent by job id.
func (c *Coordinator) ArmUser(u storage.User) error {
	cfg := c.config()
	if err := c.reg.ScheduleDaily(scheduler.DailySummaryJob(u.ID), cfg.SummaryHour, cfg.SummaryMinute,
		jobs.DailySummaryCommand{UserID: u.ID, ChatID: u.ChatID}); err != nil {
		return fmt.Errorf("daily summary: %w", err)
	}
	w := cfg.CheckinWindow
	if err := c.reg.ScheduleHourlyWindow(scheduler.HourlyCheckinJob(u.ID), w.Start, w.End,
		jobs.CheckinCommand{UserID: u.ID, ChatID: u.ChatID}); err != nil {
		return fmt.Errorf("hourly checkin: %w", err)
	}
	return nil
}

// ArmAll re-arms every user, used after the schedule settings change.
func (c *Coordinator) ArmAll(ctx context.Context) (int, error) {
	users, err := c.store.Users(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, u := range users {
		if err := c.ArmUser(u); err != nil {
			c.log.Error("arm user failed", logx.Int64("user_id", u.ID), logx.Err(err))
			continue
		}
		n++
	}
	return n, nil
}
