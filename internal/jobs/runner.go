package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kosha/internal/llm"
	"kosha/internal/storage"
	"kosha/internal/task/engine"
	"kosha/internal/task/scheduler"
	"kosha/internal/timeutil"
	kit "kosha/internal/transport"
	logx "kosha/pkg/logx"
)

const cleanupTimeout = 5 * time.Second

// Store is the persistence the payloads need.
type Store interface {
	DeactivateReminder(ctx context.Context, id int64) error
	MessagesForDay(ctx context.Context, userID int64, day string) ([]storage.LogEntry, error)
	AddSummary(ctx context.Context, userID int64, content, day string) error
	TodosForDay(ctx context.Context, userID int64, day string) ([]storage.Todo, error)
	PruneReminders(ctx context.Context, before time.Time) (int64, error)
}

type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	SendHTML(ctx context.Context, to kit.ChatTarget, html string, opt *kit.SendOptions) ([]kit.MessageRef, error)
}

type Summarizer interface {
	GenerateSummary(ctx context.Context, prompt string) (string, error)
}

// Runner implements scheduler.Executor.
type Runner struct {
	store Store
	send  Sender
	llm   Summarizer
	norm  *timeutil.Normalizer
	log   logx.Logger
}

var _ scheduler.Executor = (*Runner)(nil)

func NewRunner(store Store, send Sender, sum Summarizer, norm *timeutil.Normalizer, log logx.Logger) *Runner {
	return &Runner{store: store, send: send, llm: sum, norm: norm, log: log.With(logx.String("comp", "jobs"))}
}

func (r *Runner) Execute(ctx context.Context, id scheduler.JobID, cmd scheduler.Command) error {
	switch c := cmd.(type) {
	case ReminderCommand:
		return r.reminder(ctx, c)
	case DailySummaryCommand:
		return r.dailySummary(ctx, c)
	case CheckinCommand:
		return r.checkin(ctx, c)
	case MaintenanceCommand:
		return r.maintenance(ctx, c)
	default:
		return engine.NoRetry(fmt.Errorf("job %s: unknown command %T", id, cmd))
	}
}

// reminder always deactivates, even when the send failed or ctx was
// cancelled by shutdown, so a reminder never fires twice.
func (r *Runner) reminder(ctx context.Context, c ReminderCommand) error {
	log := r.log.With(logx.Int64("reminder_id", c.ReminderID), logx.Int64("chat_id", c.ChatID))
	_, sendErr := r.send.SendText(ctx, kit.Chat(c.ChatID), reminderText(c.Content), nil)
	if sendErr != nil {
		log.Warn("reminder delivery failed", logx.Err(sendErr))
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := r.store.DeactivateReminder(dctx, c.ReminderID); err != nil {
		log.Error("deactivate reminder failed", logx.Err(err))
		return engine.NoRetry(err)
	}
	if sendErr != nil {
		return engine.NoRetry(sendErr)
	}
	return nil
}

func (r *Runner) dailySummary(ctx context.Context, c DailySummaryCommand) error {
	day := r.norm.Yesterday()
	log := r.log.With(logx.Int64("user_id", c.UserID), logx.String("day", day))

	entries, err := r.store.MessagesForDay(ctx, c.UserID, day)
	if err != nil {
		return fmt.Errorf("load logs: %w", err)
	}
	if len(entries) == 0 {
		log.Debug("no journal entries; summary skipped")
		return nil
	}

	summary, err := r.llm.GenerateSummary(ctx, llm.SummaryPrompt(RenderLogs(entries, r.norm), day))
	switch {
	case errors.Is(err, llm.ErrNoContent):
		log.Info("summary provider returned no content")
		return nil
	case err != nil:
		// The provider client already retries.
		log.Warn("summary generation failed", logx.Err(err))
		return engine.NoRetry(err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		log.Info("summary provider returned empty text")
		return nil
	}

	if err := r.store.AddSummary(ctx, c.UserID, summary, day); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			log.Info("summary already stored; not sending again")
			return nil
		}
		return fmt.Errorf("store summary: %w", err)
	}
	if _, err := r.send.SendHTML(ctx, kit.Chat(c.ChatID), SummaryHTML(day, summary), nil); err != nil {
		log.Warn("summary delivery failed", logx.Err(err))
		return engine.NoRetry(err)
	}
	return nil
}

func (r *Runner) checkin(ctx context.Context, c CheckinCommand) error {
	to := kit.Chat(c.ChatID)
	if _, err := r.send.SendText(ctx, to, CheckinGreet, nil); err != nil {
		r.log.Warn("checkin delivery failed", logx.Int64("chat_id", c.ChatID), logx.Err(err))
		return engine.NoRetry(err)
	}
	day := r.norm.Today()
	todos, err := r.store.TodosForDay(ctx, c.UserID, day)
	if err != nil {
		return engine.NoRetry(fmt.Errorf("load todos: %w", err))
	}
	body, kb := RenderTodos(day, todos)
	opt := &kit.SendOptions{}
	if kb != nil {
		opt.ReplyMarkupAdapter = kb
	}
	if _, err := r.send.SendHTML(ctx, to, body, opt); err != nil {
		r.log.Warn("todo list delivery failed", logx.Int64("chat_id", c.ChatID), logx.Err(err))
		return engine.NoRetry(err)
	}
	return nil
}

func (r *Runner) maintenance(ctx context.Context, c MaintenanceCommand) error {
	retain := c.RetainFor
	if retain <= 0 {
		retain = 30 * 24 * time.Hour
	}
	n, err := r.store.PruneReminders(ctx, r.norm.Now().Add(-retain))
	if err != nil {
		return fmt.Errorf("prune reminders: %w", err)
	}
	if n > 0 {
		r.log.Info("pruned inactive reminders", logx.Int64("count", n))
	}
	return nil
}
