package assistant

import (
	"context"
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"kosha/internal/jobs"
	"kosha/internal/router"
	"kosha/internal/task/scheduler"
	"kosha/internal/timeutil"
	kit "kosha/internal/transport"
	logx "kosha/pkg/logx"
	"kosha/pkg/tgui"
)

const (
	jobsScope    = "jobs"
	jobsPage     = "page"
	jobsRun      = "run"
	jobsPageSize = 8
)

func (s *Service) handleRemind(ctx context.Context, req *router.Request) error {
	if req.ArgText == "" {
		return s.reply(ctx, req, "Usage: /remind [time/date] [message]")
	}
	at, text, ok := s.Searcher.ReminderInput(req.ArgText)
	if !ok || text == "" {
		return s.reply(ctx, req, "Could not parse the reminder. Please use a clear time and message.")
	}
	if !at.After(s.Norm.Now().Add(ReminderLeadTime)) {
		return s.reply(ctx, req, "That time seems to be in the past. Please set a reminder for the future.")
	}

	u, err := s.user(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	id, err := s.Store.AddReminder(ctx, u.ID, text, at)
	if err != nil {
		return fmt.Errorf("store reminder: %w", err)
	}
	cmd := jobs.ReminderCommand{ReminderID: id, UserID: u.ID, ChatID: req.Chat.ChatID, Content: text}
	if err := s.Scheduler.ScheduleOnce(scheduler.ReminderJob(id), at, cmd); err != nil {
		// Leave nothing active that recovery would later report as missed.
		if derr := s.Store.DeactivateReminder(context.WithoutCancel(ctx), id); derr != nil {
			s.log.Error("deactivate unscheduled reminder failed", logx.Int64("reminder_id", id), logx.Err(derr))
		}
		_ = s.reply(ctx, req, "Sorry, that reminder could not be scheduled.")
		return fmt.Errorf("schedule reminder: %w", err)
	}
	return s.reply(ctx, req, "Reminder set for "+at.Format(timeutil.MinuteLayout)+": "+text)
}

type jobLine struct {
	id    scheduler.JobID
	next  string
	label string
}

// runnable reports whether the job may be triggered from the list.
// Reminders are one-shot and stay tied to their fire time.
func (l jobLine) runnable() bool { return l.id.Kind != scheduler.KindReminder }

// userJobs lists the caller's registrations: recurring jobs by user id,
// reminders through the store.
func (s *Service) userJobs(ctx context.Context, chatID int64) ([]jobLine, error) {
	u, err := s.user(ctx, chatID)
	if err != nil {
		return nil, err
	}
	rems, err := s.Store.ActiveRemindersFor(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	content := make(map[string]string, len(rems))
	for _, r := range rems {
		content[scheduler.ReminderJob(r.ID).String()] = r.Content
	}

	var out []jobLine
	for _, j := range s.Scheduler.Jobs() {
		id, err := scheduler.ParseJobID(j.ID)
		if err != nil {
			continue
		}
		var label string
		switch j.Kind {
		case scheduler.KindReminder:
			c, ok := content[j.ID]
			if !ok {
				continue
			}
			label = "🔔 " + tgui.TruncRunes(c, 60)
		case scheduler.KindDailySummary, scheduler.KindHourlyCheckin:
			if j.ID != (scheduler.JobID{Kind: j.Kind, ID: u.ID}).String() {
				continue
			}
			label = "🔁 " + string(j.Kind)
		default:
			continue
		}
		next := "-"
		if !j.Next.IsZero() {
			next = s.Norm.In(j.Next).Format(timeutil.MinuteLayout)
		}
		out = append(out, jobLine{id: id, next: next, label: label})
	}
	return out, nil
}

func (s *Service) renderJobs(lines []jobLine, page int) (string, *kit.SendOptions) {
	items, p := tgui.Paginate(lines, tgui.Page{Index: page, Size: jobsPageSize})
	parts := []tgui.H{tgui.B("🗓 Scheduled jobs")}
	if len(items) == 0 {
		parts = append(parts, tgui.Esc("Nothing scheduled."))
	}
	for _, l := range items {
		parts = append(parts, tgui.Code(l.next)+tgui.Esc(" "+l.label))
	}
	opt := &kit.SendOptions{ParseMode: kit.ParseModeHTML}
	kb := tgui.NewInline()
	for _, l := range items {
		if l.runnable() {
			kb.Row(tgui.Btn("▶️ Run "+string(l.id.Kind)+" now", tgui.Data(jobsScope, jobsRun, l.id.String())))
		}
	}
	if p.Pages() > 1 {
		parts = append(parts, tgui.I(p.Label()))
		var btns []tele.Btn
		if p.HasPrev() {
			btns = append(btns, tgui.Btn("◀️ Prev", tgui.Data(jobsScope, jobsPage, strconv.Itoa(p.Index-1))))
		}
		if p.HasNext() {
			btns = append(btns, tgui.Btn("Next ▶️", tgui.Data(jobsScope, jobsPage, strconv.Itoa(p.Index+1))))
		}
		kb.Row(btns...)
	}
	if kb.Len() > 0 {
		opt.ReplyMarkupAdapter = kb.Markup()
	}
	return tgui.Lines(parts...).String(), opt
}

func (s *Service) handleJobs(ctx context.Context, req *router.Request) error {
	lines, err := s.userJobs(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	body, opt := s.renderJobs(lines, 0)
	return s.replyHTML(ctx, req, body, opt)
}

func (s *Service) handleJobsPage(ctx context.Context, req *router.Request) error {
	page, err := strconv.Atoi(req.Payload)
	if err != nil {
		return fmt.Errorf("bad page %q", req.Payload)
	}
	lines, err := s.userJobs(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	body, opt := s.renderJobs(lines, page)
	return s.Sender.EditText(ctx, kit.MessageRef{ChatID: req.Chat.ChatID, MessageID: req.MessageID}, body, opt)
}

// handleJobsRun triggers one of the caller's recurring jobs right away. The
// job keeps its regular schedule.
func (s *Service) handleJobsRun(ctx context.Context, req *router.Request) error {
	id, err := scheduler.ParseJobID(req.Payload)
	if err != nil {
		return err
	}
	lines, err := s.userJobs(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	owned := false
	for _, l := range lines {
		if l.id == id && l.runnable() {
			owned = true
			break
		}
	}
	if !owned {
		return s.reply(ctx, req, "That job is not one of yours.")
	}
	if err := s.Scheduler.RunNow(id); err != nil {
		s.log.Warn("run job now failed", logx.String("job", id.String()), logx.Err(err))
		return s.reply(ctx, req, "Could not start "+string(id.Kind)+" right now.")
	}
	return s.reply(ctx, req, "Started "+string(id.Kind)+".")
}
