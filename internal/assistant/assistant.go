// Package assistant implements the chat commands: journaling, reminders,
// todos, summaries and the Gemini chat.
package assistant

import (
	"context"
	"fmt"
	"time"

	"kosha/internal/llm"
	"kosha/internal/router"
	"kosha/internal/storage"
	"kosha/internal/task/scheduler"
	"kosha/internal/timeutil"
	kit "kosha/internal/transport"
	logx "kosha/pkg/logx"
)

// ReminderLeadTime is how far ahead a new reminder must be.
const ReminderLeadTime = 5 * time.Second

type Store interface {
	EnsureUser(ctx context.Context, chatID int64) (storage.User, bool, error)
	AddLog(ctx context.Context, userID int64, content string, at time.Time, day string) (int64, error)
	MessagesForDay(ctx context.Context, userID int64, day string) ([]storage.LogEntry, error)
	AddReminder(ctx context.Context, userID int64, content string, at time.Time) (int64, error)
	ActiveRemindersFor(ctx context.Context, userID int64) ([]storage.Reminder, error)
	DeactivateReminder(ctx context.Context, id int64) error
	Summary(ctx context.Context, userID int64, day string) (string, error)
	AddTodo(ctx context.Context, userID int64, content, day string) (int64, error)
	TodosForDay(ctx context.Context, userID int64, day string) ([]storage.Todo, error)
	Todo(ctx context.Context, id int64) (storage.Todo, error)
	SetTodoDone(ctx context.Context, id int64, done bool) error
	DeleteTodo(ctx context.Context, id int64) error
}

type Scheduler interface {
	ScheduleOnce(id scheduler.JobID, at time.Time, cmd scheduler.Command) error
	Jobs() []scheduler.JobInfo
	RunNow(id scheduler.JobID) error
}

// Armer registers a user's recurring jobs.
type Armer interface {
	ArmUser(u storage.User) error
}

type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	SendHTML(ctx context.Context, to kit.ChatTarget, html string, opt *kit.SendOptions) ([]kit.MessageRef, error)
	EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
	Typing(ctx context.Context, to kit.ChatTarget)
}

type Model interface {
	Configured() bool
	Ask(ctx context.Context, query string) (string, error)
	Chat(ctx context.Context, history []llm.Turn, msg string) (string, error)
}

type Deps struct {
	Store     Store
	Scheduler Scheduler
	Armer     Armer
	Sender    Sender
	Model     Model
	Sessions  *llm.Sessions
	Norm      *timeutil.Normalizer
	Searcher  *timeutil.Searcher
	Log       logx.Logger
	// Help renders the command list for /help.
	Help func() string
}

type Service struct {
	Deps
	log logx.Logger
}

func New(d Deps) *Service {
	if d.Searcher == nil {
		d.Searcher = timeutil.NewSearcher(d.Norm)
	}
	return &Service{Deps: d, log: d.Log.With(logx.String("comp", "assistant"))}
}

func (s *Service) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "register and enable daily jobs", Handle: s.handleStart},
		{Name: "remind", Description: "set a reminder", Usage: "/remind <when> <text>", Handle: s.handleRemind},
		{Name: "todo", Description: "add a todo for today", Usage: "/todo <text>", Handle: s.handleTodo},
		{Name: "todos", Description: "show today's todos", Handle: s.handleTodos},
		{Name: "logs", Description: "show today's journal", Handle: s.handleLogs},
		{Name: "summary", Description: "show the summary of a day", Usage: "/summary <date>", Handle: s.handleSummary},
		{Name: "gemini", Description: "ask Gemini, or start a chat", Usage: "/gemini [question]", Timeout: 3 * time.Minute, Handle: s.handleGemini},
		{Name: "endgemini", Description: "end the Gemini chat", Handle: s.handleEndGemini},
		{Name: "jobs", Description: "list your scheduled jobs", Handle: s.handleJobs},
		{Name: "help", Aliases: []string{"h"}, Description: "show this help", Handle: s.handleHelp},
	}
}

func (s *Service) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Scope: todoScope, Action: todoDone, Handle: s.handleTodoCallback},
		{Scope: todoScope, Action: todoUndone, Handle: s.handleTodoCallback},
		{Scope: todoScope, Action: todoDelete, Handle: s.handleTodoCallback},
		{Scope: jobsScope, Action: jobsPage, Handle: s.handleJobsPage},
		{Scope: jobsScope, Action: jobsRun, Handle: s.handleJobsRun},
	}
}

// Fallback handles text that is not a command.
func (s *Service) Fallback() router.HandlerFunc { return s.handleText }

// user returns the chat's user, arming recurring jobs the first time.
func (s *Service) user(ctx context.Context, chatID int64) (storage.User, error) {
	u, created, err := s.Store.EnsureUser(ctx, chatID)
	if err != nil {
		return storage.User{}, fmt.Errorf("ensure user: %w", err)
	}
	if created {
		s.log.Info("new user", logx.Int64("user_id", u.ID), logx.Int64("chat_id", chatID))
		if err := s.Armer.ArmUser(u); err != nil {
			s.log.Error("arm new user failed", logx.Int64("user_id", u.ID), logx.Err(err))
		}
	}
	return u, nil
}

func (s *Service) reply(ctx context.Context, req *router.Request, text string) error {
	_, err := s.Sender.SendText(ctx, req.Chat, text, nil)
	return err
}

func (s *Service) replyHTML(ctx context.Context, req *router.Request, html string, opt *kit.SendOptions) error {
	_, err := s.Sender.SendHTML(ctx, req.Chat, html, opt)
	return err
}

func (s *Service) handleHelp(ctx context.Context, req *router.Request) error {
	if s.Help == nil {
		return s.reply(ctx, req, "No help available.")
	}
	return s.replyHTML(ctx, req, s.Help(), &kit.SendOptions{DisablePreview: true})
}
