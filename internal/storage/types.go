package storage

import (
	"context"
	"errors"
	"time"

	"kosha/internal/timeutil"
)

var (
	ErrNotFound  = errors.New("storage: not found")
	ErrDuplicate = errors.New("storage: duplicate")
)

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means 5s
}

type User struct {
	ID     int64
	ChatID int64
}

type LogEntry struct {
	ID      int64
	UserID  int64
	Content string
	At      timeutil.Stamp
	Day     string
}

// Reminder is a one-shot notification. ChatID is joined from users.
type Reminder struct {
	ID      int64
	UserID  int64
	ChatID  int64
	Content string
	FireAt  timeutil.Stamp
	Active  bool
}

type Todo struct {
	ID      int64
	UserID  int64
	Content string
	Day     string
	Done    bool
}

// Store is the full persistence API. Consumers declare the subset they use.
type Store interface {
	EnsureUser(ctx context.Context, chatID int64) (u User, created bool, err error)
	Users(ctx context.Context) ([]User, error)

	AddLog(ctx context.Context, userID int64, content string, at time.Time, day string) (int64, error)
	MessagesForDay(ctx context.Context, userID int64, day string) ([]LogEntry, error)

	AddReminder(ctx context.Context, userID int64, content string, at time.Time) (int64, error)
	ActiveReminders(ctx context.Context) ([]Reminder, error)
	ActiveRemindersFor(ctx context.Context, userID int64) ([]Reminder, error)
	DeactivateReminder(ctx context.Context, id int64) error
	PruneReminders(ctx context.Context, before time.Time) (int64, error)

	AddSummary(ctx context.Context, userID int64, content, day string) error
	Summary(ctx context.Context, userID int64, day string) (string, error)

	AddTodo(ctx context.Context, userID int64, content, day string) (int64, error)
	TodosForDay(ctx context.Context, userID int64, day string) ([]Todo, error)
	Todo(ctx context.Context, id int64) (Todo, error)
	SetTodoDone(ctx context.Context, id int64, done bool) error
	DeleteTodo(ctx context.Context, id int64) error

	Close() error
}
