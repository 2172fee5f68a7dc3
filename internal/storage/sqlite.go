package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"kosha/internal/timeutil"
	logx "kosha/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const defaultBusyTimeout = 5 * time.Second

// SQLite implements Store.
type SQLite struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

var _ Store = (*SQLite)(nil)

func openSQLite(cfg Config, log logx.Logger) (*SQLite, error) {
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serialises writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	st := &SQLite{db: db, log: log, now: time.Now}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	log.Debug("sqlite opened", logx.String("path", path))
	return st, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) createdAt() string { return s.now().UTC().Format(time.RFC3339Nano) }

// EnsureUser returns the user for chatID, inserting it on first sight.
func (s *SQLite) EnsureUser(ctx context.Context, chatID int64) (User, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(chat_id, created_at) VALUES(?, ?) ON CONFLICT(chat_id) DO NOTHING`,
		chatID, s.createdAt())
	if err != nil {
		return User{}, false, err
	}
	n, _ := res.RowsAffected()
	u := User{ChatID: chatID}
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE chat_id = ?`, chatID).Scan(&u.ID); err != nil {
		return User{}, false, err
	}
	return u, n > 0, nil
}

func (s *SQLite) Users(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, chat_id FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.ChatID); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLite) AddLog(ctx context.Context, userID int64, content string, at time.Time, day string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO logs(user_id, content, at, day) VALUES(?, ?, ?, ?)`,
		userID, content, timeutil.Aware(at).String(), day)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// MessagesForDay returns the user's entries for day in insertion order.
func (s *SQLite) MessagesForDay(ctx context.Context, userID int64, day string) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, at FROM logs WHERE user_id = ? AND day = ? ORDER BY id`,
		userID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LogEntry
	for rows.Next() {
		e := LogEntry{UserID: userID, Day: day}
		var at string
		if err := rows.Scan(&e.ID, &e.Content, &at); err != nil {
			return nil, err
		}
		if e.At, err = timeutil.ParseStamp(at); err != nil {
			return nil, fmt.Errorf("log %d: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) AddReminder(ctx context.Context, userID int64, content string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(user_id, content, fire_at, fire_unix, is_active, created_at) VALUES(?, ?, ?, ?, 1, ?)`,
		userID, content, timeutil.Aware(at).String(), at.Unix(), s.createdAt())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const reminderCols = `r.id, r.user_id, u.chat_id, r.content, r.fire_at, r.is_active`

// ActiveReminders returns every active reminder ordered by fire time.
func (s *SQLite) ActiveReminders(ctx context.Context) ([]Reminder, error) {
	return s.queryReminders(ctx,
		`SELECT `+reminderCols+` FROM reminders r JOIN users u ON u.id = r.user_id
		 WHERE r.is_active = 1 ORDER BY r.fire_unix, r.id`)
}

func (s *SQLite) ActiveRemindersFor(ctx context.Context, userID int64) ([]Reminder, error) {
	return s.queryReminders(ctx,
		`SELECT `+reminderCols+` FROM reminders r JOIN users u ON u.id = r.user_id
		 WHERE r.is_active = 1 AND r.user_id = ? ORDER BY r.fire_unix, r.id`, userID)
}

func (s *SQLite) queryReminders(ctx context.Context, q string, args ...any) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reminder
	for rows.Next() {
		var (
			r  Reminder
			at string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.ChatID, &r.Content, &at, &r.Active); err != nil {
			return nil, err
		}
		if r.FireAt, err = timeutil.ParseStamp(at); err != nil {
			return nil, fmt.Errorf("reminder %d: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeactivateReminder is idempotent; an unknown id is not an error.
func (s *SQLite) DeactivateReminder(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE reminders SET is_active = 0 WHERE id = ?`, id)
	return err
}

// PruneReminders deletes inactive reminders whose fire time is before the
// cutoff and reports how many went.
func (s *SQLite) PruneReminders(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE is_active = 0 AND fire_unix < ?`, before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AddSummary stores the first summary for (user, day). Later attempts get
// ErrDuplicate and leave the stored text alone.
func (s *SQLite) AddSummary(ctx context.Context, userID int64, content, day string) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO summaries(user_id, day, content, created_at) VALUES(?, ?, ?, ?)
		 ON CONFLICT(user_id, day) DO NOTHING`,
		userID, day, content, s.createdAt())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *SQLite) Summary(ctx context.Context, userID int64, day string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM summaries WHERE user_id = ? AND day = ?`, userID, day).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return content, err
}

func (s *SQLite) AddTodo(ctx context.Context, userID int64, content, day string) (int64, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return 0, errors.New("storage: empty todo")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO todos(user_id, content, day, is_done, created_at) VALUES(?, ?, ?, 0, ?)`,
		userID, content, day, s.createdAt())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLite) TodosForDay(ctx context.Context, userID int64, day string) ([]Todo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, is_done FROM todos WHERE user_id = ? AND day = ? ORDER BY id`,
		userID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Todo
	for rows.Next() {
		t := Todo{UserID: userID, Day: day}
		if err := rows.Scan(&t.ID, &t.Content, &t.Done); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) Todo(ctx context.Context, id int64) (Todo, error) {
	t := Todo{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, content, day, is_done FROM todos WHERE id = ?`, id).
		Scan(&t.UserID, &t.Content, &t.Day, &t.Done)
	if errors.Is(err, sql.ErrNoRows) {
		return Todo{}, ErrNotFound
	}
	return t, err
}

func (s *SQLite) SetTodoDone(ctx context.Context, id int64, done bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE todos SET is_done = ? WHERE id = ?`, done, id)
	return affected(res, err)
}

func (s *SQLite) DeleteTodo(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM todos WHERE id = ?`, id)
	return affected(res, err)
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
