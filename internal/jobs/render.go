package jobs

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"kosha/internal/storage"
	"kosha/internal/timeutil"
	"kosha/pkg/tgui"
)

// Todo callback actions, encoded as todo:<action>:<id>.
const (
	TodoScope    = "todo"
	TodoDone     = "done"
	TodoUndone   = "undone"
	TodoDelete   = "delete"
	CheckinGreet = "Hey there! 👋 Whatcha doing?"
)

// RenderTodos renders a day's todo list as HTML with one button row per item.
// Markup is nil for an empty list.
func RenderTodos(day string, todos []storage.Todo) (string, *tele.ReplyMarkup) {
	var b strings.Builder
	b.WriteString("📝 " + tgui.B("Your TODOs for Today ("+day+"):").String() + "\n\n")
	if len(todos) == 0 {
		b.WriteString("No TODOs found for today. Use " + tgui.Code("/todo").String() + " to add one.")
		return b.String(), nil
	}
	kb := tgui.NewInline()
	for _, td := range todos {
		mark, toggle := "❌", tgui.Btn("✅ Done", tgui.Data(TodoScope, TodoDone, strconv.FormatInt(td.ID, 10)))
		if td.Done {
			mark, toggle = "✅", tgui.Btn("↩️ Undo", tgui.Data(TodoScope, TodoUndone, strconv.FormatInt(td.ID, 10)))
		}
		fmt.Fprintf(&b, "%s %s\n\n", mark, tgui.Esc(td.Content))
		kb.Row(toggle, tgui.Btn("Delete", tgui.Data(TodoScope, TodoDelete, strconv.FormatInt(td.ID, 10))))
	}
	return strings.TrimRight(b.String(), "\n"), kb.Markup()
}

// RenderLogs renders journal entries as "- HH:MM: content" lines in loc.
func RenderLogs(entries []storage.LogEntry, norm *timeutil.Normalizer) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, "- "+norm.Normalize(e.At).Format("15:04")+": "+e.Content)
	}
	return strings.Join(lines, "\n")
}

// MissedReminderText is sent for reminders whose time passed while offline.
func MissedReminderText(content string, at time.Time) string {
	return fmt.Sprintf("⚠️ Missed Reminder: %s\n(Scheduled for %s)", content, at.Format(timeutil.MinuteLayout))
}

func reminderText(content string) string { return "🔔 Reminder: " + content }

// SummaryHTML renders a stored summary with its heading.
func SummaryHTML(day, summary string) string {
	return "📅 " + tgui.B("Summary for "+day+":").String() + "\n\n" + tgui.MarkdownToSafeHTML(summary)
}
