package assistant

import (
	"context"
	"errors"
	"strings"

	"kosha/internal/jobs"
	"kosha/internal/router"
	"kosha/internal/storage"
	"kosha/pkg/tgui"
)

const welcome = "👋 Welcome to Kosha! Anything you send me is saved to your journal. " +
	"Every night you get a summary of the day before. Try /help for commands."

func (s *Service) handleStart(ctx context.Context, req *router.Request) error {
	if _, err := s.user(ctx, req.Chat.ChatID); err != nil {
		return err
	}
	return s.reply(ctx, req, welcome)
}

// handleText feeds the active Gemini chat, or journals the message.
func (s *Service) handleText(ctx context.Context, req *router.Request) error {
	text := strings.TrimSpace(req.ArgText)
	if text == "" {
		return nil
	}
	if s.Sessions != nil && s.Sessions.Active(req.Chat.ChatID) {
		return s.chat(ctx, req, text)
	}
	u, err := s.user(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	now := s.Norm.Now()
	if _, err := s.Store.AddLog(ctx, u.ID, text, now, s.Norm.Day(now)); err != nil {
		return err
	}
	return s.reply(ctx, req, "Saved to your journal!")
}

func (s *Service) handleLogs(ctx context.Context, req *router.Request) error {
	u, err := s.user(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	day := s.Norm.Today()
	entries, err := s.Store.MessagesForDay(ctx, u.ID, day)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return s.reply(ctx, req, "No logs found for today ("+day+").")
	}
	body := tgui.Lines(tgui.B("Logs for today ("+day+"):"), tgui.Esc(jobs.RenderLogs(entries, s.Norm)))
	return s.replyHTML(ctx, req, body.String(), nil)
}

func (s *Service) handleSummary(ctx context.Context, req *router.Request) error {
	if req.ArgText == "" {
		return s.reply(ctx, req, "Usage: /summary [date] (e.g., /summary yesterday)")
	}
	date, ok := s.Searcher.ParseDate(req.ArgText)
	if !ok {
		return s.reply(ctx, req, "Invalid date format. Please try something like 'yesterday' or '2023-10-27'.")
	}
	u, err := s.user(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	day := s.Norm.Day(date)
	summary, err := s.Store.Summary(ctx, u.ID, day)
	if errors.Is(err, storage.ErrNotFound) {
		return s.reply(ctx, req, "No summary found for "+day+".")
	}
	if err != nil {
		return err
	}
	return s.replyHTML(ctx, req, jobs.SummaryHTML(day, summary), nil)
}
