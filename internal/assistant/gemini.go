package assistant

import (
	"context"
	"errors"
	"strings"

	"kosha/internal/llm"
	"kosha/internal/router"
	logx "kosha/pkg/logx"
	"kosha/pkg/tgui"
)

const (
	geminiSorry      = "🤖 Sorry, I couldn't get a response from Gemini."
	geminiOff        = "Gemini is not configured."
	geminiStartedMsg = "💬 <b>Gemini Chat started!</b> Send me your questions. Type <code>/endgemini</code> to end the chat."
	geminiEndedMsg   = "👋 <b>Gemini Chat ended.</b>"
)

func (s *Service) handleGemini(ctx context.Context, req *router.Request) error {
	if s.Model == nil || !s.Model.Configured() {
		return s.reply(ctx, req, geminiOff)
	}
	if _, err := s.user(ctx, req.Chat.ChatID); err != nil {
		return err
	}
	if req.ArgText == "" {
		s.Sessions.Start(req.Chat.ChatID)
		return s.replyHTML(ctx, req, geminiStartedMsg, nil)
	}
	s.Sender.Typing(ctx, req.Chat)
	resp, err := s.Model.Ask(ctx, req.ArgText)
	return s.answer(ctx, req, resp, err)
}

func (s *Service) handleEndGemini(ctx context.Context, req *router.Request) error {
	s.Sessions.End(req.Chat.ChatID)
	return s.replyHTML(ctx, req, geminiEndedMsg, nil)
}

// chat continues the active session. The exchange is only recorded when the
// model answered.
func (s *Service) chat(ctx context.Context, req *router.Request, text string) error {
	if s.Model == nil || !s.Model.Configured() {
		s.Sessions.End(req.Chat.ChatID)
		return s.reply(ctx, req, geminiOff)
	}
	s.Sender.Typing(ctx, req.Chat)
	resp, err := s.Model.Chat(ctx, s.Sessions.History(req.Chat.ChatID), text)
	if err == nil && strings.TrimSpace(resp) != "" {
		s.Sessions.Record(req.Chat.ChatID, text, resp)
	}
	return s.answer(ctx, req, resp, err)
}

// answer sends a model reply as HTML. Provider failures get an apology and
// are not returned as handler errors.
func (s *Service) answer(ctx context.Context, req *router.Request, resp string, err error) error {
	if err != nil && !errors.Is(err, llm.ErrNoContent) {
		req.Log.Warn("gemini request failed", logx.Err(err))
	}
	if err != nil || strings.TrimSpace(resp) == "" {
		return s.reply(ctx, req, geminiSorry)
	}
	return s.replyHTML(ctx, req, tgui.MarkdownToSafeHTML(resp), nil)
}
