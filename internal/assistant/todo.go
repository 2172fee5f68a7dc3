package assistant

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"kosha/internal/jobs"
	"kosha/internal/router"
	"kosha/internal/storage"
	kit "kosha/internal/transport"
)

const (
	todoScope  = jobs.TodoScope
	todoDone   = jobs.TodoDone
	todoUndone = jobs.TodoUndone
	todoDelete = jobs.TodoDelete
)

func (s *Service) todoList(ctx context.Context, userID int64) (string, *kit.SendOptions, error) {
	day := s.Norm.Today()
	todos, err := s.Store.TodosForDay(ctx, userID, day)
	if err != nil {
		return "", nil, err
	}
	body, kb := jobs.RenderTodos(day, todos)
	opt := &kit.SendOptions{ParseMode: kit.ParseModeHTML}
	if kb != nil {
		opt.ReplyMarkupAdapter = kb
	}
	return body, opt, nil
}

func (s *Service) handleTodo(ctx context.Context, req *router.Request) error {
	if req.ArgText == "" {
		return s.reply(ctx, req, "Usage: /todo [task description]")
	}
	u, err := s.user(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if _, err := s.Store.AddTodo(ctx, u.ID, req.ArgText, s.Norm.Today()); err != nil {
		return fmt.Errorf("add todo: %w", err)
	}
	return s.sendTodos(ctx, req, u.ID)
}

func (s *Service) handleTodos(ctx context.Context, req *router.Request) error {
	u, err := s.user(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	return s.sendTodos(ctx, req, u.ID)
}

func (s *Service) sendTodos(ctx context.Context, req *router.Request, userID int64) error {
	body, opt, err := s.todoList(ctx, userID)
	if err != nil {
		return err
	}
	return s.replyHTML(ctx, req, body, opt)
}

// handleTodoCallback applies a button press and edits the list in place.
// Todos of other users are treated as gone.
func (s *Service) handleTodoCallback(ctx context.Context, req *router.Request) error {
	id, err := strconv.ParseInt(req.Payload, 10, 64)
	if err != nil {
		return fmt.Errorf("bad todo id %q", req.Payload)
	}
	u, err := s.user(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}

	td, err := s.Store.Todo(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound) || (err == nil && td.UserID != u.ID):
		req.AnswerText = "That TODO no longer exists."
	case err != nil:
		return err
	default:
		if err := s.applyTodo(ctx, req, id); err != nil {
			return err
		}
	}

	body, opt, err := s.todoList(ctx, u.ID)
	if err != nil {
		return err
	}
	return s.Sender.EditText(ctx, kit.MessageRef{ChatID: req.Chat.ChatID, MessageID: req.MessageID}, body, opt)
}

func (s *Service) applyTodo(ctx context.Context, req *router.Request, id int64) error {
	var err error
	switch req.Action {
	case todoDone:
		err = s.Store.SetTodoDone(ctx, id, true)
	case todoUndone:
		err = s.Store.SetTodoDone(ctx, id, false)
	case todoDelete:
		err = s.Store.DeleteTodo(ctx, id)
		req.AnswerText = "Deleted"
	default:
		return fmt.Errorf("unknown todo action %q", req.Action)
	}
	if errors.Is(err, storage.ErrNotFound) {
		req.AnswerText = "That TODO no longer exists."
		return nil
	}
	return err
}
