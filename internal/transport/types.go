// Package transport holds the chat-platform neutral types shared by the
// router, the notifier and the Telegram adapter.
package transport

import (
	"context"
	"errors"
)

// ErrUndeliverable marks a permanent delivery failure (bot blocked, chat
// gone). Senders should not retry it.
var ErrUndeliverable = errors.New("transport: recipient unreachable")

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

func Chat(id int64) ChatTarget { return ChatTarget{ChatID: id} }

type MessageRef struct {
	ChatID    int64
	MessageID int
}

const (
	ParseModeHTML     = "HTML"
	ParseModeMarkdown = "Markdown"
)

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyMarkupAdapter is adapter specific (*telebot.ReplyMarkup for Telegram).
	ReplyMarkupAdapter any
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand is one entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

// TypingNotifier is implemented by adapters that can show a "typing" status.
type TypingNotifier interface {
	NotifyTyping(ctx context.Context, to ChatTarget) error
}
