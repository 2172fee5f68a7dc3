// Package router turns transport updates into handler calls: slash
// commands by name, callback queries by "scope:action", and any other text
// through a fallback. Handlers run on a bounded worker pool behind the
// middleware chain.
package router

import (
	"context"
	"time"

	kit "kosha/internal/transport"
	logx "kosha/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// Hidden commands route normally but stay out of help and the menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

type CallbackRoute struct {
	Scope   string
	Action  string
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update kit.Update
	Chat   kit.ChatTarget
	FromID int64
	// MessageID is the message a callback button belongs to.
	MessageID int
	Command   string
	// ArgText is everything after the command word, trimmed.
	ArgText string
	Args    []string
	// Action and Payload are set for callbacks ("scope:action:payload").
	Action  string
	Payload string
	ReqID   string
	Log     logx.Logger

	// AnswerText is shown to the user when a callback query is answered.
	AnswerText string
}

// Text is the raw message text, empty for callbacks.
func (r *Request) Text() string {
	if r.Update.Message == nil {
		return ""
	}
	return r.Update.Message.Text
}
