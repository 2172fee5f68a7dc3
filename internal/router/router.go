package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	kit "kosha/internal/transport"
	logx "kosha/pkg/logx"
	"kosha/pkg/tgui"
)

type Config struct {
	// Workers defaults to NumCPU, at least 2.
	Workers int
	// Queue is the pending job capacity. Default 256.
	Queue int
	// Timeout applies to handlers without their own. Default 60s.
	Timeout time.Duration
	// AllowedChatIDs empty allows every chat.
	AllowedChatIDs []int64
}

type Router struct {
	adapter kit.Adapter
	log     logx.Logger
	workers int
	timeout time.Duration

	mu        sync.RWMutex
	commands  map[string]*Command
	order     []string
	callbacks map[string]CallbackRoute
	fallback  HandlerFunc
	allowed   map[int64]struct{}

	jobs chan func()
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Router {
	if cfg.Workers <= 0 {
		cfg.Workers = max(runtime.NumCPU(), 2)
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	r := &Router{
		adapter:   adapter,
		log:       log.With(logx.String("comp", "router")),
		workers:   cfg.Workers,
		timeout:   cfg.Timeout,
		commands:  map[string]*Command{},
		callbacks: map[string]CallbackRoute{},
		jobs:      make(chan func(), cfg.Queue),
	}
	r.SetAllowed(cfg.AllowedChatIDs)
	return r
}

// SetAllowed replaces the allow list. Safe during hot reload.
func (r *Router) SetAllowed(ids []int64) {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	r.mu.Lock()
	r.allowed = m
	r.mu.Unlock()
}

func (r *Router) Allowed(chatID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.allowed) == 0 {
		return true
	}
	_, ok := r.allowed[chatID]
	return ok
}

// SetRegistry replaces all routes. fallback receives non-command text.
func (r *Router) SetRegistry(cmds []Command, cbs []CallbackRoute, fallback HandlerFunc) {
	commands := map[string]*Command{}
	var order []string
	for i := range cmds {
		c := cmds[i]
		name := normalizeName(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		commands[name] = &c
		order = append(order, name)
		for _, a := range c.Aliases {
			if a = normalizeName(a); a != "" {
				if _, taken := commands[a]; !taken {
					commands[a] = &c
				}
			}
		}
	}
	callbacks := map[string]CallbackRoute{}
	for _, cb := range cbs {
		if cb.Scope == "" || cb.Action == "" || cb.Handle == nil {
			continue
		}
		callbacks[cb.Scope+":"+cb.Action] = cb
	}

	r.mu.Lock()
	r.commands, r.order, r.callbacks, r.fallback = commands, order, callbacks, fallback
	r.mu.Unlock()
}

// Commands lists visible commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.order))
	for _, name := range r.order {
		if c := r.commands[name]; !c.Hidden {
			out = append(out, *c)
		}
	}
	return out
}

// Menu is the command list for the platform menu, sorted by name.
func (r *Router) Menu() []kit.BotCommand {
	cmds := r.Commands()
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// HelpHTML renders the visible commands.
func (r *Router) HelpHTML() string {
	lines := []tgui.H{tgui.B("📚 Commands")}
	for _, c := range r.Commands() {
		line := tgui.Esc("/" + c.Name)
		if c.Usage != "" {
			line = tgui.Code(c.Usage)
		}
		if c.Description != "" {
			line += tgui.Esc(" - " + c.Description)
		}
		lines = append(lines, line)
	}
	return tgui.Lines(lines...).String()
}

// Run feeds updates to the worker pool until ctx ends or updates closes.
// It waits for queued handlers before returning.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	r.log.Info("dispatcher started", logx.Int("workers", r.workers), logx.Int("queue_cap", cap(r.jobs)))
	var wg sync.WaitGroup
	wg.Add(r.workers)
	for i := 0; i < r.workers; i++ {
		go func(idx int) {
			defer wg.Done()
			for job := range r.jobs {
				r.runJob(idx, job)
			}
		}(i)
	}
	defer func() {
		close(r.jobs)
		wg.Wait()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) runJob(idx int, job func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in router worker", logx.Int("worker", idx), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	case kit.UpdateCallback:
		r.routeCallback(ctx, up)
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	req := &Request{Update: up, Chat: kit.Chat(msg.ChatID), FromID: msg.FromID}

	r.mu.RLock()
	fallback := r.fallback
	var cmd *Command
	if strings.HasPrefix(text, "/") {
		word, rest := text[1:], ""
		if i := strings.IndexFunc(word, unicode.IsSpace); i >= 0 {
			word, rest = word[:i], word[i:]
		}
		if i := strings.IndexByte(word, '@'); i >= 0 {
			word = word[:i]
		}
		req.Command = strings.ToLower(word)
		req.ArgText = strings.TrimSpace(rest)
		req.Args = strings.Fields(req.ArgText)
		cmd = r.commands[req.Command]
	}
	r.mu.RUnlock()

	var (
		h       HandlerFunc
		timeout = r.timeout
	)
	switch {
	case cmd != nil:
		h = cmd.Handle
		req.Command = cmd.Name
		if cmd.Timeout > 0 {
			timeout = cmd.Timeout
		}
	case req.Command != "":
		h = r.unknownCommand
	case fallback != nil:
		h = fallback
		req.ArgText = text
	default:
		return
	}
	r.enqueue(ctx, req, h, timeout, nil)
}

func (r *Router) unknownCommand(ctx context.Context, req *Request) error {
	_, err := r.adapter.SendText(ctx, req.Chat, "Unknown command. Try /help", nil)
	return err
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	scope, action, payload := tgui.ParseData(strings.TrimSpace(cb.Data))

	r.mu.RLock()
	route, ok := r.callbacks[scope+":"+action]
	r.mu.RUnlock()
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	req := &Request{
		Update:    up,
		Chat:      kit.Chat(cb.ChatID),
		FromID:    cb.FromID,
		MessageID: cb.MessageID,
		Command:   "cb:" + scope + ":" + action,
		Action:    action,
		Payload:   payload,
	}
	timeout := r.timeout
	if route.Timeout > 0 {
		timeout = route.Timeout
	}
	// Answer even on failure so the client stops its spinner.
	after := func() { _ = r.adapter.AnswerCallback(ctx, cb.ID, req.AnswerText) }
	r.enqueue(ctx, req, route.Handle, timeout, after)
}

func (r *Router) enqueue(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration, after func()) {
	req.ReqID = uuid.NewString()
	req.Log = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.FromID),
		logx.String("cmd", req.Command),
	)
	final := Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWRestrict(r.Allowed),
		MWTimeout(timeout),
	)
	job := func() {
		_ = final(ctx, req)
		if after != nil {
			after()
		}
	}
	select {
	case r.jobs <- job:
	default:
		r.log.Warn("router queue full; update dropped", logx.String("cmd", req.Command))
		if after != nil {
			_ = r.adapter.AnswerCallback(ctx, req.Update.Callback.ID, "busy, try again")
		} else if r.Allowed(req.Chat.ChatID) {
			_, _ = r.adapter.SendText(ctx, req.Chat, "busy, try again", nil)
		}
	}
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "/"))
	if s == "" || slices.ContainsFunc([]rune(s), func(r rune) bool { return r == ' ' || r == ':' }) {
		return ""
	}
	return s
}
