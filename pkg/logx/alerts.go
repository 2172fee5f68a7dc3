package logx

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "kosha/internal/transport"
)

// AlertSender is the slice of the transport the alert sink needs.
type AlertSender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

const (
	alertQueueSize   = 64
	alertSendTimeout = 10 * time.Second
	alertMaxLen      = 3500
)

// alertSink is a zerolog.LevelWriter that hands records to a background
// sender. Writes never block; overflow is dropped.
type alertSink struct {
	sender AlertSender

	mu       sync.Mutex
	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue    chan string
	start    sync.Once
	stop     context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func newAlertSink(sender AlertSender) *alertSink {
	return &alertSink{sender: sender, queue: make(chan string, alertQueueSize)}
}

// configure reports whether the sink should be part of the writer chain.
func (a *alertSink) configure(cfg AlertConfig) bool {
	if a == nil || a.sender == nil || !cfg.Enabled || cfg.ChatID == 0 {
		return false
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	a.mu.Lock()
	a.chatID = cfg.ChatID
	a.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	a.mu.Unlock()

	a.start.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		a.stop = cancel
		a.done = make(chan struct{})
		go a.loop(ctx)
	})
	return true
}

func (a *alertSink) loop(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.queue:
			a.mu.Lock()
			to := kit.ChatTarget{ChatID: a.chatID}
			a.mu.Unlock()
			sendCtx, cancel := context.WithTimeout(ctx, alertSendTimeout)
			_, _ = a.sender.SendText(sendCtx, to, msg, &kit.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

func (a *alertSink) close() {
	if a == nil {
		return
	}
	a.stopOnce.Do(func() {
		if a.stop != nil {
			a.stop()
			<-a.done
		}
	})
}

func (a *alertSink) Write(p []byte) (int, error) {
	return a.WriteLevel(zerolog.NoLevel, p)
}

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	minLevel, lim := a.minLevel, a.limiter
	a.mu.Unlock()

	if level == zerolog.NoLevel || level < minLevel || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	msg := formatAlert(p)
	if msg == "" {
		return len(p), nil
	}
	select {
	case a.queue <- msg:
	default:
	}
	return len(p), nil
}

// formatAlert renders a zerolog JSON line as "[LEVEL] message" followed by
// sorted key=value lines.
func formatAlert(p []byte) string {
	var rec map[string]any
	if err := jsoniter.Unmarshal(p, &rec); err != nil {
		return clip(strings.TrimSpace(string(p)), alertMaxLen)
	}
	var b strings.Builder
	if lvl, _ := rec[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := rec[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(rec))
	for k := range rec {
		switch k {
		case zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.TimestampFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(rec[k]), 600))
	}
	return clip(b.String(), alertMaxLen)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
