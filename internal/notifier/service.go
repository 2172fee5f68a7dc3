package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"kosha/internal/eventbus"
	kit "kosha/internal/transport"
	logx "kosha/pkg/logx"
	"kosha/pkg/tgui"
)

const historySize = 100

// Service is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	adapter kit.Adapter
	log     logx.Logger
	bus     eventbus.Bus

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log, bus: bus}
	s.Apply(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limiter == nil || s.cfg.RatePerSec != cfg.RatePerSec {
		// Burst equals the per-second rate so short spikes pass untouched.
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	s.cfg = cfg
}

func (s *Service) snapshot() (Config, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}

// SendText delivers one message. The returned error wraps
// transport.ErrUndeliverable when the recipient cannot be reached.
func (s *Service) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if text == "" {
		return kit.MessageRef{}, errors.New("notifier: empty message")
	}
	var ref kit.MessageRef
	err := s.withRetry(ctx, to.ChatID, text, func(cctx context.Context) error {
		var err error
		ref, err = s.adapter.SendText(cctx, to, text, opt)
		return err
	})
	return ref, err
}

// SendHTML sends html as one or more HTML messages split at MaxMessageLen.
// Reply markup from opt is attached to the last chunk only. It stops at the
// first failed chunk.
func (s *Service) SendHTML(ctx context.Context, to kit.ChatTarget, html string, opt *kit.SendOptions) ([]kit.MessageRef, error) {
	cfg, _ := s.snapshot()
	chunks := tgui.SplitHTML(html, cfg.MaxMessageLen)
	if len(chunks) == 0 {
		return nil, errors.New("notifier: empty message")
	}
	base := kit.SendOptions{ParseMode: kit.ParseModeHTML}
	if opt != nil {
		base.DisablePreview = opt.DisablePreview
	}
	refs := make([]kit.MessageRef, 0, len(chunks))
	for i, chunk := range chunks {
		o := base
		if i == len(chunks)-1 && opt != nil {
			o.ReplyMarkupAdapter = opt.ReplyMarkupAdapter
		}
		ref, err := s.SendText(ctx, to, chunk, &o)
		if err != nil {
			return refs, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *Service) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return s.withRetry(ctx, ref.ChatID, text, func(cctx context.Context) error {
		return s.adapter.EditText(cctx, ref, text, opt)
	})
}

// Typing shows a typing status when the adapter supports it.
func (s *Service) Typing(ctx context.Context, to kit.ChatTarget) {
	tn, ok := s.adapter.(kit.TypingNotifier)
	if !ok {
		return
	}
	if err := tn.NotifyTyping(ctx, to); err != nil {
		s.log.Debug("typing notification failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func (s *Service) withRetry(ctx context.Context, chatID int64, text string, call func(ctx context.Context) error) error {
	cfg, lim := s.snapshot()
	ev := DeliveryEvent{ChatID: chatID, Runes: utf8.RuneCountInString(text)}

	var err error
	for attempt := 1; attempt <= 1+cfg.RetryMax; attempt++ {
		ev.Attempts = attempt
		if werr := lim.Wait(ctx); werr != nil {
			err = errors.Join(err, werr)
			break
		}
		cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err = call(cctx)
		cancel()
		if err == nil || errors.Is(err, kit.ErrUndeliverable) || ctx.Err() != nil {
			break
		}
		s.log.Debug("send failed", logx.Int64("chat_id", chatID), logx.Int("attempt", attempt), logx.Err(err))
		if attempt > cfg.RetryMax {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			err = errors.Join(err, ctx.Err())
			attempt = cfg.RetryMax + 1
		}
	}

	item := HistoryItem{At: time.Now(), ChatID: chatID, Text: tgui.TruncRunes(text, 200)}
	if err != nil {
		ev.Error = err.Error()
		ev.Undeliverable = errors.Is(err, kit.ErrUndeliverable)
		item.Error = ev.Error
		eventbus.Emit(s.bus, eventbus.NotifierFailed, ev)
	} else {
		eventbus.Emit(s.bus, eventbus.NotifierSent, ev)
	}
	s.appendHistory(item)
	return err
}

func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

// retryDelay is RetryBase doubled per attempt, capped, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(min(d, cfg.RetryMaxDelay)) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}
