package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"kosha/internal/eventbus"
	kit "kosha/internal/transport"
	logx "kosha/pkg/logx"
)

type sent struct {
	text string
	opt  kit.SendOptions
}

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []sent
	fails []error
	calls int
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error {
	return nil
}

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.fails) > 0 {
		err := f.fails[0]
		f.fails = f.fails[1:]
		if err != nil {
			return kit.MessageRef{}, err
		}
	}
	var o kit.SendOptions
	if opt != nil {
		o = *opt
	}
	f.sent = append(f.sent, sent{text: text, opt: o})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func newTestService(a *fakeAdapter, bus eventbus.Bus) *Service {
	return New(Config{
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
		MaxMessageLen: 50,
	}, a, logx.Nop(), bus)
}

func TestSendTextRetriesTransientErrors(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{fails: []error{errors.New("timeout"), errors.New("502")}}
	s := newTestService(a, nil)

	ref, err := s.SendText(context.Background(), kit.Chat(7), "hi", nil)
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if a.calls != 3 || ref.MessageID != 1 {
		t.Fatalf("calls=%d ref=%+v", a.calls, ref)
	}
}

func TestSendTextStopsOnUndeliverable(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	a := &fakeAdapter{fails: []error{fmt.Errorf("bot was blocked: %w", kit.ErrUndeliverable)}}
	s := newTestService(a, bus)

	_, err := s.SendText(context.Background(), kit.Chat(7), "hi", nil)
	if !errors.Is(err, kit.ErrUndeliverable) {
		t.Fatalf("err = %v, want ErrUndeliverable", err)
	}
	if a.calls != 1 {
		t.Fatalf("calls = %d, want 1", a.calls)
	}
	select {
	case e := <-events:
		ev, _ := e.Data.(DeliveryEvent)
		if e.Type != eventbus.NotifierFailed || !ev.Undeliverable {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("no failure event")
	}
	if h := s.History(); len(h) != 1 || h[0].Error == "" {
		t.Fatalf("history = %+v", h)
	}
}

func TestSendTextGivesUpAfterRetryMax(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	a := &fakeAdapter{fails: []error{boom, boom, boom, boom}}
	s := newTestService(a, nil)

	if _, err := s.SendText(context.Background(), kit.Chat(1), "x", nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if a.calls != 3 {
		t.Fatalf("calls = %d, want 3", a.calls)
	}
}

func TestSendHTMLSplitsAndBalances(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{}
	s := newTestService(a, nil)

	body := "<b>" + strings.Repeat("word ", 8) + "\n\n" + strings.Repeat("more ", 8) + "</b>"
	markup := struct{}{}
	refs, err := s.SendHTML(context.Background(), kit.Chat(3), body, &kit.SendOptions{ReplyMarkupAdapter: markup})
	if err != nil {
		t.Fatalf("SendHTML: %v", err)
	}
	if len(refs) < 2 || len(a.sent) != len(refs) {
		t.Fatalf("refs=%d sent=%d", len(refs), len(a.sent))
	}
	for i, m := range a.sent {
		if m.opt.ParseMode != kit.ParseModeHTML {
			t.Fatalf("chunk %d parse mode = %q", i, m.opt.ParseMode)
		}
		if !strings.HasPrefix(m.text, "<b>") {
			t.Fatalf("chunk %d lost the open tag: %q", i, m.text)
		}
		last := i == len(a.sent)-1
		if (m.opt.ReplyMarkupAdapter != nil) != last {
			t.Fatalf("chunk %d markup presence wrong", i)
		}
	}
}

func TestSendHTMLRejectsEmpty(t *testing.T) {
	t.Parallel()
	s := newTestService(&fakeAdapter{}, nil)
	if _, err := s.SendHTML(context.Background(), kit.Chat(1), "  ", nil); err == nil {
		t.Fatalf("expected error for empty body")
	}
}

func TestRetryDelayIsCapped(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: 300 * time.Millisecond}.withDefaults()
	for attempt := 1; attempt < 10; attempt++ {
		if d := retryDelay(cfg, attempt); d <= 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("attempt %d delay %s", attempt, d)
		}
	}
}
