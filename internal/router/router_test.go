package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kit "kosha/internal/transport"
	logx "kosha/pkg/logx"
)

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []string
	answered map[string]string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answered == nil {
		f.answered = map[string]string{}
	}
	f.answered[id] = text
	return nil
}

func msg(chatID int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chatID, FromID: chatID, Text: text}}
}

// runAll routes updates and waits for every handler to finish.
func runAll(t *testing.T, r *Router, ups ...kit.Update) {
	t.Helper()
	ch := make(chan kit.Update, len(ups))
	for _, u := range ups {
		ch <- u
	}
	close(ch)
	if err := r.Run(context.Background(), ch); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestCommandRouting(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		seen []*Request
	)
	record := func(_ context.Context, req *Request) error {
		mu.Lock()
		seen = append(seen, req)
		mu.Unlock()
		return nil
	}
	a := &fakeAdapter{}
	r := New(Config{Workers: 1}, a, logx.Nop())
	r.SetRegistry([]Command{{Name: "remind", Aliases: []string{"r"}, Handle: record}}, nil, record)

	runAll(t, r,
		msg(1, "/remind@kosha_bot in 5 minutes  stretch"),
		msg(1, "/R tomorrow 9am"),
		msg(1, "just a note"),
		msg(1, "/nope"),
	)

	if len(seen) != 3 {
		t.Fatalf("handled %d requests, want 3", len(seen))
	}
	if seen[0].Command != "remind" || seen[0].ArgText != "in 5 minutes  stretch" || len(seen[0].Args) != 4 {
		t.Fatalf("first request = %+v", seen[0])
	}
	if seen[1].Command != "remind" || seen[1].ArgText != "tomorrow 9am" {
		t.Fatalf("alias request = %+v", seen[1])
	}
	if seen[2].Command != "" || seen[2].ArgText != "just a note" {
		t.Fatalf("fallback request = %+v", seen[2])
	}
	if seen[0].ReqID == "" || seen[0].ReqID == seen[1].ReqID {
		t.Fatalf("request ids not unique")
	}
	if len(a.sent) != 1 || a.sent[0] != "Unknown command. Try /help" {
		t.Fatalf("sent = %q", a.sent)
	}
}

func TestRestrictIgnoresOtherChats(t *testing.T) {
	t.Parallel()
	calls := 0
	var mu sync.Mutex
	a := &fakeAdapter{}
	r := New(Config{Workers: 1, AllowedChatIDs: []int64{42}}, a, logx.Nop())
	r.SetRegistry([]Command{{Name: "logs", Handle: func(context.Context, *Request) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}}}, nil, nil)

	runAll(t, r, msg(7, "/logs"), msg(42, "/logs"), msg(7, "/unknown"))
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if len(a.sent) != 0 {
		t.Fatalf("denied chat got a reply: %q", a.sent)
	}

	r2 := New(Config{}, a, logx.Nop())
	if !r2.Allowed(12345) {
		t.Fatalf("empty allow list should allow everyone")
	}
}

func TestCallbackIsAnswered(t *testing.T) {
	t.Parallel()
	var got *Request
	a := &fakeAdapter{}
	r := New(Config{Workers: 1}, a, logx.Nop())
	r.SetRegistry(nil, []CallbackRoute{{Scope: "todo", Action: "done", Handle: func(_ context.Context, req *Request) error {
		got = req
		req.AnswerText = "Done"
		return nil
	}}}, nil)

	runAll(t, r,
		kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "a", ChatID: 1, MessageID: 9, Data: "todo:done:15"}},
		kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "b", ChatID: 1, Data: "todo:bogus:1"}},
	)
	if got == nil || got.Payload != "15" || got.MessageID != 9 {
		t.Fatalf("callback request = %+v", got)
	}
	if a.answered["a"] != "Done" {
		t.Fatalf("answer = %q", a.answered["a"])
	}
	if _, ok := a.answered["b"]; !ok {
		t.Fatalf("unrouted callback not answered")
	}
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()
	h := Chain(func(context.Context, *Request) error { panic("boom") }, MWPanicRecover(logx.Nop()))
	err := h(context.Background(), &Request{})
	if err == nil || err.Error() != "panic: boom" {
		t.Fatalf("err = %v", err)
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	t.Parallel()
	h := Chain(func(ctx context.Context, _ *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}, MWTimeout(10*time.Millisecond))
	if err := h(context.Background(), &Request{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestMenuAndHelpSkipHidden(t *testing.T) {
	t.Parallel()
	nop := func(context.Context, *Request) error { return nil }
	r := New(Config{}, &fakeAdapter{}, logx.Nop())
	r.SetRegistry([]Command{
		{Name: "todo", Description: "add a todo", Usage: "/todo <text>", Handle: nop},
		{Name: "start", Description: "register", Handle: nop},
		{Name: "debug", Hidden: true, Handle: nop},
	}, nil, nil)

	menu := r.Menu()
	if len(menu) != 2 || menu[0].Command != "start" || menu[1].Command != "todo" {
		t.Fatalf("menu = %+v", menu)
	}
	help := r.HelpHTML()
	want := "<b>📚 Commands</b>\n<code>/todo &lt;text&gt;</code> - add a todo\n/start - register"
	if help != want {
		t.Fatalf("help = %q", help)
	}
}
