package assistant

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"kosha/internal/clock"
	"kosha/internal/jobs"
	"kosha/internal/llm"
	"kosha/internal/router"
	"kosha/internal/storage"
	"kosha/internal/task/scheduler"
	"kosha/internal/timeutil"
	kit "kosha/internal/transport"
	logx "kosha/pkg/logx"
)

var now = time.Date(2026, 6, 1, 11, 0, 0, 0, time.UTC)

type out struct {
	text string
	html bool
	opt  *kit.SendOptions
	edit kit.MessageRef
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []out
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, out{text: text, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.msgs)}, nil
}

func (f *fakeSender) SendHTML(_ context.Context, to kit.ChatTarget, html string, opt *kit.SendOptions) ([]kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, out{text: html, html: true, opt: opt})
	return []kit.MessageRef{{ChatID: to.ChatID, MessageID: len(f.msgs)}}, nil
}

func (f *fakeSender) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, out{text: text, opt: opt, edit: ref})
	return nil
}

func (f *fakeSender) Typing(context.Context, kit.ChatTarget) {}

func (f *fakeSender) last(t *testing.T) out {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.msgs)
	return f.msgs[len(f.msgs)-1]
}

type fakeScheduler struct {
	once map[scheduler.JobID]time.Time
	cmds map[scheduler.JobID]scheduler.Command
	ran  []scheduler.JobID
	err  error
}

func (f *fakeScheduler) ScheduleOnce(id scheduler.JobID, at time.Time, cmd scheduler.Command) error {
	if f.err != nil {
		return f.err
	}
	if f.once == nil {
		f.once = map[scheduler.JobID]time.Time{}
		f.cmds = map[scheduler.JobID]scheduler.Command{}
	}
	f.once[id], f.cmds[id] = at, cmd
	return nil
}

func (f *fakeScheduler) RunNow(id scheduler.JobID) error {
	if f.err != nil {
		return f.err
	}
	f.ran = append(f.ran, id)
	return nil
}

func (f *fakeScheduler) Jobs() []scheduler.JobInfo {
	var out []scheduler.JobInfo
	for id, at := range f.once {
		out = append(out, scheduler.JobInfo{ID: id.String(), Kind: id.Kind, Next: at})
	}
	out = append(out,
		scheduler.JobInfo{ID: scheduler.DailySummaryJob(1).String(), Kind: scheduler.KindDailySummary, Next: now.Add(15 * time.Hour)},
		scheduler.JobInfo{ID: scheduler.DailySummaryJob(99).String(), Kind: scheduler.KindDailySummary, Next: now.Add(15 * time.Hour)},
	)
	return out
}

type fakeArmer struct{ users []storage.User }

func (f *fakeArmer) ArmUser(u storage.User) error {
	f.users = append(f.users, u)
	return nil
}

type fakeModel struct {
	configured bool
	reply      string
	err        error
	history    []llm.Turn
}

func (f *fakeModel) Configured() bool { return f.configured }
func (f *fakeModel) Ask(context.Context, string) (string, error) {
	return f.reply, f.err
}
func (f *fakeModel) Chat(_ context.Context, h []llm.Turn, _ string) (string, error) {
	f.history = h
	return f.reply, f.err
}

type harness struct {
	svc   *Service
	store *storage.SQLite
	send  *fakeSender
	sched *fakeScheduler
	armer *fakeArmer
	model *fakeModel
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "kosha.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	clk := clock.NewFake(now)
	norm := timeutil.NewNormalizer(time.UTC, clk)
	h := &harness{
		store: st,
		send:  &fakeSender{},
		sched: &fakeScheduler{},
		armer: &fakeArmer{},
		model: &fakeModel{configured: true},
	}
	h.svc = New(Deps{
		Store:     st,
		Scheduler: h.sched,
		Armer:     h.armer,
		Sender:    h.send,
		Model:     h.model,
		Sessions:  llm.NewSessions(time.Hour, clk.Now),
		Norm:      norm,
		Log:       logx.Nop(),
		Help:      func() string { return "<b>help</b>" },
	})
	return h
}

func cmdReq(chatID int64, args string) *router.Request {
	return &router.Request{Chat: kit.Chat(chatID), FromID: chatID, ArgText: args, Log: logx.Nop()}
}

func TestStartArmsNewUserOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.handleStart(ctx, cmdReq(10, "")))
	require.NoError(t, h.svc.handleStart(ctx, cmdReq(10, "")))
	require.Len(t, h.armer.users, 1)
	assert.Equal(t, int64(10), h.armer.users[0].ChatID)
	assert.Equal(t, welcome, h.send.last(t).text)
}

func TestRemind(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("schedules", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		require.NoError(t, h.svc.handleRemind(ctx, cmdReq(10, "in 2 hours call mom")))
		assert.Equal(t, "Reminder set for 2026-06-01 13:00: call mom", h.send.last(t).text)

		rems, err := h.store.ActiveReminders(ctx)
		require.NoError(t, err)
		require.Len(t, rems, 1)
		id := scheduler.ReminderJob(rems[0].ID)
		assert.Equal(t, now.Add(2*time.Hour), h.sched.once[id].UTC())
		assert.Equal(t, jobs.ReminderCommand{ReminderID: rems[0].ID, UserID: rems[0].UserID, ChatID: 10, Content: "call mom"}, h.sched.cmds[id])
	})

	t.Run("usage", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		require.NoError(t, h.svc.handleRemind(ctx, cmdReq(10, "")))
		assert.Equal(t, "Usage: /remind [time/date] [message]", h.send.last(t).text)
	})

	t.Run("unparseable", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		require.NoError(t, h.svc.handleRemind(ctx, cmdReq(10, "whenever feels right")))
		assert.Contains(t, h.send.last(t).text, "Could not parse")
		assert.Empty(t, h.sched.once)
	})

	t.Run("schedule failure deactivates", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.sched.err = errors.New("closed")
		require.Error(t, h.svc.handleRemind(ctx, cmdReq(10, "in 2 hours call mom")))
		rems, err := h.store.ActiveReminders(ctx)
		require.NoError(t, err)
		assert.Empty(t, rems)
	})
}

func TestJournalAndLogs(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.handleLogs(ctx, cmdReq(10, "")))
	assert.Equal(t, "No logs found for today (2026-06-01).", h.send.last(t).text)

	require.NoError(t, h.svc.handleText(ctx, cmdReq(10, "went for a <run>")))
	assert.Equal(t, "Saved to your journal!", h.send.last(t).text)

	require.NoError(t, h.svc.handleLogs(ctx, cmdReq(10, "")))
	got := h.send.last(t)
	assert.True(t, got.html)
	assert.Equal(t, "<b>Logs for today (2026-06-01):</b>\n- 11:00: went for a &lt;run&gt;", got.text)
}

func TestSummaryLookup(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.handleSummary(ctx, cmdReq(10, "yesterday")))
	assert.Equal(t, "No summary found for 2026-05-31.", h.send.last(t).text)

	u, _, err := h.store.EnsureUser(ctx, 10)
	require.NoError(t, err)
	require.NoError(t, h.store.AddSummary(ctx, u.ID, "Quiet **Sunday**.", "2026-05-31"))

	require.NoError(t, h.svc.handleSummary(ctx, cmdReq(10, "2026-05-31")))
	assert.Equal(t, "📅 <b>Summary for 2026-05-31:</b>\n\nQuiet <b>Sunday</b>.", h.send.last(t).text)

	require.NoError(t, h.svc.handleSummary(ctx, cmdReq(10, "")))
	assert.Contains(t, h.send.last(t).text, "Usage: /summary")
}

func TestTodoFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.handleTodo(ctx, cmdReq(10, "buy milk")))
	list := h.send.last(t)
	assert.Contains(t, list.text, "❌ buy milk")
	kb, ok := list.opt.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	require.True(t, ok)
	doneData := kb.InlineKeyboard[0][0].Data

	u, _, err := h.store.EnsureUser(ctx, 10)
	require.NoError(t, err)
	todos, err := h.store.TodosForDay(ctx, u.ID, "2026-06-01")
	require.NoError(t, err)
	require.Len(t, todos, 1)
	assert.Equal(t, jobs.TodoScope+":"+jobs.TodoDone+":"+itoa(todos[0].ID), doneData)

	cb := &router.Request{Chat: kit.Chat(10), MessageID: 77, Action: jobs.TodoDone, Payload: itoa(todos[0].ID), Log: logx.Nop()}
	require.NoError(t, h.svc.handleTodoCallback(ctx, cb))
	edited := h.send.last(t)
	assert.Equal(t, kit.MessageRef{ChatID: 10, MessageID: 77}, edited.edit)
	assert.Contains(t, edited.text, "✅ buy milk")

	// A todo of another chat is not touched.
	other := &router.Request{Chat: kit.Chat(20), MessageID: 5, Action: jobs.TodoDelete, Payload: itoa(todos[0].ID), Log: logx.Nop()}
	require.NoError(t, h.svc.handleTodoCallback(ctx, other))
	assert.Equal(t, "That TODO no longer exists.", other.AnswerText)
	_, err = h.store.Todo(ctx, todos[0].ID)
	require.NoError(t, err)

	del := &router.Request{Chat: kit.Chat(10), MessageID: 77, Action: jobs.TodoDelete, Payload: itoa(todos[0].ID), Log: logx.Nop()}
	require.NoError(t, h.svc.handleTodoCallback(ctx, del))
	assert.Contains(t, h.send.last(t).text, "No TODOs found for today.")
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func TestGemini(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("single question", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.model.reply = "use `go test`"
		require.NoError(t, h.svc.handleGemini(ctx, cmdReq(10, "how do I test?")))
		got := h.send.last(t)
		assert.True(t, got.html)
		assert.Equal(t, "use <code>go test</code>", got.text)
	})

	t.Run("no content apologizes", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.model.err = llm.ErrNoContent
		require.NoError(t, h.svc.handleGemini(ctx, cmdReq(10, "hm")))
		assert.Equal(t, geminiSorry, h.send.last(t).text)
	})

	t.Run("chat session routes text", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		require.NoError(t, h.svc.handleGemini(ctx, cmdReq(10, "")))
		assert.Equal(t, geminiStartedMsg, h.send.last(t).text)

		h.model.reply = "hello"
		require.NoError(t, h.svc.handleText(ctx, cmdReq(10, "hi")))
		require.NoError(t, h.svc.handleText(ctx, cmdReq(10, "again")))
		assert.Equal(t, []llm.Turn{{Role: llm.RoleUser, Text: "hi"}, {Role: llm.RoleModel, Text: "hello"}}, h.model.history)

		require.NoError(t, h.svc.handleEndGemini(ctx, cmdReq(10, "")))
		require.NoError(t, h.svc.handleText(ctx, cmdReq(10, "journal me")))
		assert.Equal(t, "Saved to your journal!", h.send.last(t).text)
	})

	t.Run("not configured", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.model.configured = false
		require.NoError(t, h.svc.handleGemini(ctx, cmdReq(10, "q")))
		assert.Equal(t, geminiOff, h.send.last(t).text)
	})
}

func TestJobsListsOnlyCallersJobs(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.handleRemind(ctx, cmdReq(10, "in 2 hours call mom")))
	require.NoError(t, h.svc.handleJobs(ctx, cmdReq(10, "")))
	got := h.send.last(t).text
	assert.Contains(t, got, "<code>2026-06-01 13:00</code> 🔔 call mom")
	assert.Contains(t, got, "🔁 daily-summary")
	assert.Equal(t, 1, strings.Count(got, "daily-summary"))
}

func TestRenderJobsPaginates(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	lines := make([]jobLine, jobsPageSize+3)
	for i := range lines {
		lines[i] = jobLine{id: scheduler.ReminderJob(int64(i)), next: "2026-06-01 12:00", label: "x"}
	}
	body, opt := h.svc.renderJobs(lines, 1)
	assert.Contains(t, body, "Page 2/2")
	kb, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	require.True(t, ok)
	assert.Equal(t, "jobs:page:0", kb.InlineKeyboard[0][0].Data)
}

func TestJobsRunNow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.handleJobs(ctx, cmdReq(10, "")))
	kb, ok := h.send.last(t).opt.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	require.True(t, ok)
	own := scheduler.DailySummaryJob(1).String()
	assert.Equal(t, "jobs:run:"+own, kb.InlineKeyboard[0][0].Data)

	run := &router.Request{Chat: kit.Chat(10), MessageID: 3, Action: jobsRun, Payload: own, Log: logx.Nop()}
	require.NoError(t, h.svc.handleJobsRun(ctx, run))
	assert.Equal(t, []scheduler.JobID{scheduler.DailySummaryJob(1)}, h.sched.ran)
	assert.Equal(t, "Started daily-summary.", h.send.last(t).text)

	foreign := &router.Request{Chat: kit.Chat(10), MessageID: 3, Action: jobsRun, Payload: scheduler.DailySummaryJob(99).String(), Log: logx.Nop()}
	require.NoError(t, h.svc.handleJobsRun(ctx, foreign))
	assert.Len(t, h.sched.ran, 1)
	assert.Equal(t, "That job is not one of yours.", h.send.last(t).text)

	bad := &router.Request{Chat: kit.Chat(10), Action: jobsRun, Payload: "garbage", Log: logx.Nop()}
	assert.Error(t, h.svc.handleJobsRun(ctx, bad))
}
