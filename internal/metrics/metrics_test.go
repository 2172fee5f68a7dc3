package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kosha/internal/eventbus"
	"kosha/internal/llm"
	"kosha/internal/notifier"
	"kosha/internal/task/engine"
)

func TestObserveTasks(t *testing.T) {
	t.Parallel()
	m := New(nil)

	m.Observe(eventbus.Event{Type: eventbus.TaskStarted, Data: engine.TaskEvent{Kind: "reminder"}})
	m.Observe(eventbus.Event{Type: eventbus.TaskStarted, Data: engine.TaskEvent{Kind: "reminder"}})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tasksRunning))

	m.Observe(eventbus.Event{Type: eventbus.TaskFinished, Data: engine.TaskEvent{Kind: "reminder", Duration: time.Second}})
	m.Observe(eventbus.Event{Type: eventbus.TaskFailed, Data: engine.TaskEvent{Kind: "reminder"}})
	m.Observe(eventbus.Event{Type: eventbus.TaskSkipped, Data: engine.TaskEvent{Kind: "daily-summary"}})

	assert.Equal(t, 0.0, testutil.ToFloat64(m.tasksRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksTotal.WithLabelValues("reminder", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksTotal.WithLabelValues("reminder", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksTotal.WithLabelValues("daily-summary", "skipped")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.taskDuration))
}

func TestObserveDeliveryAndLLM(t *testing.T) {
	t.Parallel()
	m := New(func() uint64 { return 3 })

	m.Observe(eventbus.Event{Type: eventbus.NotifierSent, Data: notifier.DeliveryEvent{}})
	m.Observe(eventbus.Event{Type: eventbus.NotifierFailed, Data: notifier.DeliveryEvent{Undeliverable: true}})
	m.Observe(eventbus.Event{Type: eventbus.NotifierFailed, Data: notifier.DeliveryEvent{}})
	m.Observe(eventbus.Event{Type: eventbus.LLMRequest, Data: llm.RequestEvent{Model: "gemini-2.5-flash", Outcome: "ok", Duration: 2 * time.Second}})
	m.Observe(eventbus.Event{Type: eventbus.JobScheduled, Data: "reminder:7"})
	m.Observe(eventbus.Event{Type: eventbus.RecoveryMissed})
	m.Observe(eventbus.Event{Type: "unknown"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("undeliverable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmRequests.WithLabelValues("gemini-2.5-flash", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.schedulerEvents.WithLabelValues("scheduled", "reminder")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recovery.WithLabelValues("missed")))

	n, err := testutil.GatherAndCount(m.Registry, "kosha_eventbus_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunConsumesBus(t *testing.T) {
	t.Parallel()
	m := New(nil)
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx, bus)
		close(done)
	}()

	require.Eventually(t, func() bool {
		eventbus.Emit(bus, eventbus.ConfigReloaded, nil)
		return testutil.ToFloat64(m.configReloads) > 0
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
