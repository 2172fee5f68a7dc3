// Package metrics exposes Prometheus collectors fed from the event bus.
package metrics

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kosha/internal/eventbus"
	"kosha/internal/llm"
	"kosha/internal/notifier"
	"kosha/internal/task/engine"
)

const namespace = "kosha"

type Metrics struct {
	Registry *prometheus.Registry

	tasksTotal      *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	tasksRunning    prometheus.Gauge
	schedulerEvents *prometheus.CounterVec
	recovery        *prometheus.CounterVec
	messages        *prometheus.CounterVec
	llmRequests     *prometheus.CounterVec
	llmDuration     *prometheus.HistogramVec
	configReloads   prometheus.Counter
}

// New registers every collector on a fresh registry, plus the Go and
// process collectors. dropped may be nil.
func New(dropped func() uint64) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Task runs by job kind and outcome.",
		}, []string{"kind", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of completed task runs.",
			Buckets:   []float64{.05, .1, .5, 1, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_running",
			Help:      "Task runs currently in progress.",
		}),
		schedulerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_events_total",
			Help:      "Registrations, removals and misfires by job kind.",
		}, []string{"event", "kind"}),
		recovery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_reminders_total",
			Help:      "Reminders handled at startup by outcome.",
		}, []string{"outcome"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Outbound messages by outcome.",
		}, []string{"outcome"}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Gemini requests by model and outcome.",
		}, []string{"model", "outcome"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Gemini request latency including retries.",
			Buckets:   []float64{.25, .5, 1, 2, 5, 10, 30, 60},
		}, []string{"model"}),
		configReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Applied configuration reloads.",
		}),
	}
	reg.MustRegister(
		m.tasksTotal, m.taskDuration, m.tasksRunning, m.schedulerEvents,
		m.recovery, m.messages, m.llmRequests, m.llmDuration, m.configReloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if dropped != nil {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eventbus_dropped_total",
			Help:      "Events lost to slow subscribers.",
		}, func() float64 { return float64(dropped()) }))
	}
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Run consumes bus events until ctx ends.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}

// Observe records one event. Unknown types are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TaskStarted:
		m.tasksRunning.Inc()
	case eventbus.TaskFinished, eventbus.TaskFailed:
		m.tasksRunning.Dec()
		if ev, ok := e.Data.(engine.TaskEvent); ok {
			outcome := "ok"
			if e.Type == eventbus.TaskFailed {
				outcome = "error"
			}
			m.tasksTotal.WithLabelValues(ev.Kind, outcome).Inc()
			m.taskDuration.WithLabelValues(ev.Kind).Observe(ev.Duration.Seconds())
		}
	case eventbus.TaskSkipped, eventbus.TaskRetried:
		if ev, ok := e.Data.(engine.TaskEvent); ok {
			m.tasksTotal.WithLabelValues(ev.Kind, strings.TrimPrefix(e.Type, "task.")).Inc()
		}
	case eventbus.JobScheduled, eventbus.JobMisfired, eventbus.JobRemoved:
		id, _ := e.Data.(string)
		kind, _, _ := strings.Cut(id, ":")
		m.schedulerEvents.WithLabelValues(strings.TrimPrefix(e.Type, "scheduler."), kind).Inc()
	case eventbus.RecoveryMissed, eventbus.RecoveryRearmed:
		m.recovery.WithLabelValues(strings.TrimPrefix(e.Type, "recovery.")).Inc()
	case eventbus.NotifierSent:
		m.messages.WithLabelValues("sent").Inc()
	case eventbus.NotifierFailed:
		outcome := "failed"
		if ev, ok := e.Data.(notifier.DeliveryEvent); ok && ev.Undeliverable {
			outcome = "undeliverable"
		}
		m.messages.WithLabelValues(outcome).Inc()
	case eventbus.LLMRequest:
		if ev, ok := e.Data.(llm.RequestEvent); ok {
			m.llmRequests.WithLabelValues(ev.Model, ev.Outcome).Inc()
			m.llmDuration.WithLabelValues(ev.Model).Observe(ev.Duration.Seconds())
		}
	case eventbus.ConfigReloaded:
		m.configReloads.Inc()
	}
}
