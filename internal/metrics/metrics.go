// Package metrics holds the Prometheus collectors for the race service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry
	once     sync.Once
)

var (
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "splitsio",
		Subsystem: "races",
		Name:      "commands_total",
		Help:      "Race commands handled, by command and outcome",
	}, []string{"command", "outcome"})
	CommandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "splitsio",
		Subsystem: "races",
		Name:      "command_duration_seconds",
		Help:      "Time spent handling a race command, including the race lock wait",
		Buckets:   prometheus.DefBuckets,
	}, []string{"command"})
	BroadcastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "splitsio",
		Subsystem: "races",
		Name:      "broadcasts_total",
		Help:      "Messages fanned out, by scope and message type",
	}, []string{"scope", "type"})
	DroppedMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "splitsio",
		Subsystem: "races",
		Name:      "dropped_messages_total",
		Help:      "Messages dropped because a subscriber's buffer was full",
	})
	TasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "splitsio",
		Subsystem: "scheduler",
		Name:      "tasks_total",
		Help:      "Scheduled race tasks fired, by kind and outcome",
	}, []string{"kind", "outcome"})
	TaskLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "splitsio",
		Subsystem: "scheduler",
		Name:      "task_lag_seconds",
		Help:      "Delay between a task's deadline and its firing",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})
	Subscribers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "splitsio",
		Subsystem: "races",
		Name:      "subscribers",
		Help:      "Live websocket subscribers, by scope",
	}, []string{"scope"})
)

// InitRegistry builds the process registry once and registers every collector on it.
func InitRegistry() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			CommandsTotal,
			CommandDuration,
			BroadcastsTotal,
			DroppedMessagesTotal,
			TasksTotal,
			TaskLag,
			Subscribers,
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		)
	})
	return registry
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(InitRegistry(), promhttp.HandlerOpts{})
}

// RecordCommand counts one handled command.
func RecordCommand(command, outcome string, took time.Duration) {
	CommandsTotal.WithLabelValues(command, outcome).Inc()
	CommandDuration.WithLabelValues(command).Observe(took.Seconds())
}

func RecordBroadcast(scope, msgType string) {
	BroadcastsTotal.WithLabelValues(scope, msgType).Inc()
}

func RecordDropped() {
	DroppedMessagesTotal.Inc()
}

// RecordTask counts one task firing and how late it fired.
func RecordTask(kind, outcome string, lag time.Duration) {
	TasksTotal.WithLabelValues(kind, outcome).Inc()
	if lag > 0 {
		TaskLag.Observe(lag.Seconds())
	}
}

func SubscriberAdded(scope string) {
	Subscribers.WithLabelValues(scope).Inc()
}

func SubscriberRemoved(scope string) {
	Subscribers.WithLabelValues(scope).Dec()
}
