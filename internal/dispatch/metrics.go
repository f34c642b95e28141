package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fondbot",
		Name:      "updates_total",
		Help:      "Inbound updates handled by the dispatcher, by kind.",
	}, []string{"kind"})
	metricDenied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fondbot",
		Name:      "updates_denied_total",
		Help:      "Updates rejected by the safety guard.",
	})
	metricPluginFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fondbot",
		Name:      "plugin_failures_total",
		Help:      "Plugin invocations that returned an error or panicked.",
	}, []string{"plugin", "reason"})
	metricBypassed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fondbot",
		Name:      "plugin_bypassed_total",
		Help:      "Plugin invocations skipped because an earlier plugin set bypass.",
	}, []string{"plugin"})
	metricTasks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fondbot",
		Name:      "posted_tasks_total",
		Help:      "Tasks posted to the dispatch loop by timers and workers.",
	})
)
