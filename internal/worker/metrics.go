package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fondbot",
		Subsystem: "worker",
		Name:      "active",
		Help:      "Running workers, by pool.",
	}, []string{"pool"})
	metricStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fondbot",
		Subsystem: "worker",
		Name:      "starts_total",
		Help:      "Worker start attempts, by pool and result.",
	}, []string{"pool", "result"})
	metricExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fondbot",
		Subsystem: "worker",
		Name:      "exits_total",
		Help:      "Worker exits, by pool and reason.",
	}, []string{"pool", "reason"})
	metricTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fondbot",
		Subsystem: "worker",
		Name:      "ticks_total",
		Help:      "Worker ticks, by pool and result.",
	}, []string{"pool", "result"})
)
