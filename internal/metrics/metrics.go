// Package metrics holds the Prometheus collectors of the station.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "station_queue_depth",
		Help: "Serial commands waiting for the queue worker.",
	})

	QueueTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "station_queue_tasks_total",
		Help: "Serial tasks executed by the queue worker, by result.",
	}, []string{"result"})

	QueueTaskSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "station_queue_task_seconds",
		Help:    "Execution time of serial tasks.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	Polls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "station_poll_total",
		Help: "Sensor poll cycles, by device type and outcome.",
	}, []string{"device_type", "outcome"})

	Controls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "station_control_total",
		Help: "Device control requests, by action and result.",
	}, []string{"action", "result"})

	Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "station_alerts_total",
		Help: "Alert state transitions (raised, suppressed, cleared).",
	}, []string{"event"})

	AutoActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "station_auto_actions_total",
		Help: "Automatic control decisions, by outcome.",
	}, []string{"outcome"})
)
