package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// executionsTotal tracks finished workflow executions by outcome
	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubflow_executions_total",
			Help: "Total finished workflow executions by status",
		},
		[]string{"status"},
	)

	// executionRetries tracks run-level retry attempts
	executionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pubflow_execution_retries_total",
			Help: "Total workflow execution retry attempts",
		},
	)

	// publicationsTotal tracks finished publications by outcome
	publicationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubflow_publications_total",
			Help: "Total finished publications by status",
		},
		[]string{"status"},
	)

	// channelPublishes tracks per-channel publish outcomes by platform
	channelPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubflow_channel_publishes_total",
			Help: "Total per-channel publish attempts by platform and status",
		},
		[]string{"platform", "status"},
	)

	// schedulerFires tracks cron task fires by result
	schedulerFires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubflow_scheduler_fires_total",
			Help: "Total scheduled task fires by result",
		},
		[]string{"result"},
	)

	// tasksDisabled tracks auto-disabled tasks
	tasksDisabled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pubflow_tasks_disabled_total",
			Help: "Total tasks auto-disabled after repeated failures",
		},
	)

	// evictionsTotal tracks retention evictions by record kind
	evictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubflow_evictions_total",
			Help: "Total records evicted past retention by kind",
		},
		[]string{"kind"},
	)
)

func recordExecution(status string) {
	executionsTotal.WithLabelValues(status).Inc()
}

func recordPublication(status string) {
	publicationsTotal.WithLabelValues(status).Inc()
}

func recordChannelPublish(platform string, success bool) {
	if success {
		channelPublishes.WithLabelValues(platform, "ok").Inc()
	} else {
		channelPublishes.WithLabelValues(platform, "error").Inc()
	}
}

func recordFire(success bool) {
	if success {
		schedulerFires.WithLabelValues("ok").Inc()
	} else {
		schedulerFires.WithLabelValues("error").Inc()
	}
}

func recordEviction(kind string) {
	evictionsTotal.WithLabelValues(kind).Inc()
}
