package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DocumentEventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docrules_document_events_received_total",
		Help: "Total number of document events received, labelled by trigger type.",
	}, []string{"trigger"})

	DocumentEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docrules_document_events_dropped_total",
		Help: "Total number of document events rejected due to a full queue or a bad payload.",
	})

	RuleExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docrules_rule_executions_total",
		Help: "Total number of rule executions, labelled by trigger type and outcome.",
	}, []string{"trigger", "outcome"})

	ActionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docrules_actions_executed_total",
		Help: "Total number of actions executed, labelled by type and status.",
	}, []string{"action_type", "status"})

	RuleExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docrules_rule_execution_duration_ms",
		Help:    "Latency of running one rule against one document in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	ScheduledRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docrules_scheduled_runs_total",
		Help: "Total number of scheduled rule runs, labelled by status (ok, failed, disabled).",
	}, []string{"status"})

	ScheduledDocumentsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docrules_scheduled_documents_processed_total",
		Help: "Total number of candidate documents processed by scheduled rules.",
	})

	SchedulerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docrules_scheduler_tick_duration_ms",
		Help:    "Duration of one scheduler poll in milliseconds.",
		Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 15000, 60000},
	})

	DueRules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docrules_scheduler_due_rules",
		Help: "Number of scheduled rules found due at the last poll.",
	})

	EventQueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docrules_event_queue_utilization",
		Help: "Fraction of the document event queue currently occupied (0-1).",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docrules_http_requests_total",
		Help: "Total number of admin API requests, labelled by route pattern and status code.",
	}, []string{"route", "code"})
)
