package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CommandsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger_worker",
			Name:      "commands_received_total",
			Help:      "Command messages pulled by the worker",
		},
		[]string{"topic"},
	)

	CommandsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger_worker",
			Name:      "commands_processed_total",
			Help:      "Commands answered with ok:true, duplicates excluded",
		},
		[]string{"type"},
	)

	CommandsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger_worker",
			Name:      "commands_failed_total",
			Help:      "Commands answered with ok:false by error category",
		},
		[]string{"type", "code"},
	)

	CommandsDuplicate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger_worker",
			Name:      "commands_duplicate_total",
			Help:      "Redelivered commands short-circuited by the idempotency ledger",
		},
		[]string{"type"},
	)

	ProcessLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ledger_worker",
			Name:      "command_duration_seconds",
			Help:      "Routing latency per command, transaction included",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	InflightCommands = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ledger_worker",
			Name:      "inflight_commands",
			Help:      "Commands currently being processed (semaphore depth)",
		},
	)

	RepliesUnacked = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ledger_worker",
			Name:      "commands_unacked_total",
			Help:      "Messages left unacknowledged because no envelope could be produced",
		},
	)

	DLQPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger_worker",
			Name:      "dlq_total",
			Help:      "Replies sent to the DLQ by reason",
		},
		[]string{"reason"},
	)

	VerificationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ledger_worker",
			Name:      "verification_duration_seconds",
			Help:      "Identity verification round trip",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	VerificationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger_worker",
			Name:      "verification_outcomes_total",
			Help:      "Identity verification results: valid, invalid, timeout, throttled, error",
		},
		[]string{"outcome"},
	)
)
