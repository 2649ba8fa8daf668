package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Domain metrics for the messaging pipeline. Label values are drawn from small
// fixed sets (queue names, outcomes, intents, windows).
var (
	// JobsProcessed counts job executions by queue and outcome
	// (completed, retried, failed).
	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_jobs_processed_total",
			Help: "Jobs processed by queue and outcome.",
		},
		[]string{"queue", "outcome"},
	)

	// JobDuration records handler run time per queue.
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_job_duration_seconds",
			Help:    "Duration of job handler executions in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	// DuplicatesSuppressed counts actions skipped as duplicates, by kind
	// (outbound, inbound).
	DuplicatesSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_duplicates_suppressed_total",
			Help: "Sends and webhooks suppressed as duplicates.",
		},
		[]string{"kind"},
	)

	// QuotaRefusals counts sends refused by the quota manager, by window.
	QuotaRefusals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_quota_refusals_total",
			Help: "Sends refused for quota reasons, by window.",
		},
		[]string{"window"},
	)

	// IntentsClassified counts inbound messages by detected intent.
	IntentsClassified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_intents_classified_total",
			Help: "Inbound messages by classified intent.",
		},
		[]string{"intent"},
	)

	// DeadLettered counts jobs moved to the dead-letter store, by source queue.
	DeadLettered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_dead_lettered_total",
			Help: "Exhausted jobs recorded in the dead-letter store.",
		},
		[]string{"queue"},
	)
)

func init() {
	prometheus.MustRegister(JobsProcessed, JobDuration, DuplicatesSuppressed, QuotaRefusals, IntentsClassified, DeadLettered)
}
