// Package observability bundles process-wide telemetry: Prometheus metrics
// for the message pipeline and OpenTelemetry tracing setup. HTTP-level
// metrics live in the transport middleware; the collectors here count domain
// events so dashboards can follow the reply pipeline end to end.
package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// WebhookEvents counts inbound provider push events by event name.
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total number of provider push events received, by event.",
		},
		[]string{"event"},
	)

	// RepliesGenerated counts completed model replies by outcome
	// (ok, fallback, wait, error).
	RepliesGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replies_generated_total",
			Help: "Total number of automated replies, by outcome.",
		},
		[]string{"outcome"},
	)

	// SegmentsSent counts outbound segments delivered to the provider.
	SegmentsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_segments_sent_total",
			Help: "Total number of outbound segments delivered.",
		},
	)

	// DeliveriesFailed counts replies that exhausted their send retries.
	DeliveriesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_failures_total",
			Help: "Total number of replies that failed delivery.",
		},
	)

	// EntitiesReconciled counts upserted mirror rows by entity kind.
	EntitiesReconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_entities_total",
			Help: "Total number of reconciled entity upserts, by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		WebhookEvents,
		RepliesGenerated,
		SegmentsSent,
		DeliveriesFailed,
		EntitiesReconciled,
	)
}
