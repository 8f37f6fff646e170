// Package metrics defines the process-wide Prometheus collectors. Exposed on
// /metrics by the tuner server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveStreams tracks live proxied sessions per account.
	ActiveStreams = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "xtuner",
		Subsystem: "gateway",
		Name:      "active_streams",
		Help:      "Currently proxied streams per account.",
	}, []string{"account"})

	// AdmissionRejects counts requests turned away at the connection limit.
	AdmissionRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xtuner",
		Subsystem: "gateway",
		Name:      "admission_rejects_total",
		Help:      "Stream requests rejected because the account connection limit was reached.",
	}, []string{"account"})

	// Failovers counts upstream attempts that fell through to the next
	// mapping in the chain.
	Failovers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "xtuner",
		Subsystem: "gateway",
		Name:      "failovers_total",
		Help:      "Upstream failures that advanced the failover chain.",
	})

	// UpstreamAuthFailures counts provider credential rejections.
	UpstreamAuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "xtuner",
		Subsystem: "gateway",
		Name:      "upstream_auth_failures_total",
		Help:      "Upstream responses that rejected account credentials.",
	})

	// MatcherRuns counts completed rematch batches.
	MatcherRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "xtuner",
		Subsystem: "matcher",
		Name:      "runs_total",
		Help:      "Completed channel rematch batches.",
	})

	// MatcherDuration observes wall-clock time of rematch batches.
	MatcherDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "xtuner",
		Subsystem: "matcher",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of rematch batches.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})
)
