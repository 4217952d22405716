// Package metrics exposes Prometheus instrumentation for the verification flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsCreated counts sessions issued by the sign-in endpoint.
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agegate_sessions_created_total",
		Help: "The total number of verification sessions created.",
	})

	// Verifications counts terminal outcomes by result.
	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agegate_verifications_total",
		Help: "The total number of verification callbacks decided, by outcome.",
	}, []string{"outcome"})

	// SessionsTimedOut counts PENDING sessions expired by the janitor.
	SessionsTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agegate_sessions_timed_out_total",
		Help: "The total number of sessions that never received a callback.",
	})

	// ActiveStreams tracks open status-notifier streams (SSE and WebSocket).
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agegate_status_streams_active",
		Help: "The current number of open verify-status streams.",
	})
)
