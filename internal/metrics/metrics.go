// Package metrics holds the agent's prometheus collectors. They are exposed on
// the loopback API at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lastmile",
		Subsystem: "queue",
		Name:      "outcomes_total",
		Help:      "Queue entry delivery outcomes (synced, failed, retry, requeued).",
	}, []string{"outcome"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lastmile",
		Subsystem: "queue",
		Name:      "entries",
		Help:      "Queue entries by status.",
	}, []string{"status"})

	DrainRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lastmile",
		Subsystem: "queue",
		Name:      "drains_total",
		Help:      "Drain runs by result (completed, aborted, collapsed).",
	}, []string{"result"})

	GeocodeLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lastmile",
		Subsystem: "geocode",
		Name:      "lookups_total",
		Help:      "Geocode cache lookups by result (hit, negative, miss).",
	}, []string{"result"})

	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lastmile",
		Subsystem: "provider",
		Name:      "requests_total",
		Help:      "Requests to geocoding/routing providers by outcome.",
	}, []string{"provider", "outcome"})

	CarrierRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lastmile",
		Subsystem: "carrier",
		Name:      "requests_total",
		Help:      "Carrier API calls by operation and error kind.",
	}, []string{"op", "kind"})
)
