// Package metrics holds the process-wide Prometheus collectors.
//
// Collectors are package-level so leaf packages can observe without plumbing a
// registry through every constructor. Nothing is exported until Register is
// called on a registry (app does this when metrics are enabled).
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "webui"

var (
	// SessionEvents counts session lifecycle transitions by event
	// (created, rotated, closed, logout, reaped).
	SessionEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "events_total",
		Help:      "Session lifecycle events.",
	}, []string{"event"})

	// CommandDuration observes subprocess wall time by program and outcome
	// (ok, fail, timeout).
	CommandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "command",
		Name:      "duration_seconds",
		Help:      "Subprocess run time.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"program", "outcome"})

	// WorkspaceOps counts workspace operations by operation and outcome.
	WorkspaceOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workspace",
		Name:      "operations_total",
		Help:      "Workspace operations by outcome.",
	}, []string{"op", "outcome"})

	// HTTPRequests counts served requests by method and status class (2xx, 4xx, ...).
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by status class.",
	}, []string{"method", "class"})

	// HTTPDuration observes request latency by status class.
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"class"})

	// IndexPackages reports how many packages the package index currently holds.
	IndexPackages = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pkgindex",
		Name:      "packages",
		Help:      "Packages loaded in the package index.",
	})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		SessionEvents,
		CommandDuration,
		WorkspaceOps,
		HTTPRequests,
		HTTPDuration,
		IndexPackages,
	}
}

// Register adds every collector to reg. Registering twice on the same
// registry is not an error.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
