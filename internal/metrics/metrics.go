// Package metrics declares the process's Prometheus collectors,
// grouped and registered the way the teacher's reference stack
// (telemetry package of the broader pack) does: package-level vars,
// an All() registration helper, namespace/subsystem labeling per
// concern.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var CacheHitsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "corebac",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits by tier and consumer.",
	},
	[]string{"tier", "consumer"},
)

var CacheMissesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "corebac",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses by tier and consumer.",
	},
	[]string{"tier", "consumer"},
)

var IntrospectionDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "corebac",
		Subsystem: "introspection",
		Name:      "duration_seconds",
		Help:      "Token introspection pipeline duration in seconds.",
		Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	},
	[]string{"outcome"},
)

var IntrospectionTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "corebac",
		Subsystem: "introspection",
		Name:      "requests_total",
		Help:      "Total introspection requests by outcome.",
	},
	[]string{"outcome"},
)

var ReBACEvaluationDepth = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "corebac",
		Subsystem: "rebac",
		Name:      "evaluation_depth",
		Help:      "Recursion depth reached by a single ReBAC evaluation.",
		Buckets:   []float64{0, 1, 2, 3, 4, 5, 6, 7, 8},
	},
	[]string{"relation"},
)

var ReBACEvaluationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "corebac",
		Subsystem: "rebac",
		Name:      "evaluation_duration_seconds",
		Help:      "ReBAC evaluation wall time in seconds.",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	},
	[]string{"relation"},
)

var KeyRotationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "corebac",
		Subsystem: "keystore",
		Name:      "rotations_total",
		Help:      "Total signing key rotations by kind (scheduled, emergency).",
	},
	[]string{"kind"},
)

var CheckDecisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "corebac",
		Subsystem: "check",
		Name:      "decisions_total",
		Help:      "Total UnifiedCheckService decisions by resolving axis and outcome.",
	},
	[]string{"axis", "outcome"},
)

// All returns every collector this package declares, for registration
// against a prometheus.Registerer at startup.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		CacheHitsTotal,
		CacheMissesTotal,
		IntrospectionDuration,
		IntrospectionTotal,
		ReBACEvaluationDepth,
		ReBACEvaluationDuration,
		KeyRotationsTotal,
		CheckDecisionsTotal,
	}
}
