package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instrumentation exercised by the router tiers,
// tool registry, and search node. Wired per SPEC_FULL.md §11 domain stack.
type Metrics struct {
	ToolEventsTotal     *prometheus.CounterVec
	RouterTierTotal     *prometheus.CounterVec
	SearchIterations    prometheus.Histogram
	ReplanCount         prometheus.Histogram
}

// NewMetrics registers and returns a Metrics bundle against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the global
// DefaultRegisterer across test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ToolEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_tool_events_total",
			Help: "Count of tool lifecycle events by kind and tool name.",
		}, []string{"kind", "tool"}),
		RouterTierTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_router_tier_total",
			Help: "Count of turns handled by each router tier.",
		}, []string{"tier", "decision"}),
		SearchIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orchestrator_search_iterations",
			Help:    "Number of search iterations performed per turn.",
			Buckets: prometheus.LinearBuckets(0, 1, 6),
		}),
		ReplanCount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orchestrator_replan_count",
			Help:    "Number of replans performed per turn.",
			Buckets: prometheus.LinearBuckets(0, 1, 4),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ToolEventsTotal, m.RouterTierTotal, m.SearchIterations, m.ReplanCount)
	}
	return m
}
