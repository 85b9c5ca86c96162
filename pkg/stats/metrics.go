package stats

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "classtap"

type metrics struct {
	registry   *prometheus.Registry
	events     prometheus.Counter
	ignored    prometheus.Counter
	outcomes   *prometheus.CounterVec
	opcodes    *prometheus.CounterVec
	violations prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "class_events_total",
			Help:      "Class-definition events received.",
		}),
		ignored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "class_events_ignored_total",
			Help:      "Built-in class events skipped before capture.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "class_outcomes_total",
			Help:      "Classified class-definition events by attribution.",
		}, []string{"outcome", "generator"}),
		opcodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callsite_opcodes_total",
			Help:      "Instructions at unattributed class-definition call sites.",
		}, []string{"opcode"}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_invariant_violations_total",
			Help:      "Events that did not move the outcome sum by exactly one.",
		}),
	}
	m.registry.MustRegister(m.events, m.ignored, m.outcomes, m.opcodes, m.violations)
	return m
}

// Registry exposes the Prometheus mirror of the counters.
func (a *Aggregator) Registry() *prometheus.Registry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics.registry
}

// WriteTextfile writes the counters in the Prometheus text format, suitable
// for a node exporter textfile collector.
func (a *Aggregator) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, a.Registry()); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
