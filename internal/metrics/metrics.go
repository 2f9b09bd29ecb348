// Package metrics holds the prometheus instruments for derivation runs.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes for derivation_runs_total.
const (
	OutcomeMapped      = "mapped"
	OutcomeNoMappings  = "no_mappings"
	OutcomeSkipped     = "skipped"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
)

// Upsert results for code_mappings_total.
const (
	ResultCreated   = "created"
	ResultUpdated   = "updated"
	ResultUnchanged = "unchanged"
)

// Metrics is a private registry with the derivation instruments.
type Metrics struct {
	registry *prometheus.Registry

	Runs           *prometheus.CounterVec
	FramesSkipped  *prometheus.CounterVec
	CodeMappings   *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	ResolverPasses prometheus.Histogram
}

// New creates and registers the instruments under namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "codemap"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "derivation_runs_total",
			Help:      "Derivation runs by outcome",
		}, []string{"outcome"}),

		FramesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_skipped_total",
			Help:      "Frames the extractor rejected, by error code",
		}, []string{"reason"}),

		CodeMappings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_mappings_total",
			Help:      "Derived code mappings by storage result",
		}, []string{"result"}),

		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "derivation_duration_seconds",
			Help:      "Wall time of a derivation run",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		ResolverPasses: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolver_passes",
			Help:      "Fixed-point passes per resolver run",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),
	}

	m.registry.MustRegister(m.Runs, m.FramesSkipped, m.CodeMappings, m.RunDuration, m.ResolverPasses)
	return m
}

// Registry returns the registry the instruments are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current values in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
