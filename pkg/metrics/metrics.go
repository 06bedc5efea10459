// Package metrics exposes applied offsets and benchmark progress in the
// Prometheus text format, written as a node_exporter textfile.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ja7ad/undervolt/pkg/benchmark"
	"github.com/ja7ad/undervolt/pkg/types"
	"github.com/ja7ad/undervolt/pkg/voltage"
)

const namespace = "undervolt"

// Exporter owns a private registry with the tool's gauges and counters.
type Exporter struct {
	registry *prometheus.Registry

	offset     *prometheus.GaugeVec
	iteration  prometheus.Gauge
	outcomes   *prometheus.CounterVec
	lastStable *prometheus.GaugeVec
}

// New returns an Exporter with every collector registered.
func New() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		offset: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "offset_millivolts",
			Help:      "Voltage offset read back from the mailbox register.",
		}, []string{"plane"}),
		iteration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "benchmark",
			Name:      "iteration",
			Help:      "Iteration of the running or last benchmark.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "benchmark",
			Name:      "outcomes_total",
			Help:      "Benchmark record lines by outcome.",
		}, []string{"outcome"}),
		lastStable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "benchmark",
			Name:      "last_stable_offset_millivolts",
			Help:      "Most negative offset that survived the stress step.",
		}, []string{"plane"}),
	}
	e.registry.MustRegister(e.offset, e.iteration, e.outcomes, e.lastStable)
	return e
}

// Gatherer exposes the registry, e.g. for tests or an HTTP handler.
func (e *Exporter) Gatherer() prometheus.Gatherer { return e.registry }

// ObserveOffsets records the current offset of each plane.
func (e *Exporter) ObserveOffsets(offsets map[voltage.Plane]types.Millivolts) {
	for p, mv := range offsets {
		e.offset.WithLabelValues(p.String()).Set(float64(mv))
	}
}

// ObserveEntry updates benchmark metrics from a record line.
func (e *Exporter) ObserveEntry(entry benchmark.Entry) {
	e.iteration.Set(float64(entry.Iteration))
	e.outcomes.WithLabelValues(string(entry.Outcome)).Inc()
	switch entry.Outcome {
	case benchmark.Attempt:
		e.ObserveOffsets(entry.Offsets)
	case benchmark.Stable:
		for p, mv := range entry.Offsets {
			e.lastStable.WithLabelValues(p.String()).Set(float64(mv))
		}
	}
}

// WriteTextfile atomically writes the current metrics to path.
func (e *Exporter) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, e.registry); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}
