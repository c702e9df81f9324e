// Package metrics exposes the run's results and resource readings as
// Prometheus metrics, written to a text file when the run ends.
package metrics

import (
	"fmt"
	"strings"

	"github.com/ansel1/tally/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricsNamespace = "tally"

// Recorder collects the metrics of one run in its own registry. Every metric
// carries the run ID as a constant label.
type Recorder struct {
	registry *prometheus.Registry

	testsTotal          *prometheus.CounterVec
	testDuration        *prometheus.HistogramVec
	configFailuresTotal *prometheus.CounterVec
	interleavedClasses  prometheus.Gauge
	heapBytes           prometheus.Gauge
	maxHeapBytes        prometheus.Gauge
	goroutines          prometheus.Gauge

	maxHeap uint64
}

// NewRecorder creates a recorder for the run with the given ID.
func NewRecorder(runID string) *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"run_id": runID}, registry))

	return &Recorder{
		registry: registry,
		testsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "tests_total",
			Help:      "Test invocations by class and outcome",
		}, []string{
			"class",
			"outcome",
		}),
		testDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "test_duration_seconds",
			Help:      "Duration of test invocations",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{
			"outcome",
		}),
		configFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "configuration_failures_total",
			Help:      "Setup or teardown failures by class",
		}, []string{
			"class",
		}),
		interleavedClasses: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "interleaved_classes",
			Help:      "Classes whose tests were run out of order",
		}),
		heapBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "heap_bytes",
			Help:      "Settled heap in use at the last progress line",
		}),
		maxHeapBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "heap_max_bytes",
			Help:      "Largest settled heap in use seen during the run",
		}),
		goroutines: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "goroutines",
			Help:      "Live goroutines at the last progress line",
		}),
	}
}

// Registry returns the registry holding the run's metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// outcomeLabel turns an outcome into a label value, e.g. "success_percentage_failure".
func outcomeLabel(o ledger.Outcome) string {
	s := strings.ToLower(o.String())
	s = strings.Trim(s, "<>")
	return strings.ReplaceAll(s, " ", "_")
}

// ObserveResult counts one recorded invocation.
func (r *Recorder) ObserveResult(rec ledger.Record) {
	outcome := outcomeLabel(rec.Outcome)
	r.testsTotal.WithLabelValues(rec.Class, outcome).Inc()
	r.testDuration.WithLabelValues(outcome).Observe(rec.Duration().Seconds())
}

// ObserveConfigurationFailure counts a setup or teardown failure.
func (r *Recorder) ObserveConfigurationFailure(class string) {
	r.configFailuresTotal.WithLabelValues(class).Inc()
}

// ObserveInterleaved sets the number of interleaved classes.
func (r *Recorder) ObserveInterleaved(n int) {
	r.interleavedClasses.Set(float64(n))
}

// ObserveMemory records a settled heap reading. Readings arrive one at a
// time from the progress sampler.
func (r *Recorder) ObserveMemory(bytes uint64) {
	r.heapBytes.Set(float64(bytes))
	if bytes > r.maxHeap {
		r.maxHeap = bytes
		r.maxHeapBytes.Set(float64(bytes))
	}
}

// ObserveGoroutines records the live goroutine count.
func (r *Recorder) ObserveGoroutines(n int) {
	r.goroutines.Set(float64(n))
}

// WriteFile writes every metric to path in the Prometheus text format,
// ready for the node exporter's textfile collector.
func (r *Recorder) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}
