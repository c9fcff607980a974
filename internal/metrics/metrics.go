package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TextfileName is the exported metrics file inside the work directory, in the
// node_exporter textfile format.
const TextfileName = "metrics.prom"

// #region observation
// Observation is what one finished cycle reports.
type Observation struct {
	Outcome         string // commit | rollback | no_op | skipped | failed
	Duration        time.Duration
	EventsProcessed int
	FailedSources   []string
	Applied         map[string]int // per proposal kind
	Deferred        int
	Success         bool
	At              time.Time
}

// #endregion observation

// #region metrics
// Metrics holds the cycle collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	cycles         *prometheus.CounterVec
	sourceFailures *prometheus.CounterVec
	applied        *prometheus.CounterVec
	deferred       prometheus.Counter
	duration       prometheus.Histogram
	events         prometheus.Gauge
	lastSuccess    prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "learncycle",
			Name:      "cycles_total",
			Help:      "Learning cycles by outcome.",
		}, []string{"outcome"}),
		sourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "learncycle",
			Name:      "source_failures_total",
			Help:      "Proposal source failures by source.",
		}, []string{"source"}),
		applied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "learncycle",
			Name:      "changes_applied_total",
			Help:      "Committed entry changes by proposal kind.",
		}, []string{"kind"}),
		deferred: f.NewCounter(prometheus.CounterOpts{
			Namespace: "learncycle",
			Name:      "behaviors_deferred_total",
			Help:      "Behavior tunings held back for low confidence.",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "learncycle",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a learning cycle.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 120, 300},
		}),
		events: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "learncycle",
			Name:      "events_processed",
			Help:      "Session events in the last cycle's window.",
		}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "learncycle",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful cycle.",
		}),
	}
}

// Registry exposes the registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Observe folds one cycle into the collectors.
func (m *Metrics) Observe(o Observation) {
	m.cycles.WithLabelValues(o.Outcome).Inc()
	for _, s := range o.FailedSources {
		m.sourceFailures.WithLabelValues(s).Inc()
	}
	for kind, n := range o.Applied {
		if n > 0 {
			m.applied.WithLabelValues(kind).Add(float64(n))
		}
	}
	m.deferred.Add(float64(o.Deferred))
	m.duration.Observe(o.Duration.Seconds())
	m.events.Set(float64(o.EventsProcessed))
	if o.Success {
		at := o.At
		if at.IsZero() {
			at = time.Now()
		}
		m.lastSuccess.Set(float64(at.Unix()))
	}
}

// WriteTextfile writes the current values to path.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// #endregion metrics
