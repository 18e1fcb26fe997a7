package cities

import (
	"github.com/next-exp/cities_go/pkg/dataflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus counters cities update while running.
type Metrics struct {
	namespace string
	registry  *prometheus.Registry

	events      *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
}

// MetricsOption applies a configuration option to Metrics.
type MetricsOption func(*Metrics)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) MetricsOption {
	return func(m *Metrics) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithRegistry registers the metrics on registry instead of a private one.
func WithRegistry(registry *prometheus.Registry) MetricsOption {
	return func(m *Metrics) {
		if registry != nil {
			m.registry = registry
		}
	}
}

func NewMetrics(opts ...MetricsOption) *Metrics {
	m := &Metrics{namespace: "cities"}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}

	auto := promauto.With(m.registry)
	m.events = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "events_total",
		Help:      "Events that went through a counting point of a city pipeline",
	}, []string{"city", "stage"})
	m.runs = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "runs_total",
		Help:      "City runs by outcome",
	}, []string{"city", "status"})
	m.runDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of city runs",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"city"})
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CountStage counts every event passing through it under the given stage
// label.
func (m *Metrics) CountStage(city string, stage string) dataflow.Stage[Event] {
	counter := m.events.WithLabelValues(city, stage)
	return dataflow.Spy(func(Event) { counter.Inc() })
}

func (m *Metrics) observeRun(city string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.runs.WithLabelValues(city, status).Inc()
	m.runDuration.WithLabelValues(city).Observe(seconds)
}

// WriteToTextfile dumps the current values in the text exposition format,
// for the node exporter textfile collector.
func (m *Metrics) WriteToTextfile(filename string) error {
	return prometheus.WriteToTextfile(filename, m.registry)
}

var metrics = NewMetrics()

func GetMetrics() *Metrics {
	return metrics
}

func SetMetrics(m *Metrics) {
	if m == nil {
		m = NewMetrics()
	}
	metrics = m
}
