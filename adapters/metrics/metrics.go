// Package metrics provides Prometheus metrics collection for the model layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name unless another namespace is given.
const DefaultNamespace = "cmsodm"

// Collector holds all Prometheus metrics for the model layer.
// Every recording method is safe to call on a nil *Collector.
type Collector struct {
	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Validation metrics
	ValidationFailures  *prometheus.CounterVec
	UniquenessConflicts *prometheus.CounterVec

	// Cascade metrics
	CascadeActions *prometheus.CounterVec

	// Lifecycle metrics
	ModelsInitialized prometheus.Gauge
}

// New creates a new metrics collector registered with the default registry.
func New(namespace string) *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer, namespace)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer, namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Collector{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of model operations",
			},
			[]string{"collection", "op", "outcome"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Model operation duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"collection", "op"},
		),
		ValidationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_failures_total",
				Help:      "Total number of rejected documents by failing item",
			},
			[]string{"collection", "field"},
		),
		UniquenessConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uniqueness_conflicts_total",
				Help:      "Total number of writes rejected by the uniqueness check",
			},
			[]string{"collection"},
		),
		CascadeActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cascade_actions_total",
				Help:      "Documents touched by delete cascades",
			},
			[]string{"collection", "action"},
		),
		ModelsInitialized: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "models_initialized",
				Help:      "Number of models with an initialized collection",
			},
		),
	}
}

// Outcome labels an operation result.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveOperation records a finished operation.
func (c *Collector) ObserveOperation(collection, op string, start time.Time, err error) {
	if c == nil {
		return
	}
	c.OperationsTotal.WithLabelValues(collection, op, Outcome(err)).Inc()
	c.OperationDuration.WithLabelValues(collection, op).Observe(time.Since(start).Seconds())
}

// ValidationFailed records a document rejected by field.
func (c *Collector) ValidationFailed(collection, field string) {
	if c == nil {
		return
	}
	c.ValidationFailures.WithLabelValues(collection, field).Inc()
}

// UniquenessConflict records a write rejected by the uniqueness check.
func (c *Collector) UniquenessConflict(collection string) {
	if c == nil {
		return
	}
	c.UniquenessConflicts.WithLabelValues(collection).Inc()
}

// Cascade records n documents touched by a cascade action
// ("delete", "nullify" or "pull").
func (c *Collector) Cascade(collection, action string, n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.CascadeActions.WithLabelValues(collection, action).Add(float64(n))
}

// ModelInitialized records a model whose collection is ready.
func (c *Collector) ModelInitialized() {
	if c == nil {
		return
	}
	c.ModelsInitialized.Inc()
}
