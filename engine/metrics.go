package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the kernel executor.
type Metrics struct {
	KernelCalls    *prometheus.CounterVec
	KernelRows     *prometheus.CounterVec
	KernelNulls    *prometheus.CounterVec
	KernelErrors   *prometheus.CounterVec
	KernelDuration *prometheus.HistogramVec

	PoolActive    prometheus.Gauge
	PoolCompleted prometheus.Gauge
	PoolFailed    prometheus.Gauge
}

// NewMetrics creates executor metrics under namespace and registers them on reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		KernelCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kernel_calls_total",
			Help:      "Total number of kernel invocations",
		}, []string{"kernel"}),
		KernelRows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kernel_rows_total",
			Help:      "Total number of input rows processed by kernels",
		}, []string{"kernel"}),
		KernelNulls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kernel_nulls_total",
			Help:      "Total number of null output slots produced by kernels",
		}, []string{"kernel"}),
		KernelErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kernel_errors_total",
			Help:      "Total number of kernel calls that failed",
		}, []string{"kernel"}),
		KernelDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kernel_duration_seconds",
			Help:      "Kernel wall time in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5, 10},
		}, []string{"kernel"}),

		PoolActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_active",
			Help:      "Number of chunk tasks currently executing",
		}),
		PoolCompleted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_completed",
			Help:      "Number of chunk tasks completed since the pool started",
		}),
		PoolFailed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_failed",
			Help:      "Number of chunk tasks failed since the pool started",
		}),
	}
}

// RecordKernel records one successful kernel call.
func (m *Metrics) RecordKernel(kernel string, rows, nulls int, duration time.Duration) {
	m.KernelCalls.WithLabelValues(kernel).Inc()
	m.KernelRows.WithLabelValues(kernel).Add(float64(rows))
	m.KernelNulls.WithLabelValues(kernel).Add(float64(nulls))
	m.KernelDuration.WithLabelValues(kernel).Observe(duration.Seconds())
}

// RecordKernelError records one failed kernel call.
func (m *Metrics) RecordKernelError(kernel string) {
	m.KernelCalls.WithLabelValues(kernel).Inc()
	m.KernelErrors.WithLabelValues(kernel).Inc()
}

// UpdatePool copies pool statistics into the gauges.
func (m *Metrics) UpdatePool(stats PoolStats) {
	m.PoolActive.Set(float64(stats.Active))
	m.PoolCompleted.Set(float64(stats.Completed))
	m.PoolFailed.Set(float64(stats.Failed))
}
