package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the kernel engine.
type Metrics struct {
	config MetricsConfig

	// Launch metrics
	launchesStarted   *prometheus.CounterVec
	launchesCompleted *prometheus.CounterVec
	launchDuration    *prometheus.HistogramVec

	// Provisioning metrics
	provisionsTotal   *prometheus.CounterVec
	provisionDuration *prometheus.HistogramVec

	// Resolution metrics
	resolutionsTotal    *prometheus.CounterVec
	interpreterInstalls prometheus.Counter

	// Mutation metrics
	mutationsTotal   *prometheus.CounterVec
	mutationDuration *prometheus.HistogramVec

	// Builder metrics
	builderCalls    *prometheus.CounterVec
	builderDuration *prometheus.HistogramVec
	builderErrors   *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// System metrics
	activeKernels   prometheus.Gauge
	registryEntries prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		launchesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "launches_started_total",
				Help:      "Total number of kernel launches started",
			},
			[]string{"kernel"},
		),
		launchesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "launches_completed_total",
				Help:      "Total number of kernel launches completed, by terminal path",
			},
			[]string{"via"},
		),
		launchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "launch_duration_seconds",
				Help:      "Kernel session lifetime in seconds",
				Buckets:   buckets,
			},
			[]string{"via"},
		),

		provisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provisions_total",
				Help:      "Total number of environment provisioning attempts",
			},
			[]string{"status"},
		),
		provisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provision_duration_seconds",
				Help:      "Environment build duration in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		resolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Total number of interpreter resolutions",
			},
			[]string{"kind", "status"},
		),
		interpreterInstalls: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interpreter_installs_total",
				Help:      "Total number of interpreter acquisitions triggered by resolution misses",
			},
		),

		mutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "Total number of dependency mutations",
			},
			[]string{"strategy", "status"},
		),
		mutationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "mutation_duration_seconds",
				Help:      "Dependency mutation duration in seconds",
				Buckets:   buckets,
			},
			[]string{"strategy"},
		),

		builderCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builder_calls_total",
				Help:      "Total number of environment builder invocations",
			},
			[]string{"operation"},
		),
		builderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "builder_call_duration_seconds",
				Help:      "Duration of environment builder invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		builderErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builder_errors_total",
				Help:      "Total number of environment builder errors",
			},
			[]string{"operation"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		activeKernels: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_kernels",
				Help:      "Current number of running kernel sessions",
			},
		),
		registryEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registry_entries",
				Help:      "Current number of installed kernelspecs",
			},
		),
	}

	registry.MustRegister(
		m.launchesStarted,
		m.launchesCompleted,
		m.launchDuration,
		m.provisionsTotal,
		m.provisionDuration,
		m.resolutionsTotal,
		m.interpreterInstalls,
		m.mutationsTotal,
		m.mutationDuration,
		m.builderCalls,
		m.builderDuration,
		m.builderErrors,
		m.errorsByClass,
		m.errorsByCode,
		m.activeKernels,
		m.registryEntries,
	)

	return m, nil
}

// Launch metrics

// RecordLaunchStarted increments the counter for started launches.
func (m *Metrics) RecordLaunchStarted(kernel string) {
	if m.launchesStarted == nil {
		return
	}
	m.launchesStarted.WithLabelValues(kernel).Inc()
	m.activeKernels.Inc()
}

// RecordLaunchCompleted records a terminated launch with its terminal path
// and session lifetime.
func (m *Metrics) RecordLaunchCompleted(via string, lifetime time.Duration) {
	if m.launchesCompleted == nil {
		return
	}
	m.launchesCompleted.WithLabelValues(via).Inc()
	m.launchDuration.WithLabelValues(via).Observe(lifetime.Seconds())
	m.activeKernels.Dec()
}

// Provisioning metrics

// RecordProvision records an environment build attempt.
func (m *Metrics) RecordProvision(status string, duration time.Duration) {
	if m.provisionsTotal == nil {
		return
	}
	m.provisionsTotal.WithLabelValues(status).Inc()
	m.provisionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Resolution metrics

// RecordResolution records an interpreter resolution attempt.
func (m *Metrics) RecordResolution(kind, status string) {
	if m.resolutionsTotal == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(kind, status).Inc()
}

// RecordInterpreterInstall records an interpreter acquisition.
func (m *Metrics) RecordInterpreterInstall() {
	if m.interpreterInstalls == nil {
		return
	}
	m.interpreterInstalls.Inc()
}

// Mutation metrics

// RecordMutation records a dependency mutation with its strategy and outcome.
func (m *Metrics) RecordMutation(strategy, status string, duration time.Duration) {
	if m.mutationsTotal == nil {
		return
	}
	m.mutationsTotal.WithLabelValues(strategy, status).Inc()
	m.mutationDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// Builder metrics

// RecordBuilderCall records a builder invocation with its duration.
func (m *Metrics) RecordBuilderCall(operation string, duration time.Duration) {
	if m.builderCalls == nil {
		return
	}
	m.builderCalls.WithLabelValues(operation).Inc()
	m.builderDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBuilderError records a builder error.
func (m *Metrics) RecordBuilderError(operation string) {
	if m.builderErrors == nil {
		return
	}
	m.builderErrors.WithLabelValues(operation).Inc()
}

// Error metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// System metrics

// SetActiveKernels sets the current number of running sessions.
func (m *Metrics) SetActiveKernels(count float64) {
	if m.activeKernels == nil {
		return
	}
	m.activeKernels.Set(count)
}

// SetRegistryEntries sets the current number of installed kernelspecs.
func (m *Metrics) SetRegistryEntries(count float64) {
	if m.registryEntries == nil {
		return
	}
	m.registryEntries.Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
