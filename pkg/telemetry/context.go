package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry aggregates all telemetry components for the engine.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for the telemetry instance.
type telemetryContextKey struct{}

// NewTelemetry creates a complete telemetry setup from the configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext attaches the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// Returns nil if no telemetry is attached.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.Events != nil {
		if err := t.Events.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("event publisher shutdown: %w", err))
		}
	}

	if t.Tracer != nil {
		if err := t.Tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown errors: %v", errs)
	}
	return nil
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	if t.Tracer != nil {
		return t.Tracer.ForceFlush(ctx)
	}
	return nil
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	if t.Metrics == nil {
		return nil
	}
	return t.Metrics.StartMetricsServer()
}

// Operation combines a span, a timer, and a scoped logger for one unit of
// work in the launch pipeline.
type Operation struct {
	Span      trace.Span
	Timer     *Timer
	Logger    *Logger
	telemetry *Telemetry
	name      string
}

// StartOperation begins a traced, timed, logged operation.
func (t *Telemetry) StartOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *Operation) {
	ctx, span := t.Tracer.StartSpan(ctx, name, attrs...)

	logger := t.Logger.WithField("operation", name)
	if traceID := TraceID(ctx); traceID != "" {
		logger = logger.WithField("trace_id", traceID)
	}

	return ctx, &Operation{
		Span:      span,
		Timer:     NewTimer(),
		Logger:    logger,
		telemetry: t,
		name:      name,
	}
}

// End completes the operation, recording its outcome on the span.
func (op *Operation) End(err error) {
	if err != nil {
		RecordError(op.Span, err)
		op.Logger.WithError(err).Errorf("%s failed after %s", op.name, op.Timer.Duration())
	} else {
		RecordSuccess(op.Span)
		op.Logger.Debugf("%s completed in %s", op.name, op.Timer.Duration())
	}
	op.Span.End()
}

// launchContext carries per-launch telemetry state between the start and end
// of a kernel session.
type launchContext struct {
	launchID string
	kernel   string
	started  time.Time
	span     trace.Span
}

// launchContextKey is the context key for launch telemetry state.
type launchContextKey struct{}

// WithLaunchContext starts launch-scoped telemetry: a pipeline span, launch
// metrics, and a launch started event.
func (t *Telemetry) WithLaunchContext(ctx context.Context, launchID, kernel, root string) context.Context {
	ctx, span := t.Tracer.StartLaunchSpan(ctx, kernel, launchID)

	t.Metrics.RecordLaunchStarted(kernel)
	if err := t.Events.PublishLaunchStarted(launchID, kernel, root); err != nil {
		t.Logger.WithError(err).Warn("failed to publish launch started event")
	}

	lc := &launchContext{
		launchID: launchID,
		kernel:   kernel,
		started:  time.Now(),
		span:     span,
	}
	ctx = context.WithValue(ctx, launchContextKey{}, lc)

	logger := t.Logger.WithLaunchID(launchID).WithKernel(kernel)
	return logger.WithContext(ctx)
}

// EndLaunchContext completes launch-scoped telemetry: closes the pipeline
// span, records the terminal path and lifetime, and publishes the terminal
// event. Via names the terminal path (shutdown, crash, error).
func (t *Telemetry) EndLaunchContext(ctx context.Context, via string, exitErr error) {
	lc, ok := ctx.Value(launchContextKey{}).(*launchContext)
	if !ok {
		return
	}

	lifetime := time.Since(lc.started)
	t.Metrics.RecordLaunchCompleted(via, lifetime)

	lc.span.SetAttributes(AttrLaunchVia.String(via))
	if exitErr != nil {
		RecordError(lc.span, exitErr)
		if err := t.Events.PublishKernelCrashed(lc.launchID, lc.kernel, exitCodeForEvent(exitErr)); err != nil {
			t.Logger.WithError(err).Warn("failed to publish kernel crashed event")
		}
	} else {
		RecordSuccess(lc.span)
		if err := t.Events.PublishKernelTerminated(lc.launchID, lc.kernel, via); err != nil {
			t.Logger.WithError(err).Warn("failed to publish kernel terminated event")
		}
	}
	lc.span.End()
}

// exitCodeForEvent extracts an exit code for the crash event payload.
// Unknown codes are reported as -1.
func exitCodeForEvent(err error) int {
	type exitCoder interface {
		ExitCode() int
	}
	if ec, ok := err.(exitCoder); ok {
		return ec.ExitCode()
	}
	return -1
}

// RecordBuilderOperation records telemetry for one environment builder
// invocation: counters, duration, and an error counter on failure.
func (t *Telemetry) RecordBuilderOperation(operation string, duration time.Duration, err error) {
	t.Metrics.RecordBuilderCall(operation, duration)
	if err != nil {
		t.Metrics.RecordBuilderError(operation)
		t.Logger.WithError(err).
			WithField("builder_operation", operation).
			Warnf("builder %s failed after %s", operation, duration)
	}
}
