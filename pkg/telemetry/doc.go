// Package telemetry provides observability instrumentation for the kernel
// engine: structured logging (zerolog), distributed tracing (OpenTelemetry),
// Prometheus metrics, and an async lifecycle event stream.
//
// # Usage
//
// Initialize telemetry at startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx := tel.WithContext(context.Background())
//
// By default only logging and events are active; tracing and metrics are
// opt-in since the engine usually runs as a short-lived CLI under Jupyter
// rather than a daemon.
//
// # Launch-scoped telemetry
//
// A kernel launch opens a pipeline span, increments launch metrics, and
// publishes a launch event; the terminal path closes all three:
//
//	ctx = tel.WithLaunchContext(ctx, launchID, kernel, root)
//	defer tel.EndLaunchContext(ctx, "shutdown", nil)
//
// Individual pipeline stages use Operation for span plus timing plus scoped
// logging:
//
//	ctx, op := tel.StartOperation(ctx, "environment.provision")
//	err := provision(ctx)
//	op.End(err)
//
// # Events
//
// Components publish lifecycle events (kernel.running, environment.mutated,
// policy.violation, ...) through the EventPublisher; subscribers receive
// them asynchronously, optionally filtered by type, level, launch, or
// kernel.
package telemetry
