package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/uvk/uvk/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("engine started")

	// Output varies, so no expected output for this example.
}

// Example_launchScopedLogging demonstrates launch-scoped field helpers.
func Example_launchScopedLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	logger := tel.Logger.NewComponentLogger("supervisor").
		WithLaunchID("launch-123").
		WithKernel("python3-ml")

	logger.Debug("spawning kernel process")
	logger.Info("kernel running")
}

// Example_events demonstrates subscribing to lifecycle events.
func Example_events() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	done := make(chan struct{})
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Println(event.Type)
		close(done)
	}, telemetry.FilterByType(telemetry.EventTypeEnvProvisioned))

	tel.Events.PublishEnvProvisioned("/tmp/uvk-abc123", "3.11.2", 4*time.Second)

	<-done
	// Output: environment.provisioned
}
