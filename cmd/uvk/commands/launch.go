package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/uvk/uvk/pkg/config"
	"github.com/uvk/uvk/pkg/engine"
	"github.com/uvk/uvk/pkg/provision"
	"github.com/uvk/uvk/pkg/resolve"
	"github.com/uvk/uvk/pkg/stores"
	"github.com/uvk/uvk/pkg/supervisor"
	"github.com/uvk/uvk/pkg/telemetry"
)

func newLaunchCommand() *cobra.Command {
	var (
		kernel         string
		connectionFile string
	)

	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Launch a kernel in a fresh ephemeral environment",
		Long: `Launch the named kernel: resolve its interpreter, provision a fresh
isolated environment, spawn the kernel process bound to it, and supervise
the session until it ends. The environment is destroyed when the process
exits, on every path.

This command is normally invoked by the Jupyter host through the argv
recorded in the installed kernel.json, not by hand.`,
		Example: `  uvk launch --kernel py312 --connection-file /run/jupyter/kernel-abc.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLaunch(cmd.Context(), kernel, connectionFile)
		},
	}

	cmd.Flags().StringVar(&kernel, "kernel", "", "kernelspec name to launch")
	cmd.Flags().StringVar(&connectionFile, "connection-file", "", "connection file provided by the host")
	_ = cmd.MarkFlagRequired("kernel")
	_ = cmd.MarkFlagRequired("connection-file")

	return cmd
}

func runLaunch(ctx context.Context, kernel, connectionFile string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tel, err := newTelemetry(cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()
	ctx = tel.WithContext(ctx)

	reg, err := openRegistry(cfg, false, "")
	if err != nil {
		return err
	}
	spec, err := reg.Get(ctx, kernel)
	if err != nil {
		return err
	}

	builder, err := newBuilder(cfg)
	if err != nil {
		return err
	}

	// Resolve the interpreter exactly once, before anything is created.
	resolveCtx, op := tel.StartOperation(ctx, "interpreter.resolve",
		telemetry.AttrSelectorKind.String(string(spec.Selector.Kind)),
		telemetry.AttrSelectorValue.String(spec.Selector.Value),
	)
	resolver := resolve.New(builder, log.Logger)
	interp, err := resolver.Resolve(resolveCtx, spec.Selector)
	op.End(err)
	if err != nil {
		tel.Metrics.RecordResolution(string(spec.Selector.Kind), "failure")
		return err
	}
	tel.Metrics.RecordResolution(string(spec.Selector.Kind), "success")

	// Provision the session's private environment.
	provisioner := provision.New(builder, provision.Options{
		ScratchDir:   cfg.ScratchDir,
		BuildTimeout: cfg.BuildTimeout.Std(),
	}, log.Logger)

	provisionCtx, op := tel.StartOperation(ctx, "environment.provision",
		telemetry.AttrPythonVersion.String(interp.Version),
	)
	timer := telemetry.NewTimer()
	env, err := provisioner.Create(provisionCtx, *interp, nil)
	op.End(err)
	if err != nil {
		tel.Metrics.RecordProvision("failure", timer.Duration())
		return err
	}
	tel.Metrics.RecordProvision("success", timer.Duration())
	_ = tel.Events.PublishEnvProvisioned(env.Root, interp.Version, timer.Duration())

	history, err := openHistory(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("launch history unavailable; continuing without it")
		history = nil
	}
	if history != nil {
		defer history.Close()
	}

	sup := supervisor.New(*spec, env, provisioner, &supervisor.ProcessHandshaker{}, historyOrNil(history), supervisor.Options{
		HandshakeTimeout: cfg.HandshakeTimeout.Std(),
		ShutdownGrace:    cfg.ShutdownGrace.Std(),
	}, log.Logger)

	ctx = tel.WithLaunchContext(ctx, sup.ID(), spec.Name, env.Root)

	binding, err := sup.Launch(ctx, connectionFile)
	if err != nil {
		tel.EndLaunchContext(ctx, "error", err)
		return err
	}
	_ = tel.Events.PublishKernelRunning(sup.ID(), spec.Name, binding.PID)
	log.Info().
		Str("launch_id", sup.ID()).
		Int("pid", binding.PID).
		Str("root", env.Root).
		Msg("kernel session running")

	// A host interrupt walks the session down gracefully; the supervisor
	// escalates to SIGKILL after the grace period.
	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace.Std()+5*time.Second)
		defer cancel()
		if err := sup.Stop(stopCtx); err != nil {
			log.Debug().Err(err).Msg("graceful stop not applicable")
		}
	}()

	if err := sup.Wait(context.Background()); err != nil {
		tel.EndLaunchContext(ctx, "error", err)
		return err
	}

	if code := sup.ExitStatus(); code != 0 {
		err := engine.NewLaunchError(
			fmt.Sprintf("kernel exited with status %d", code), nil).
			WithKernel(spec.Name)
		tel.EndLaunchContext(ctx, "crash", err)
		return err
	}

	tel.EndLaunchContext(ctx, "shutdown", nil)
	return nil
}

// newTelemetry maps the engine configuration onto the telemetry setup.
func newTelemetry(cfg *config.EngineConfig) (*telemetry.Telemetry, error) {
	tcfg := telemetry.DefaultConfig()
	tcfg.Logging.Level = cfg.Logging.Level
	tcfg.Logging.Format = cfg.Logging.Format
	tcfg.Logging.Output = cfg.Logging.Output
	return telemetry.NewTelemetry(tcfg)
}

// openHistory opens the launch history store when enabled and applies the
// configured retention.
func openHistory(ctx context.Context, cfg *config.EngineConfig) (*stores.SQLiteStore, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	store, err := openHistoryStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if retention := cfg.History.Retention.Std(); retention > 0 {
		if _, err := store.PruneBefore(ctx, time.Now().Add(-retention)); err != nil {
			log.Warn().Err(err).Msg("history prune failed")
		}
	}
	return store, nil
}

// historyOrNil avoids handing the supervisor a typed nil interface.
func historyOrNil(store *stores.SQLiteStore) engine.HistoryStore {
	if store == nil {
		return nil
	}
	return store
}
