// Package supervisor owns the kernel process lifecycle:
//
//	Created -> Launching -> Running -> {ShuttingDown -> Terminated | Crashed -> Terminated}
//
// Entering Terminated unconditionally tears down the supervised environment,
// on every exit path: graceful stop, crash, handshake timeout, and
// cancellation. Teardown runs exactly once per supervisor, and the underlying
// destroy is itself idempotent, so racing an external cleanup is safe.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uvk/uvk/pkg/engine"
)

// Options tunes the supervisor's bounded waits.
type Options struct {
	// HandshakeTimeout bounds the wait for the startup handshake
	// acknowledgment. Timeout is a LaunchError and follows the crash/cleanup
	// path. Default 30s.
	HandshakeTimeout time.Duration

	// ShutdownGrace is how long a graceful stop waits after SIGTERM before
	// escalating to SIGKILL. Default 10s.
	ShutdownGrace time.Duration

	// Argv is the launch template. Placeholders {python} and
	// {connection_file} are substituted at launch. Defaults to the
	// ipykernel launcher invocation.
	Argv []string
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 30 * time.Second
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 10 * time.Second
	}
	if len(opts.Argv) == 0 {
		opts.Argv = []string{"{python}", "-m", "ipykernel_launcher", "-f", "{connection_file}"}
	}
	return opts
}

// Supervisor drives one kernel process and owns its environment exclusively.
type Supervisor struct {
	spec        engine.KernelSpec
	env         *engine.EphemeralEnvironment
	provisioner engine.Provisioner
	handshaker  engine.Handshaker
	history     engine.HistoryStore
	opts        Options
	logger      zerolog.Logger

	mu       sync.Mutex
	state    engine.KernelState
	cmd      *exec.Cmd
	binding  *engine.SessionBinding
	exitCode int
	exited   bool

	launchID    string
	destroyOnce sync.Once
	destroyErr  error
	done        chan struct{}
	procExited  chan struct{}
}

// New creates a supervisor in the Created state. history may be nil.
func New(
	spec engine.KernelSpec,
	env *engine.EphemeralEnvironment,
	provisioner engine.Provisioner,
	handshaker engine.Handshaker,
	history engine.HistoryStore,
	opts Options,
	logger zerolog.Logger,
) *Supervisor {
	id := uuid.NewString()
	return &Supervisor{
		spec:        spec,
		env:         env,
		provisioner: provisioner,
		handshaker:  handshaker,
		history:     history,
		opts:        opts.withDefaults(),
		logger: logger.With().
			Str("component", "supervisor").
			Str("kernel", spec.Name).
			Str("launch_id", id).
			Logger(),
		state:      engine.StateCreated,
		launchID:   id,
		done:       make(chan struct{}),
		procExited: make(chan struct{}),
	}
}

// ID returns the launch identifier.
func (s *Supervisor) ID() string {
	return s.launchID
}

// State returns the current state.
func (s *Supervisor) State() engine.KernelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Binding returns the session binding, nil before Running.
func (s *Supervisor) Binding() *engine.SessionBinding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binding
}

// ExitStatus returns the recorded process exit code; valid once terminated.
func (s *Supervisor) ExitStatus() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// transition moves the state machine, rejecting walks the machine forbids.
func (s *Supervisor) transition(next engine.KernelState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(next)
}

func (s *Supervisor) transitionLocked(next engine.KernelState) error {
	if !s.state.CanTransition(next) {
		return engine.NewInternalError(
			fmt.Sprintf("invalid state transition %s -> %s", s.state, next), nil)
	}
	s.logger.Debug().Str("from", string(s.state)).Str("to", string(next)).Msg("state transition")
	s.state = next
	return nil
}

// Launch walks Created -> Launching and, on handshake acknowledgment,
// -> Running. Any failure, the handshake timeout included, follows the
// crash/cleanup path to Terminated so no environment is ever orphaned.
// Cancelling ctx before Running takes the same path.
func (s *Supervisor) Launch(ctx context.Context, connectionFile string) (*engine.SessionBinding, error) {
	if err := s.transition(engine.StateLaunching); err != nil {
		return nil, err
	}

	cmd := s.buildCmd(connectionFile)
	if err := cmd.Start(); err != nil {
		launchErr := engine.NewLaunchError("kernel process failed to start", err).
			WithKernel(s.spec.Name).
			WithRoot(s.env.Root)
		s.failLaunch()
		return nil, launchErr
	}

	s.mu.Lock()
	s.cmd = cmd
	s.env.OwnerPID = cmd.Process.Pid
	s.mu.Unlock()

	s.recordStart(ctx)
	go s.monitor()

	s.logger.Info().Int("pid", cmd.Process.Pid).Str("connection_file", connectionFile).Msg("kernel process started")

	hsCtx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()

	if err := s.handshaker.Await(hsCtx, connectionFile, cmd.Process.Pid); err != nil {
		code := engine.ErrCodeHandshake
		if errors.Is(err, context.DeadlineExceeded) {
			code = engine.ErrCodeTimeout
		} else if ctx.Err() != nil {
			code = engine.ErrCodeCancelled
		}
		launchErr := engine.NewLaunchError("kernel handshake failed", err).
			WithKernel(s.spec.Name).
			WithRoot(s.env.Root).
			WithCode(code)

		s.kill()
		<-s.procExited
		s.failLaunch()
		return nil, launchErr
	}

	s.mu.Lock()
	if s.exited {
		exitCode := s.exitCode
		s.mu.Unlock()
		launchErr := engine.NewLaunchError(
			fmt.Sprintf("kernel process exited during startup with status %d", exitCode), nil).
			WithKernel(s.spec.Name).
			WithRoot(s.env.Root)
		s.failLaunch()
		return nil, launchErr
	}
	if err := s.transitionLocked(engine.StateRunning); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.binding = &engine.SessionBinding{
		ID:        s.launchID,
		Spec:      s.spec,
		Env:       s.env,
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
	}
	binding := s.binding
	s.mu.Unlock()

	s.logger.Info().Msg("kernel running")
	return binding, nil
}

// buildCmd expands the argv template and wires the environment. The kernel
// inherits the parent environment plus the spec's variables, with the
// ephemeral root activated the way a venv would be.
func (s *Supervisor) buildCmd(connectionFile string) *exec.Cmd {
	argv := make([]string, len(s.opts.Argv))
	for i, arg := range s.opts.Argv {
		arg = strings.ReplaceAll(arg, "{python}", s.env.Python)
		arg = strings.ReplaceAll(arg, "{connection_file}", connectionFile)
		argv[i] = arg
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	env := os.Environ()
	env = append(env, "VIRTUAL_ENV="+s.env.Root)
	for k, v := range s.spec.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env
	return cmd
}

// monitor reaps the process and routes its exit through the state machine.
func (s *Supervisor) monitor() {
	err := s.cmd.Wait()
	code := exitCodeOf(err)

	s.mu.Lock()
	s.exited = true
	s.exitCode = code
	state := s.state
	s.mu.Unlock()
	close(s.procExited)

	switch state {
	case engine.StateRunning:
		if code == 0 {
			// Clean self-shutdown, e.g. the host asked the kernel to quit.
			_ = s.transition(engine.StateShuttingDown)
			s.terminate(engine.StateShuttingDown)
		} else {
			s.logger.Error().Int("exit_code", code).Msg("kernel process crashed")
			_ = s.transition(engine.StateCrashed)
			s.terminate(engine.StateCrashed)
		}
	case engine.StateShuttingDown:
		s.terminate(engine.StateShuttingDown)
	default:
		// Launching: the Launch path owns the failure handling.
	}
}

// Stop performs a graceful shutdown: SIGTERM, bounded grace wait, SIGKILL.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != engine.StateRunning {
		state := s.state
		s.mu.Unlock()
		return engine.NewInternalError(
			fmt.Sprintf("cannot stop kernel in state %s", state), nil)
	}
	if err := s.transitionLocked(engine.StateShuttingDown); err != nil {
		s.mu.Unlock()
		return err
	}
	cmd := s.cmd
	s.mu.Unlock()

	s.logger.Info().Msg("stopping kernel")
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn().Err(err).Msg("failed to signal kernel process")
	}

	select {
	case <-s.procExited:
	case <-time.After(s.opts.ShutdownGrace):
		s.logger.Warn().Dur("grace", s.opts.ShutdownGrace).Msg("kernel unresponsive to graceful stop; escalating")
		s.kill()
		<-s.procExited
	case <-ctx.Done():
		s.kill()
		<-s.procExited
	}

	<-s.done
	return nil
}

// Wait blocks until the supervisor reaches Terminated or ctx expires.
func (s *Supervisor) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// failLaunch routes a launch failure through Crashed to Terminated.
func (s *Supervisor) failLaunch() {
	_ = s.transition(engine.StateCrashed)
	s.terminate(engine.StateCrashed)
}

// kill forcibly terminates the process; reaping stays with monitor.
func (s *Supervisor) kill() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn().Err(err).Msg("failed to kill kernel process")
	}
}

// terminate enters the terminal state and performs teardown exactly once.
func (s *Supervisor) terminate(from engine.KernelState) {
	s.destroyOnce.Do(func() {
		_ = s.transition(engine.StateTerminated)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.provisioner.Destroy(ctx, s.env); err != nil {
			s.destroyErr = err
			s.logger.Error().Err(err).Str("root", s.env.Root).Msg("environment teardown failed")
		}
		s.recordExit(ctx, from)
		s.logger.Info().Int("exit_code", s.exitCode).Str("via", string(from)).Msg("kernel terminated")
		close(s.done)
	})
}

// recordStart writes the launch to the history store, when one is configured.
func (s *Supervisor) recordStart(ctx context.Context) {
	if s.history == nil {
		return
	}
	rec := &engine.LaunchRecord{
		ID:        s.launchID,
		Kernel:    s.spec.Name,
		Root:      s.env.Root,
		Python:    s.env.Python,
		State:     engine.StateLaunching,
		StartedAt: time.Now(),
	}
	if err := s.history.RecordStart(ctx, rec); err != nil {
		s.logger.Warn().Err(err).Msg("failed to record launch start")
	}
}

// recordExit writes the terminal outcome to the history store.
func (s *Supervisor) recordExit(ctx context.Context, via engine.KernelState) {
	if s.history == nil {
		return
	}
	if err := s.history.RecordExit(ctx, s.launchID, via, s.exitCode); err != nil {
		s.logger.Warn().Err(err).Msg("failed to record launch exit")
	}
}

// exitCodeOf maps a Wait error to a process exit code.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
