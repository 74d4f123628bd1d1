// Package provision creates and destroys ephemeral isolated runtime
// environments. Every launch gets a fresh root under a process-wide scratch
// directory; roots are never reused, which is the engine's core isolation
// invariant. A provisioning failure is always surfaced, never silently
// degraded to a shared or default environment.
package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uvk/uvk/pkg/engine"
	"github.com/uvk/uvk/pkg/uvrun"
)

// Options configures a Provisioner.
type Options struct {
	// ScratchDir is the parent directory for environment roots. Defaults to
	// the system temporary directory; the original tool exposes this as the
	// kernel's TMPDIR.
	ScratchDir string

	// BuildTimeout bounds the environment build step. Zero means no bound
	// beyond the caller's context.
	BuildTimeout time.Duration
}

// Provisioner implements engine.Provisioner on top of the uv build
// collaborator.
type Provisioner struct {
	builder engine.Builder
	opts    Options
	logger  zerolog.Logger
}

// New creates a provisioner.
func New(builder engine.Builder, opts Options, logger zerolog.Logger) *Provisioner {
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}
	return &Provisioner{
		builder: builder,
		opts:    opts,
		logger:  logger.With().Str("component", "provisioner").Logger(),
	}
}

// Create allocates a fresh, collision-free root, builds an environment in it,
// and verifies the resulting interpreter is executable before returning. A
// partial root left behind by a failed or timed-out build is removed before
// the error is returned.
func (p *Provisioner) Create(ctx context.Context, interp engine.InterpreterHandle, deps []string) (*engine.EphemeralEnvironment, error) {
	if err := os.MkdirAll(p.opts.ScratchDir, 0o755); err != nil {
		return nil, engine.NewProvisionError("cannot create scratch directory", err)
	}

	root := filepath.Join(p.opts.ScratchDir, "uvk-env-"+uuid.NewString())

	buildCtx := ctx
	if p.opts.BuildTimeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, p.opts.BuildTimeout)
		defer cancel()
	}

	p.logger.Info().
		Str("root", root).
		Str("python", interp.Version).
		Int("deps", len(deps)).
		Msg("provisioning environment")

	if err := p.builder.CreateEnv(buildCtx, interp, root, deps); err != nil {
		p.cleanup(root)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, engine.NewProvisionError("environment build timed out", err).
				WithRoot(root).
				WithCode(engine.ErrCodeTimeout)
		}
		if engine.IsProvision(err) {
			return nil, err
		}
		return nil, engine.NewProvisionError("environment build failed", err).WithRoot(root)
	}

	python := uvrun.PythonPath(root)
	if err := verifyExecutable(python); err != nil {
		p.cleanup(root)
		return nil, engine.NewProvisionError(
			fmt.Sprintf("built environment has no usable interpreter at %s", python), err).
			WithRoot(root)
	}

	env := &engine.EphemeralEnvironment{
		Root:         root,
		Python:       python,
		Interpreter:  interp,
		Dependencies: append([]string(nil), deps...),
		CreatedAt:    time.Now(),
	}
	p.logger.Info().Str("root", root).Msg("environment ready")
	return env, nil
}

// Destroy removes the environment root. Idempotent: a second call, or a call
// for a root that was never created, succeeds and leaves nothing behind.
func (p *Provisioner) Destroy(ctx context.Context, env *engine.EphemeralEnvironment) error {
	if env == nil || env.Root == "" {
		return nil
	}
	if err := os.RemoveAll(env.Root); err != nil {
		return engine.NewProvisionError("environment teardown failed", err).WithRoot(env.Root)
	}
	p.logger.Debug().Str("root", env.Root).Msg("environment destroyed")
	return nil
}

// cleanup removes a partial root after a failed build. Removal failure is
// logged, not returned; the build error is the one the caller needs.
func (p *Provisioner) cleanup(root string) {
	if err := os.RemoveAll(root); err != nil {
		p.logger.Warn().Err(err).Str("root", root).Msg("failed to remove partial environment root")
	}
}

// verifyExecutable checks that path exists and is an executable file.
func verifyExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}
