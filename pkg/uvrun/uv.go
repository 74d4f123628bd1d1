// Package uvrun wraps the external uv binary, the engine's environment-build
// collaborator. All invocations capture stdout/stderr for error attachment;
// output is never parsed for control flow, with the read-only interpreter
// inventory as the one exception.
package uvrun

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/uvk/uvk/pkg/engine"
)

// UV invokes the uv executable.
type UV struct {
	path   string
	logger zerolog.Logger
}

// Find locates uv on PATH. uv is critical to every feature the engine
// provides, so absence is a hard error.
func Find(logger zerolog.Logger) (*UV, error) {
	path, err := exec.LookPath("uv")
	if err != nil {
		return nil, engine.NewInternalError(
			"cannot find the uv executable in the current environment; consider reinstalling uvk", err)
	}
	return New(path, logger), nil
}

// New creates a UV bound to an explicit executable path.
func New(path string, logger zerolog.Logger) *UV {
	return &UV{
		path:   path,
		logger: logger.With().Str("component", "uvrun").Logger(),
	}
}

// Path returns the uv executable path.
func (u *UV) Path() string {
	return u.path
}

// result carries the captured output of one uv invocation.
type result struct {
	stdout   string
	stderr   string
	exitCode int
	duration time.Duration
}

// combined returns stdout and stderr joined for error attachment.
func (r *result) combined() string {
	out := strings.TrimSpace(r.stdout)
	errOut := strings.TrimSpace(r.stderr)
	switch {
	case out == "":
		return errOut
	case errOut == "":
		return out
	default:
		return out + "\n" + errOut
	}
}

// run executes uv with the given arguments, capturing output. A non-zero exit
// is returned as an error with the exit code preserved on the result.
func (u *UV) run(ctx context.Context, args ...string) (*result, error) {
	cmd := exec.CommandContext(ctx, u.path, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	u.logger.Debug().Strs("args", args).Msg("invoking uv")

	start := time.Now()
	err := cmd.Run()
	res := &result{
		stdout:   stdout.String(),
		stderr:   stderr.String(),
		duration: time.Since(start),
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.exitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		u.logger.Debug().
			Err(err).
			Int("exit_code", res.exitCode).
			Dur("duration", res.duration).
			Msg("uv invocation failed")
		return res, err
	}

	u.logger.Debug().Dur("duration", res.duration).Msg("uv invocation completed")
	return res, nil
}
