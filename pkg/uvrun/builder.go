package uvrun

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/uvk/uvk/pkg/engine"
)

// Builder implements engine.Builder on top of the uv CLI.
type Builder struct {
	uv *UV
}

// NewBuilder creates a Builder around an existing UV handle.
func NewBuilder(uv *UV) *Builder {
	return &Builder{uv: uv}
}

// PythonPath returns the interpreter path inside a virtual environment root.
func PythonPath(root string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(root, "Scripts", "python.exe")
	}
	return filepath.Join(root, "bin", "python")
}

// CreateEnv materializes a virtual environment at root for the given
// interpreter and installs the dependency set into it.
func (b *Builder) CreateEnv(ctx context.Context, interp engine.InterpreterHandle, root string, deps []string) error {
	res, err := b.uv.run(ctx, "venv", "--python", interp.Path, "--no-project", root)
	if err != nil {
		return engine.NewProvisionError("uv venv failed", err).
			WithRoot(root).
			WithCode(engine.ErrCodeBuildFailed).
			WithOutput(res.combined())
	}

	if len(deps) == 0 {
		return nil
	}

	args := append([]string{"pip", "install", "--python", PythonPath(root)}, deps...)
	res, err = b.uv.run(ctx, args...)
	if err != nil {
		return engine.NewProvisionError("uv pip install failed", err).
			WithRoot(root).
			WithCode(engine.ErrCodeBuildFailed).
			WithOutput(res.combined())
	}
	return nil
}

// Install adds packages to an existing environment in place.
func (b *Builder) Install(ctx context.Context, env *engine.EphemeralEnvironment, specs []string) error {
	args := append([]string{"pip", "install", "--python", env.Python}, specs...)
	res, err := b.uv.run(ctx, args...)
	if err != nil {
		return engine.NewMutationError("uv pip install failed", err).
			WithRoot(env.Root).
			WithOutput(res.combined())
	}
	return nil
}

// Sync makes the environment's installed set exactly match specs. The
// specifier list is written to a temporary requirements file because uv pip
// sync only accepts file input.
func (b *Builder) Sync(ctx context.Context, env *engine.EphemeralEnvironment, specs []string) error {
	reqs, err := os.CreateTemp("", "uvk-reqs-*.txt")
	if err != nil {
		return engine.NewMutationError("cannot stage requirements file", err).WithRoot(env.Root)
	}
	defer os.Remove(reqs.Name())

	if _, err := reqs.WriteString(strings.Join(specs, "\n") + "\n"); err != nil {
		reqs.Close()
		return engine.NewMutationError("cannot write requirements file", err).WithRoot(env.Root)
	}
	if err := reqs.Close(); err != nil {
		return engine.NewMutationError("cannot write requirements file", err).WithRoot(env.Root)
	}

	res, err := b.uv.run(ctx, "pip", "sync", "--python", env.Python, reqs.Name())
	if err != nil {
		return engine.NewMutationError("uv pip sync failed", err).
			WithRoot(env.Root).
			WithOutput(res.combined())
	}
	return nil
}

// pythonListEntry is one record of `uv python list --output-format json`.
type pythonListEntry struct {
	Key     string `json:"key"`
	Version string `json:"version"`
	Path    string `json:"path"`
}

// ListInterpreters returns the interpreters currently available to uv.
func (b *Builder) ListInterpreters(ctx context.Context) ([]engine.InterpreterHandle, error) {
	res, err := b.uv.run(ctx, "python", "list", "--only-installed", "--output-format", "json")
	if err != nil {
		return nil, engine.NewResolutionError("uv python list failed", err).
			WithOutput(res.combined())
	}
	return parseInterpreterList(res.stdout)
}

// parseInterpreterList decodes the inventory JSON, skipping entries without a
// concrete path (uv lists downloadable-but-absent interpreters too).
func parseInterpreterList(out string) ([]engine.InterpreterHandle, error) {
	var entries []pythonListEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		return nil, engine.NewResolutionError("cannot decode uv python list output", err)
	}

	handles := make([]engine.InterpreterHandle, 0, len(entries))
	for _, e := range entries {
		if e.Path == "" || e.Version == "" {
			continue
		}
		handles = append(handles, engine.InterpreterHandle{
			Path:    e.Path,
			Version: e.Version,
		})
	}
	return handles, nil
}

// InstallInterpreter acquires an interpreter matching the constraint.
func (b *Builder) InstallInterpreter(ctx context.Context, constraint string) error {
	res, err := b.uv.run(ctx, "python", "install", constraint)
	if err != nil {
		return engine.NewResolutionError(
			fmt.Sprintf("uv python install %s failed", constraint), err).
			WithOutput(res.combined())
	}
	return nil
}
