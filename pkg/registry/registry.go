// Package registry manages named, persisted kernel definitions discoverable
// by the notebook host. Each spec is a directory holding a kernel.json entry
// (plus optional icon) under a Jupyter kernels directory. Installs are staged
// in a temporary directory and renamed into place, so a host enumerating
// specs concurrently never observes a partially written entry.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uvk/uvk/pkg/engine"
)

// ConnectionFilePlaceholder is substituted by the host with the path of the
// session's connection file when it expands the argv template.
const ConnectionFilePlaceholder = "{connection_file}"

// kernelNameRe constrains spec names to a single path component. Jupyter
// kernelspec names are alphanumerics plus ., _ and -; everything a spec
// touches on disk stays inside the kernels directory.
var kernelNameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// checkName rejects names that are empty, dot-prefixed (reserved for staging
// and trash entries, and "." / ".." would escape the kernels directory), or
// contain anything outside the kernelspec alphabet.
func checkName(name string) error {
	if name == "" || name[0] == '.' || !kernelNameRe.MatchString(name) {
		return engine.NewRegistryError(
			fmt.Sprintf("invalid kernelspec name %q", name), nil).
			WithKernel(name).
			WithCode(engine.ErrCodeValidation)
	}
	return nil
}

// Registry implements engine.Registry over a kernels directory.
type Registry struct {
	// dir is the kernels directory specs are installed into.
	dir string

	// launcher is the executable written into each spec's argv template;
	// the host invokes it to start a kernel through the engine.
	launcher string

	// mu serializes in-process mutations. Cross-process safety relies on
	// atomic rename.
	mu sync.Mutex

	validate *validator.Validate
	logger   zerolog.Logger
}

// New creates a registry rooted at dir. launcher is the engine executable
// referenced by installed argv templates; when empty, the current executable
// is used.
func New(dir, launcher string, logger zerolog.Logger) (*Registry, error) {
	if dir == "" {
		return nil, engine.NewRegistryError("kernels directory is required", nil)
	}
	if launcher == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, engine.NewRegistryError("cannot determine launcher executable", err)
		}
		launcher = exe
	}
	return &Registry{
		dir:      dir,
		launcher: launcher,
		validate: validator.New(),
		logger:   logger.With().Str("component", "registry").Logger(),
	}, nil
}

// Dir returns the kernels directory.
func (r *Registry) Dir() string {
	return r.dir
}

// UserDir returns the per-user Jupyter kernels directory.
func UserDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "jupyter", "kernels"), nil
}

// PrefixDir returns the kernels directory under a Python distribution prefix.
func PrefixDir(prefix string) string {
	return filepath.Join(prefix, "share", "jupyter", "kernels")
}

// SystemDir returns the system-wide kernels directory, the default install
// target. Installing there requires write access to system directories.
func SystemDir() string {
	return filepath.Join("/usr", "local", "share", "jupyter", "kernels")
}

// kernelJSON is the on-disk kernel.json entry consumed by the host.
type kernelJSON struct {
	Argv          []string          `json:"argv"`
	DisplayName   string            `json:"display_name"`
	Language      string            `json:"language"`
	InterruptMode string            `json:"interrupt_mode"`
	Env           map[string]string `json:"env,omitempty"`
	Metadata      kernelMetadata    `json:"metadata"`
}

// kernelMetadata carries engine-owned state inside the entry so List can
// reconstruct the full KernelSpec.
type kernelMetadata struct {
	Debugger bool          `json:"debugger"`
	UVK      uvkAttributes `json:"uvk"`
}

type uvkAttributes struct {
	Selector  engine.InterpreterSelector `json:"selector"`
	IconPath  string                     `json:"icon_path,omitempty"`
	CreatedAt time.Time                  `json:"created_at"`
}

// Install writes the spec atomically. Installing an existing name overwrites
// it; the swap is rename-based so concurrent listers never see a partial or
// mixed entry.
func (r *Registry) Install(ctx context.Context, spec *engine.KernelSpec) error {
	if err := checkName(spec.Name); err != nil {
		return err
	}
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = time.Now()
	}
	if err := r.validate.Struct(spec); err != nil {
		return engine.NewRegistryError("kernelspec validation failed", err).
			WithKernel(spec.Name).
			WithCode(engine.ErrCodeValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return engine.NewRegistryError("cannot create kernels directory", err).WithKernel(spec.Name)
	}

	stage, err := os.MkdirTemp(r.dir, ".stage-"+spec.Name+"-")
	if err != nil {
		return engine.NewRegistryError("cannot stage kernel directory", err).WithKernel(spec.Name)
	}
	defer os.RemoveAll(stage)

	if err := r.writeEntry(stage, spec); err != nil {
		return err
	}

	dest := filepath.Join(r.dir, spec.Name)
	if err := swapDir(stage, dest); err != nil {
		return engine.NewRegistryError("cannot install kernel directory", err).WithKernel(spec.Name)
	}

	r.logger.Info().Str("kernel", spec.Name).Str("dir", dest).Msg("kernelspec installed")
	return nil
}

// writeEntry stages kernel.json and the optional icon into dir.
func (r *Registry) writeEntry(dir string, spec *engine.KernelSpec) error {
	entry := kernelJSON{
		Argv: []string{
			r.launcher,
			"launch",
			"--kernel", spec.Name,
			"--connection-file", ConnectionFilePlaceholder,
		},
		DisplayName:   spec.DisplayName,
		Language:      "python",
		InterruptMode: "signal",
		Env:           spec.Env,
		Metadata: kernelMetadata{
			Debugger: true,
			UVK: uvkAttributes{
				Selector:  spec.Selector,
				IconPath:  spec.IconPath,
				CreatedAt: spec.CreatedAt,
			},
		},
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return engine.NewRegistryError("cannot encode kernel.json", err).WithKernel(spec.Name)
	}
	if err := os.WriteFile(filepath.Join(dir, "kernel.json"), data, 0o644); err != nil {
		return engine.NewRegistryError("cannot write kernel.json", err).WithKernel(spec.Name)
	}

	if spec.IconPath != "" {
		if err := copyFile(spec.IconPath, filepath.Join(dir, filepath.Base(spec.IconPath))); err != nil {
			return engine.NewRegistryError("cannot copy kernel icon", err).WithKernel(spec.Name)
		}
	}
	return nil
}

// Uninstall removes the named spec. Unknown names are a no-op, which keeps
// cleanup scripts safe to re-run.
func (r *Registry) Uninstall(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dest := filepath.Join(r.dir, name)
	if _, err := os.Stat(dest); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	// Rename out of the kernels directory first so listers never see a
	// half-removed entry, then delete the detached copy.
	trash := filepath.Join(r.dir, ".trash-"+uuid.NewString())
	if err := os.Rename(dest, trash); err != nil {
		return engine.NewRegistryError("cannot remove kernel directory", err).WithKernel(name)
	}
	if err := os.RemoveAll(trash); err != nil {
		return engine.NewRegistryError("cannot delete kernel directory", err).WithKernel(name)
	}

	r.logger.Info().Str("kernel", name).Msg("kernelspec uninstalled")
	return nil
}

// List returns all installed specs. Entries that fail to parse are skipped
// with a warning rather than failing the whole enumeration.
func (r *Registry) List(ctx context.Context) ([]engine.KernelSpec, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, engine.NewRegistryError("cannot read kernels directory", err)
	}

	specs := make([]engine.KernelSpec, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		spec, err := r.readSpec(entry.Name())
		if err != nil {
			r.logger.Warn().Err(err).Str("kernel", entry.Name()).Msg("skipping unreadable kernelspec")
			continue
		}
		specs = append(specs, *spec)
	}
	return specs, nil
}

// Get returns the named spec.
func (r *Registry) Get(ctx context.Context, name string) (*engine.KernelSpec, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	spec, err := r.readSpec(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, engine.NewRegistryError(
				fmt.Sprintf("kernelspec %s is not installed", name), err).
				WithKernel(name).
				WithCode(engine.ErrCodeNotFound)
		}
		return nil, engine.NewRegistryError("cannot read kernelspec", err).WithKernel(name)
	}
	return spec, nil
}

// readSpec reconstructs a KernelSpec from its kernel.json entry.
func (r *Registry) readSpec(name string) (*engine.KernelSpec, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(r.dir, name, "kernel.json"))
	if err != nil {
		return nil, err
	}

	var entry kernelJSON
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}

	return &engine.KernelSpec{
		Name:        name,
		DisplayName: entry.DisplayName,
		Selector:    entry.Metadata.UVK.Selector,
		IconPath:    entry.Metadata.UVK.IconPath,
		Env:         entry.Env,
		CreatedAt:   entry.Metadata.UVK.CreatedAt,
	}, nil
}

// swapDir atomically replaces dest with src. When dest already exists it is
// renamed aside first; rename is atomic per directory entry, so observers see
// either the old complete entry or the new one.
func swapDir(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrExist) && !isDirNotEmpty(err) {
		return err
	}

	aside := dest + ".old-" + uuid.NewString()
	if err := os.Rename(dest, aside); err != nil {
		return err
	}
	if err := os.Rename(src, dest); err != nil {
		// Put the old entry back rather than leaving a hole.
		_ = os.Rename(aside, dest)
		return err
	}
	return os.RemoveAll(aside)
}

// isDirNotEmpty matches the rename failure for a non-empty destination.
func isDirNotEmpty(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return true
	}
	return false
}

// copyFile copies src to dest with the default file mode.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
