package config

import (
	"fmt"
	"time"

	"github.com/uvk/uvk/pkg/engine"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "45s"
// as well as integer nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// EngineConfig is the engine-wide configuration, loaded from YAML.
type EngineConfig struct {
	// UVPath is the uv executable to invoke. Resolved via PATH when relative.
	UVPath string `yaml:"uv_path" validate:"required"`

	// ScratchDir is where ephemeral environment roots are created.
	// Empty means the system temp directory.
	ScratchDir string `yaml:"scratch_dir"`

	// KernelsDir overrides the kernelspec install directory. Empty means
	// the per-user Jupyter data directory.
	KernelsDir string `yaml:"kernels_dir"`

	// HandshakeTimeout bounds the wait for a spawned kernel to come up.
	HandshakeTimeout Duration `yaml:"handshake_timeout" validate:"min=0"`

	// ShutdownGrace is how long a kernel gets to exit after SIGTERM
	// before it is killed.
	ShutdownGrace Duration `yaml:"shutdown_grace" validate:"min=0"`

	// BuildTimeout bounds the package-install step when provisioning or
	// mutating an environment.
	BuildTimeout Duration `yaml:"build_timeout" validate:"min=0"`

	// History configures the launch history store.
	History HistoryConfig `yaml:"history"`

	// Policy configures dependency-request screening.
	Policy PolicyConfig `yaml:"policy"`

	// Logging configures the engine logger.
	Logging LoggingConfig `yaml:"logging"`
}

// HistoryConfig configures the launch history store.
type HistoryConfig struct {
	// Enabled controls whether launches are recorded.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database path.
	Path string `yaml:"path"`

	// Retention is how long terminated launches are kept. Zero keeps
	// them forever.
	Retention Duration `yaml:"retention" validate:"min=0"`
}

// PolicyConfig configures dependency-request screening.
type PolicyConfig struct {
	// Enabled indicates if policy enforcement is enabled.
	Enabled bool `yaml:"enabled"`

	// Paths lists extra policy file or directory paths.
	Paths []string `yaml:"paths"`

	// DisableBuiltins skips loading the built-in policies.
	DisableBuiltins bool `yaml:"disable_builtins"`
}

// LoggingConfig configures the engine logger.
type LoggingConfig struct {
	// Level sets the minimum log level.
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// Format specifies the log format (console, json).
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string `yaml:"output"`
}

// KernelConfig is one kernel definition from a CUE kernel set.
type KernelConfig struct {
	// Name is the kernelspec directory name.
	Name string `json:"name" validate:"required,kernelname"`

	// DisplayName is shown in the Jupyter launcher. Defaults to Name.
	DisplayName string `json:"display_name,omitempty"`

	// Python is the interpreter selector (version, constraint, or path).
	Python string `json:"python,omitempty"`

	// IconPath optionally references an icon copied into the kernel
	// directory on install.
	IconPath string `json:"icon_path,omitempty"`

	// Env are extra environment variables for the kernel process.
	Env map[string]string `json:"env,omitempty"`
}

// ParsedKernelSet is the result of parsing CUE kernel definitions.
type ParsedKernelSet struct {
	// Kernels are all kernel definitions in the set.
	Kernels []KernelConfig `json:"kernels"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the set was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "kernels.ml.python").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity"`
}

// ToKernelSpec converts a kernel definition to an installable kernelspec.
// The registry stamps CreatedAt on install.
func (kc KernelConfig) ToKernelSpec() engine.KernelSpec {
	display := kc.DisplayName
	if display == "" {
		display = kc.Name
	}
	return engine.KernelSpec{
		Name:        kc.Name,
		DisplayName: display,
		Selector:    engine.ParseSelector(kc.Python),
		IconPath:    kc.IconPath,
		Env:         kc.Env,
	}
}
