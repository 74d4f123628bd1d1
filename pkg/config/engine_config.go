package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultEngineConfig returns the engine configuration defaults.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		UVPath:           "uv",
		ScratchDir:       "",
		KernelsDir:       "",
		HandshakeTimeout: Duration(30 * time.Second),
		ShutdownGrace:    Duration(10 * time.Second),
		BuildTimeout:     Duration(10 * time.Minute),
		History: HistoryConfig{
			Enabled:   true,
			Path:      defaultHistoryPath(),
			Retention: Duration(30 * 24 * time.Hour),
		},
		Policy: PolicyConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// defaultHistoryPath places the history database under the user data
// directory, falling back to the temp directory.
func defaultHistoryPath() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".local", "share", "uvk", "history.db")
	}
	return filepath.Join(os.TempDir(), "uvk-history.db")
}

// LoadEngineConfig reads an engine configuration from a YAML file, filling
// unset fields with defaults. A missing file yields the defaults.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cfg := DefaultEngineConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// applyDefaults fills zero-valued fields after unmarshalling.
func (c *EngineConfig) applyDefaults() {
	def := DefaultEngineConfig()

	if c.UVPath == "" {
		c.UVPath = def.UVPath
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = def.ShutdownGrace
	}
	if c.BuildTimeout == 0 {
		c.BuildTimeout = def.BuildTimeout
	}
	if c.History.Path == "" {
		c.History.Path = def.History.Path
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Logging.Output == "" {
		c.Logging.Output = def.Logging.Output
	}
}

// Validate checks the configuration using struct tags.
func (c *EngineConfig) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}

	if c.ScratchDir != "" && !filepath.IsAbs(c.ScratchDir) {
		return fmt.Errorf("scratch_dir must be an absolute path, got %s", c.ScratchDir)
	}

	return nil
}
