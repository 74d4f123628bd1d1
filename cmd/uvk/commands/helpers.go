package commands

import (
	"github.com/rs/zerolog/log"

	"github.com/uvk/uvk/pkg/config"
	"github.com/uvk/uvk/pkg/registry"
	"github.com/uvk/uvk/pkg/uvrun"
)

// loadConfig loads the engine configuration named by the global --config
// flag, falling back to defaults when the flag is unset.
func loadConfig() (*config.EngineConfig, error) {
	return config.LoadEngineConfig(configPath)
}

// newBuilder locates uv and wraps it in the environment builder.
func newBuilder(cfg *config.EngineConfig) (*uvrun.Builder, error) {
	if cfg.UVPath != "" && cfg.UVPath != "uv" {
		return uvrun.NewBuilder(uvrun.New(cfg.UVPath, log.Logger)), nil
	}
	uv, err := uvrun.Find(log.Logger)
	if err != nil {
		return nil, err
	}
	return uvrun.NewBuilder(uv), nil
}

// kernelsDir picks the kernelspec directory: an explicit flag wins, then the
// config override, then the per-user Jupyter directory.
func kernelsDir(cfg *config.EngineConfig, system bool, prefix string) (string, error) {
	if prefix != "" {
		return registry.PrefixDir(prefix), nil
	}
	if system {
		return registry.SystemDir(), nil
	}
	if cfg.KernelsDir != "" {
		return cfg.KernelsDir, nil
	}
	return registry.UserDir()
}

// openRegistry opens the kernelspec registry at the selected directory.
func openRegistry(cfg *config.EngineConfig, system bool, prefix string) (*registry.Registry, error) {
	dir, err := kernelsDir(cfg, system, prefix)
	if err != nil {
		return nil, err
	}
	return registry.New(dir, "", log.Logger)
}
