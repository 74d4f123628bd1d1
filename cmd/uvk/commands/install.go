package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/uvk/uvk/pkg/config"
	"github.com/uvk/uvk/pkg/engine"
	"github.com/uvk/uvk/pkg/registry"
)

func newInstallCommand() *cobra.Command {
	var (
		name        string
		displayName string
		python      string
		iconPath    string
		env         map[string]string
		system      bool
		sysPrefix   bool
		prefix      string
		tmpDir      string
		setFile     string
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install a kernelspec",
		Long: `Install a Jupyter kernelspec whose kernel runs in an ephemeral
uv-provisioned environment.

The --python value selects the interpreter: a version ("3.12"), a range
(">=3.10,<3.13"), or an absolute interpreter path. The interpreter is
resolved at launch time, so installing never downloads anything.

With --file, kernel definitions are read from a CUE kernel set and
installed in bulk.`,
		Example: `  # Install a kernel for the latest Python 3.12
  uvk install --name py312 --python 3.12

  # Install with a display name and environment variables
  uvk install --name ml --display-name "ML (3.11)" --python 3.11 --env OMP_NUM_THREADS=4

  # Pin an explicit interpreter
  uvk install --name sys --python /usr/bin/python3

  # Install a whole kernel set from CUE
  uvk install --file kernels.cue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if sysPrefix {
				venv := os.Getenv("VIRTUAL_ENV")
				if venv == "" {
					return fmt.Errorf("--sys-prefix requires an active virtual environment")
				}
				prefix = venv
			}

			reg, err := openRegistry(cfg, system, prefix)
			if err != nil {
				return err
			}

			if setFile != "" {
				return installKernelSet(cmd, reg, setFile)
			}

			if name == "" {
				return fmt.Errorf("either --name or --file is required")
			}

			selector := engine.ParseSelector(python)
			if displayName == "" {
				if selector.Kind == engine.SelectorVersionConstraint && python != "" {
					displayName = fmt.Sprintf("UVK (Python %s)", python)
				} else {
					displayName = name
				}
			}

			if tmpDir != "" {
				if env == nil {
					env = make(map[string]string)
				}
				env["TMPDIR"] = tmpDir
			}

			spec := &engine.KernelSpec{
				Name:        name,
				DisplayName: displayName,
				Selector:    selector,
				IconPath:    iconPath,
				Env:         env,
			}

			if err := reg.Install(cmd.Context(), spec); err != nil {
				return err
			}

			fmt.Printf("Installed kernelspec %q in %s\n", name, reg.Dir())
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "kernelspec name")
	cmd.Flags().StringVar(&displayName, "display-name", "", "display name shown in the launcher")
	cmd.Flags().StringVarP(&python, "python", "p", "", "interpreter version, range, or path")
	cmd.Flags().StringVar(&iconPath, "icon", "", "icon file copied into the kernel directory")
	cmd.Flags().StringToStringVar(&env, "env", nil, "environment variables for the kernel (KEY=VALUE)")
	cmd.Flags().BoolVar(&system, "system", false, "install into the system-wide kernels directory")
	cmd.Flags().BoolVar(&sysPrefix, "sys-prefix", false, "install into the active virtual environment's prefix")
	cmd.Flags().StringVar(&prefix, "prefix", "", "install under a Python distribution prefix")
	cmd.Flags().StringVar(&tmpDir, "tmp", "", "TMPDIR exported to the kernel process")
	cmd.Flags().StringVar(&setFile, "file", "", "CUE kernel set to install in bulk")

	return cmd
}

// installKernelSet parses a CUE kernel set and installs every definition.
func installKernelSet(cmd *cobra.Command, reg *registry.Registry, path string) error {
	parser := config.NewCUEParser()
	set, err := parser.Parse(cmd.Context(), []string{path})
	if err != nil {
		return err
	}
	if len(set.Errors) > 0 {
		for _, verr := range set.Errors {
			log.Error().
				Str("file", verr.File).
				Int("line", verr.Line).
				Str("path", verr.Path).
				Msg(verr.Message)
		}
		return fmt.Errorf("kernel set %s has %d validation errors", path, len(set.Errors))
	}
	if len(set.Kernels) == 0 {
		return fmt.Errorf("kernel set %s defines no kernels", path)
	}

	for _, kc := range set.Kernels {
		spec := kc.ToKernelSpec()
		if err := reg.Install(cmd.Context(), &spec); err != nil {
			return fmt.Errorf("installing %s: %w", kc.Name, err)
		}
		fmt.Printf("Installed kernelspec %q in %s\n", kc.Name, reg.Dir())
	}
	return nil
}
