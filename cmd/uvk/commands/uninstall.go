package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUninstallCommand() *cobra.Command {
	var (
		system bool
		prefix string
	)

	cmd := &cobra.Command{
		Use:   "uninstall <name>...",
		Short: "Remove installed kernelspecs",
		Long: `Remove one or more kernelspecs from the registry.

Removing an unknown name is a no-op, so cleanup scripts stay safe to
re-run. Running sessions are not affected; their environments are torn
down when the session ends.`,
		Example: `  # Remove a kernelspec
  uvk uninstall py312

  # Remove several at once
  uvk uninstall py312 ml legacy`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			reg, err := openRegistry(cfg, system, prefix)
			if err != nil {
				return err
			}

			for _, name := range args {
				if err := reg.Uninstall(cmd.Context(), name); err != nil {
					return err
				}
				fmt.Printf("Removed kernelspec %q\n", name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&system, "system", false, "target the system-wide kernels directory")
	cmd.Flags().StringVar(&prefix, "prefix", "", "target a Python distribution prefix")

	return cmd
}
