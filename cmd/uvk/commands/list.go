package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newListCommand() *cobra.Command {
	var (
		system bool
		prefix string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed kernelspecs",
		Example: `  # List kernelspecs in the user registry
  uvk list

  # Machine-readable output
  uvk list --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			reg, err := openRegistry(cfg, system, prefix)
			if err != nil {
				return err
			}

			specs, err := reg.List(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(specs)
			}

			if len(specs) == 0 {
				fmt.Printf("No kernelspecs installed in %s\n", reg.Dir())
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDISPLAY NAME\tPYTHON\tINSTALLED")
			for _, spec := range specs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					spec.Name,
					spec.DisplayName,
					spec.Selector.String(),
					spec.CreatedAt.Format("2006-01-02 15:04"),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&system, "system", false, "list the system-wide kernels directory")
	cmd.Flags().StringVar(&prefix, "prefix", "", "list a Python distribution prefix")

	return cmd
}
