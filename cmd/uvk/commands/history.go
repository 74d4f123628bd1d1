package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/uvk/uvk/pkg/config"
	"github.com/uvk/uvk/pkg/engine"
	"github.com/uvk/uvk/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded kernel launches",
		Long: `Inspect the launch history: which kernels launched, in which
environments, and how each session ended. Restart decisions stay with the
host; the history only keeps the evidence.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func newHistoryListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent launches, newest first",
		Example: `  uvk history list
  uvk history list --limit 5 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := historyStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			if len(records) == 0 {
				fmt.Println("No launches recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKERNEL\tSTATE\tEXIT\tSTARTED\tENDED")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					rec.ID,
					rec.Kernel,
					rec.State,
					formatExitCode(rec.ExitCode),
					rec.StartedAt.Format(time.RFC3339),
					formatEndedAt(rec.EndedAt),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of launches to show")

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <launch-id>",
		Short: "Show one launch and its dependency mutations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := historyStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			mutations, err := store.ListMutations(cmd.Context(), rec.ID)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Launch    *engine.LaunchRecord     `json:"launch"`
					Mutations []*stores.MutationRecord `json:"mutations,omitempty"`
				}{rec, mutations})
			}

			fmt.Printf("Launch:   %s\n", rec.ID)
			fmt.Printf("Kernel:   %s\n", rec.Kernel)
			fmt.Printf("Root:     %s\n", rec.Root)
			fmt.Printf("Python:   %s\n", rec.Python)
			fmt.Printf("State:    %s\n", rec.State)
			fmt.Printf("Exit:     %s\n", formatExitCode(rec.ExitCode))
			fmt.Printf("Started:  %s\n", rec.StartedAt.Format(time.RFC3339))
			fmt.Printf("Ended:    %s\n", formatEndedAt(rec.EndedAt))

			if len(mutations) > 0 {
				fmt.Println("\nMutations:")
				for _, m := range mutations {
					fmt.Printf("  %s  %s  %s  [%s]\n",
						m.AppliedAt.Format(time.RFC3339), m.Strategy, m.Specifiers, m.Source)
				}
			}
			return nil
		},
	}

	return cmd
}

func newHistoryPruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove ended launches older than a cutoff",
		Example: `  # Drop launches that ended more than two weeks ago
  uvk history prune --older-than 336h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := historyStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.PruneBefore(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d launches\n", removed)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age cutoff for ended launches")

	return cmd
}

// historyStore opens the configured history database.
func historyStore(ctx context.Context) (*stores.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openHistoryStore(ctx, cfg)
}

// openHistoryStore opens and migrates the history database regardless of the
// history.enabled setting, so past records stay inspectable.
func openHistoryStore(ctx context.Context, cfg *config.EngineConfig) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.History.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func formatExitCode(code *int) string {
	if code == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *code)
}

func formatEndedAt(t *time.Time) string {
	if t == nil {
		return "running"
	}
	return t.Format(time.RFC3339)
}
