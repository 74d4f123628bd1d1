package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/uvk/uvk/pkg/config"
	"github.com/uvk/uvk/pkg/engine"
	"github.com/uvk/uvk/pkg/magic"
	"github.com/uvk/uvk/pkg/mutate"
	"github.com/uvk/uvk/pkg/policy"
	"github.com/uvk/uvk/pkg/provision"
	"github.com/uvk/uvk/pkg/stores"
	"github.com/uvk/uvk/pkg/uvrun"
)

func newMagicCommand() *cobra.Command {
	var (
		root          string
		pythonVersion string
		installed     []string
	)

	cmd := &cobra.Command{
		Use:   "magic <directive>...",
		Short: "Execute an in-session directive against a running environment",
		Long: `Execute a %uvk directive against a session's environment. The kernel-side
magic hook shells out to this command, passing its own environment root.

Directives:
  %uvk check <constraint>    verify the session interpreter satisfies a range
  %uvk add <specifier>...    add dependencies to the running environment
  %uvk apply                 apply an inline metadata block read from stdin

Dependency additions are screened by policy before anything installs.`,
		Example: `  # Check the session interpreter
  uvk magic --root $UVK_ENV_ROOT --python-version 3.11.2 '%uvk' check '>=3.10,<3.12'

  # Add dependencies live
  uvk magic --root $UVK_ENV_ROOT '%uvk' add 'requests' 'rich>=13'

  # Apply a PEP 723 block from a cell
  cat cell.py | uvk magic --root $UVK_ENV_ROOT --python-version 3.11.2 '%uvk' apply`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMagic(cmd, root, pythonVersion, installed, args)
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "environment root of the running session")
	cmd.Flags().StringVar(&pythonVersion, "python-version", "", "session interpreter version, for constraint checks")
	cmd.Flags().StringSliceVar(&installed, "installed", nil, "specifiers already installed in the session")
	_ = cmd.MarkFlagRequired("root")

	return cmd
}

func runMagic(cmd *cobra.Command, root, pythonVersion string, installed, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	line := strings.Join(args, " ")

	// Apply reads the cell body from stdin; the other directives carry
	// everything on the line.
	var rest string
	if fields := strings.Fields(line); len(fields) >= 2 && fields[1] == "apply" {
		body, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read cell body: %w", err)
		}
		rest = string(body)
	}

	command, err := magic.Parse(line, rest)
	if err != nil {
		return err
	}

	env := &engine.EphemeralEnvironment{
		Root:   root,
		Python: uvrun.PythonPath(root),
		Interpreter: engine.InterpreterHandle{
			Path:    uvrun.PythonPath(root),
			Version: pythonVersion,
		},
		Dependencies: installed,
	}

	builder, err := newBuilder(cfg)
	if err != nil {
		return err
	}
	provisioner := provision.New(builder, provision.Options{
		ScratchDir:   cfg.ScratchDir,
		BuildTimeout: cfg.BuildTimeout.Std(),
	}, log.Logger)

	var gate engine.RequestGate
	if cfg.Policy.Enabled {
		var pe *policy.Engine
		if cfg.Policy.DisableBuiltins {
			pe = policy.NewBareEngine(log.Logger)
		} else {
			pe, err = policy.NewEngine(log.Logger)
			if err != nil {
				return err
			}
		}
		if len(cfg.Policy.Paths) > 0 {
			if err := pe.LoadPolicies(cmd.Context(), cfg.Policy.Paths); err != nil {
				return err
			}
		}
		gate = pe
	}

	mutator := mutate.New(builder, provisioner, gate, mutate.Options{
		InstallTimeout: cfg.BuildTimeout.Std(),
	}, log.Logger)
	dispatcher := magic.NewDispatcher(mutator, log.Logger)

	result, err := dispatcher.Dispatch(cmd.Context(), env, command)
	if err != nil {
		return err
	}

	if result.Outcome != nil {
		recordMutation(cmd.Context(), cfg, root, result.Outcome, command.Kind)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Println(result.Message)
	for _, warning := range result.Warnings {
		fmt.Printf("warning: %s\n", warning)
	}
	if result.Kind == magic.KindConstraintCheck && !result.Pass {
		os.Exit(1)
	}
	return nil
}

// recordMutation attaches an applied mutation to the launch that owns the
// environment root, so `uvk history show` can replay what a session pulled
// in. Recording is best-effort; a history failure never fails the directive.
func recordMutation(ctx context.Context, cfg *config.EngineConfig, root string, outcome *engine.MutationOutcome, kind magic.Kind) {
	if !cfg.History.Enabled {
		return
	}

	store, err := openHistoryStore(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("history unavailable; mutation not recorded")
		return
	}
	defer store.Close()

	launch, err := store.FindActiveByRoot(ctx, root)
	if err != nil {
		log.Warn().Err(err).Msg("launch lookup failed; mutation not recorded")
		return
	}
	if launch == nil {
		log.Debug().Str("root", root).Msg("no active launch for root; mutation not recorded")
		return
	}

	source := engine.SourceLiveMagic
	if kind == magic.KindMetadataApply {
		source = engine.SourceInlineMetadata
	}
	rec := &stores.MutationRecord{
		LaunchID:   launch.ID,
		Strategy:   string(outcome.Strategy),
		Specifiers: strings.Join(outcome.Added, "\n"),
		Source:     string(source),
		AppliedAt:  time.Now(),
	}
	if err := store.RecordMutation(ctx, rec); err != nil {
		log.Warn().Err(err).Msg("failed to record mutation")
	}
}
