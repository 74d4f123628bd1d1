// Package magic interprets in-session directives addressed to the engine
// instead of the kernel. Commands are a closed tagged set dispatched through a
// fixed table; there is no open-ended lookup.
package magic

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/uvk/uvk/pkg/engine"
	"github.com/uvk/uvk/pkg/metadata"
	"github.com/uvk/uvk/pkg/resolve"
)

// Kind tags a command variant.
type Kind string

const (
	// KindConstraintCheck validates the session interpreter against a version
	// constraint without mutating anything.
	KindConstraintCheck Kind = "constraint-check"

	// KindDependencyAdd routes a set of specifiers to the mutation handler.
	KindDependencyAdd Kind = "dependency-add"

	// KindMetadataApply extracts an inline metadata block from cell source and
	// routes its dependencies to the mutation handler.
	KindMetadataApply Kind = "metadata-apply"
)

// Command is one parsed directive.
type Command struct {
	Kind Kind

	// Constraint is set for KindConstraintCheck.
	Constraint string

	// Specifiers is set for KindDependencyAdd.
	Specifiers []string

	// Source is set for KindMetadataApply and carries the cell text holding
	// the inline metadata block.
	Source string
}

// Directive is the line prefix that marks a cell line as a command.
const Directive = "%uvk"

// Parse interprets a directive line. The remainder of the cell, if any, is
// passed through for commands that consume it.
func Parse(line, rest string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != Directive {
		return Command{}, engine.NewMetadataError(
			fmt.Sprintf("not a %s directive: %q", Directive, line), nil).
			WithCode(engine.ErrCodeValidation)
	}
	if len(fields) < 2 {
		return Command{}, engine.NewMetadataError(
			fmt.Sprintf("%s directive is missing a verb", Directive), nil).
			WithCode(engine.ErrCodeValidation)
	}

	switch verb := fields[1]; verb {
	case "check":
		if len(fields) < 3 {
			return Command{}, engine.NewMetadataError("check directive requires a version constraint", nil).
				WithCode(engine.ErrCodeValidation)
		}
		return Command{
			Kind:       KindConstraintCheck,
			Constraint: strings.Join(fields[2:], ""),
		}, nil
	case "add":
		if len(fields) < 3 {
			return Command{}, engine.NewMetadataError("add directive requires at least one specifier", nil).
				WithCode(engine.ErrCodeValidation)
		}
		return Command{
			Kind:       KindDependencyAdd,
			Specifiers: fields[2:],
		}, nil
	case "apply":
		return Command{
			Kind:   KindMetadataApply,
			Source: rest,
		}, nil
	default:
		return Command{}, engine.NewMetadataError(
			fmt.Sprintf("unknown directive verb %q", verb), nil).
			WithCode(engine.ErrCodeValidation)
	}
}

// Result is what a dispatched command reports back to the session.
type Result struct {
	Kind Kind

	// Pass is the verdict of a constraint check.
	Pass bool

	// Message is a human-readable summary for display in the session.
	Message string

	// Outcome is set when the command mutated the environment.
	Outcome *engine.MutationOutcome

	// Warnings carries non-fatal findings, e.g. stray lines after an inline
	// metadata block.
	Warnings []string
}

type handlerFunc func(ctx context.Context, env *engine.EphemeralEnvironment, cmd Command) (*Result, error)

// Dispatcher routes commands to their handlers through a table fixed at
// construction.
type Dispatcher struct {
	mutator engine.MutationHandler
	table   map[Kind]handlerFunc
	logger  zerolog.Logger
}

// NewDispatcher builds the dispatch table.
func NewDispatcher(mutator engine.MutationHandler, logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		mutator: mutator,
		logger:  logger.With().Str("component", "magic-dispatcher").Logger(),
	}
	d.table = map[Kind]handlerFunc{
		KindConstraintCheck: d.constraintCheck,
		KindDependencyAdd:   d.dependencyAdd,
		KindMetadataApply:   d.metadataApply,
	}
	return d
}

// Dispatch executes a command against the session's environment.
func (d *Dispatcher) Dispatch(ctx context.Context, env *engine.EphemeralEnvironment, cmd Command) (*Result, error) {
	handler, ok := d.table[cmd.Kind]
	if !ok {
		return nil, engine.NewInternalError(
			fmt.Sprintf("no handler for command kind %q", cmd.Kind), nil)
	}
	d.logger.Debug().Str("kind", string(cmd.Kind)).Msg("dispatching command")
	return handler(ctx, env, cmd)
}

func (d *Dispatcher) constraintCheck(ctx context.Context, env *engine.EphemeralEnvironment, cmd Command) (*Result, error) {
	pass, err := resolve.CheckConstraint(cmd.Constraint, env.Interpreter.Version)
	if err != nil {
		return nil, err
	}
	verdict := "satisfies"
	if !pass {
		verdict = "does not satisfy"
	}
	return &Result{
		Kind:    KindConstraintCheck,
		Pass:    pass,
		Message: fmt.Sprintf("python %s %s %q", env.Interpreter.Version, verdict, cmd.Constraint),
	}, nil
}

func (d *Dispatcher) dependencyAdd(ctx context.Context, env *engine.EphemeralEnvironment, cmd Command) (*Result, error) {
	outcome, err := d.mutator.Apply(ctx, env, engine.DependencyRequest{
		Specifiers: cmd.Specifiers,
		Source:     engine.SourceLiveMagic,
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		Kind:    KindDependencyAdd,
		Pass:    true,
		Message: fmt.Sprintf("added %s via %s", strings.Join(outcome.Added, ", "), outcome.Strategy),
		Outcome: outcome,
	}, nil
}

func (d *Dispatcher) metadataApply(ctx context.Context, env *engine.EphemeralEnvironment, cmd Command) (*Result, error) {
	block, err := metadata.Parse(cmd.Source)
	if err != nil {
		return nil, err
	}

	if block.RequiresPython != "" {
		pass, err := resolve.CheckConstraint(block.RequiresPython, env.Interpreter.Version)
		if err != nil {
			return nil, err
		}
		if !pass {
			return nil, engine.NewMetadataError(
				fmt.Sprintf("session interpreter %s does not satisfy requires-python %q",
					env.Interpreter.Version, block.RequiresPython), nil).
				WithCode(engine.ErrCodeValidation)
		}
	}

	req := block.Request()
	if req == nil {
		return &Result{
			Kind:     KindMetadataApply,
			Pass:     true,
			Message:  "no inline metadata dependencies to apply",
			Warnings: block.Warnings,
		}, nil
	}

	outcome, err := d.mutator.Apply(ctx, env, *req)
	if err != nil {
		return nil, err
	}
	return &Result{
		Kind:     KindMetadataApply,
		Pass:     true,
		Message:  fmt.Sprintf("applied %s via %s", strings.Join(outcome.Added, ", "), outcome.Strategy),
		Outcome:  outcome,
		Warnings: block.Warnings,
	}, nil
}
