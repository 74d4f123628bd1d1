package engine

import (
	"fmt"
	"strings"
	"time"
)

// SelectorKind distinguishes the two forms of interpreter selection.
type SelectorKind string

const (
	// SelectorExplicitPath selects an interpreter by filesystem path.
	SelectorExplicitPath SelectorKind = "path"

	// SelectorVersionConstraint selects an interpreter by version expression,
	// using the same convention as uv's --python option: a bare version such
	// as "3.12", a full version such as "3.13.3", or a range such as
	// ">=3.10,<3.12".
	SelectorVersionConstraint SelectorKind = "constraint"
)

// InterpreterSelector is a tagged variant identifying the interpreter a
// kernelspec targets. Immutable once bound into a KernelSpec.
type InterpreterSelector struct {
	// Kind is the variant tag.
	Kind SelectorKind `json:"kind" validate:"required,oneof=path constraint"`

	// Value is the path or constraint expression, depending on Kind.
	Value string `json:"value" validate:"required"`
}

// ParseSelector interprets a user-supplied --python value. Anything containing
// a path separator is an explicit path; everything else is a version constraint.
// An empty value yields the any-version constraint.
func ParseSelector(s string) InterpreterSelector {
	s = strings.TrimSpace(s)
	if s == "" {
		return InterpreterSelector{Kind: SelectorVersionConstraint, Value: "*"}
	}
	if strings.ContainsAny(s, `/\`) {
		return InterpreterSelector{Kind: SelectorExplicitPath, Value: s}
	}
	return InterpreterSelector{Kind: SelectorVersionConstraint, Value: s}
}

// String returns the selector in the form accepted by ParseSelector.
func (s InterpreterSelector) String() string {
	return s.Value
}

// InterpreterHandle is a resolved, concrete interpreter.
type InterpreterHandle struct {
	// Path is the absolute path to the interpreter executable.
	Path string `json:"path"`

	// Version is the concrete interpreter version (e.g., "3.11.2").
	Version string `json:"version"`
}

// KernelSpec is a persisted, named kernel definition. One spec exists per
// interpreter/constraint combination; the host reads specs at session start.
type KernelSpec struct {
	// Name uniquely identifies the spec within the registry.
	Name string `json:"name" validate:"required,min=1"`

	// DisplayName is the pretty name shown in the notebook interface.
	DisplayName string `json:"display_name" validate:"required"`

	// Selector identifies the target interpreter.
	Selector InterpreterSelector `json:"selector" validate:"required"`

	// IconPath optionally references an icon file copied into the kernel
	// directory on install.
	IconPath string `json:"icon_path,omitempty"`

	// Env holds environment variables defined as the kernel starts.
	Env map[string]string `json:"env,omitempty"`

	// CreatedAt is the install timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// EphemeralEnvironment is a disposable, isolated runtime root created fresh
// for a single kernel launch. Owned exclusively by the supervisor instance
// that created it; never shared across launches.
type EphemeralEnvironment struct {
	// Root is the environment root directory, unique per launch.
	Root string `json:"root"`

	// Python is the path to the interpreter bound inside the environment.
	Python string `json:"python"`

	// Interpreter is the resolved interpreter the environment was built from.
	Interpreter InterpreterHandle `json:"interpreter"`

	// Dependencies is the installed dependency set, by specifier.
	Dependencies []string `json:"dependencies,omitempty"`

	// CreatedAt is the provisioning timestamp.
	CreatedAt time.Time `json:"created_at"`

	// OwnerPID is the kernel process id once launched, zero before.
	OwnerPID int `json:"owner_pid,omitempty"`
}

// HasDependency reports whether the environment's installed set contains a
// package with the given distribution name (specifier extras and version
// markers are ignored for the comparison).
func (e *EphemeralEnvironment) HasDependency(name string) bool {
	want := NormalizeDistName(name)
	for _, dep := range e.Dependencies {
		if NormalizeDistName(dep) == want {
			return true
		}
	}
	return false
}

// NormalizeDistName reduces a dependency specifier to its canonical
// distribution name: lowercase, underscores and dots folded to hyphens,
// version markers and extras stripped.
func NormalizeDistName(spec string) string {
	s := strings.TrimSpace(spec)
	if i := strings.IndexAny(s, "[<>=!~; "); i >= 0 {
		s = s[:i]
	}
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, ".", "-")
	return s
}

// RequestSource identifies where a dependency request originated.
type RequestSource string

const (
	// SourceInlineMetadata marks requests extracted from a PEP 723 block.
	SourceInlineMetadata RequestSource = "inline-metadata"

	// SourceLiveMagic marks requests issued through an in-session magic.
	SourceLiveMagic RequestSource = "live-magic"
)

// DependencyRequest is a one-shot request to mutate a running environment's
// dependency set. It does not persist beyond the environment it targets.
type DependencyRequest struct {
	// Specifiers is the set of requested dependency specifiers.
	Specifiers []string `json:"specifiers" validate:"required,min=1,dive,min=1"`

	// Source records where the request came from.
	Source RequestSource `json:"source" validate:"required,oneof=inline-metadata live-magic"`
}

// MutationStrategy is the strategy chosen for a dependency mutation.
type MutationStrategy string

const (
	// StrategyLivePatch installs into the running environment in place.
	// Valid only while no conflicting version has been imported.
	StrategyLivePatch MutationStrategy = "live-patch"

	// StrategyRebuild provisions a fresh tree with the union of the prior
	// and requested sets and swaps it into the session's root path; the
	// running process must re-execute new code paths against it.
	StrategyRebuild MutationStrategy = "rebuild"
)

// MutationOutcome reports the result of applying a dependency request.
type MutationOutcome struct {
	// Strategy is the strategy that was applied.
	Strategy MutationStrategy `json:"strategy"`

	// Env is the environment holding the post-request dependency set. The
	// root path is unchanged for both strategies; a rebuild replaces the
	// tree underneath it.
	Env *EphemeralEnvironment `json:"env"`

	// Added lists the specifiers newly installed by this request.
	Added []string `json:"added,omitempty"`
}

// KernelState is a supervisor state machine state.
type KernelState string

const (
	StateCreated      KernelState = "created"
	StateLaunching    KernelState = "launching"
	StateRunning      KernelState = "running"
	StateShuttingDown KernelState = "shutting-down"
	StateCrashed      KernelState = "crashed"
	StateTerminated   KernelState = "terminated"
)

// IsTerminal returns true for the terminal state.
func (s KernelState) IsTerminal() bool {
	return s == StateTerminated
}

// validTransitions encodes the supervisor state machine:
// Created -> Launching -> Running -> {ShuttingDown -> Terminated | Crashed -> Terminated}.
// Launching may also fail straight to Crashed (handshake timeout, spawn failure).
var validTransitions = map[KernelState][]KernelState{
	StateCreated:      {StateLaunching},
	StateLaunching:    {StateRunning, StateCrashed},
	StateRunning:      {StateShuttingDown, StateCrashed},
	StateShuttingDown: {StateTerminated, StateCrashed},
	StateCrashed:      {StateTerminated},
	StateTerminated:   {},
}

// CanTransition reports whether the state machine permits moving from s to next.
func (s KernelState) CanTransition(next KernelState) bool {
	for _, n := range validTransitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// SessionBinding is the runtime association between a kernelspec, its
// provisioned environment, and the live kernel process. It exists only while
// the process is alive.
type SessionBinding struct {
	// ID uniquely identifies this launch.
	ID string `json:"id"`

	// Spec is the kernelspec the session was started from.
	Spec KernelSpec `json:"spec"`

	// Env is the environment owned by this session.
	Env *EphemeralEnvironment `json:"env"`

	// PID is the kernel process id.
	PID int `json:"pid"`

	// StartedAt is when the process entered Running.
	StartedAt time.Time `json:"started_at"`
}

// String implements fmt.Stringer for log output.
func (b *SessionBinding) String() string {
	return fmt.Sprintf("%s (kernel=%s pid=%d root=%s)", b.ID, b.Spec.Name, b.PID, b.Env.Root)
}
