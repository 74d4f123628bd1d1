package engine

import (
	"context"
	"time"
)

// Builder is the external environment-build collaborator, in practice the uv
// binary. Its stdout/stderr are captured for error attachment, not parsed for
// control flow; the interpreter inventory calls are the read-only exception.
type Builder interface {
	// CreateEnv materializes a virtual environment for the interpreter at the
	// given root and installs the dependency set into it.
	CreateEnv(ctx context.Context, interp InterpreterHandle, root string, deps []string) error

	// Install adds packages to an existing environment in place.
	Install(ctx context.Context, env *EphemeralEnvironment, specs []string) error

	// Sync makes the environment's installed set exactly match specs,
	// removing anything else. Used for rollback.
	Sync(ctx context.Context, env *EphemeralEnvironment, specs []string) error

	// ListInterpreters returns the interpreters currently available to uv.
	ListInterpreters(ctx context.Context) ([]InterpreterHandle, error)

	// InstallInterpreter acquires an interpreter matching the constraint.
	InstallInterpreter(ctx context.Context, constraint string) error
}

// Provisioner creates and destroys ephemeral environments.
type Provisioner interface {
	// Create allocates a fresh, collision-free root and builds an environment
	// in it. Failures surface as provision errors; there is never a fallback
	// to a shared or default environment.
	Create(ctx context.Context, interp InterpreterHandle, deps []string) (*EphemeralEnvironment, error)

	// Destroy removes the environment root. Idempotent: destroying an
	// already-absent root succeeds.
	Destroy(ctx context.Context, env *EphemeralEnvironment) error
}

// Resolver matches an interpreter selector to a concrete interpreter.
type Resolver interface {
	// Resolve validates an explicit path, or matches a version constraint
	// against available interpreters, acquiring one if none satisfy it.
	// Resolution happens exactly once per launch; failure aborts the launch
	// before any environment is created.
	Resolve(ctx context.Context, selector InterpreterSelector) (*InterpreterHandle, error)
}

// Registry manages persisted kernelspecs.
type Registry interface {
	// Install writes the spec atomically; installing an existing name
	// overwrites it without a concurrently listing host ever observing a
	// partial entry.
	Install(ctx context.Context, spec *KernelSpec) error

	// Uninstall removes the named spec. Unknown names are a no-op.
	Uninstall(ctx context.Context, name string) error

	// List returns all installed specs.
	List(ctx context.Context) ([]KernelSpec, error)

	// Get returns the named spec.
	Get(ctx context.Context, name string) (*KernelSpec, error)
}

// MutationHandler applies on-the-fly dependency additions to a running
// environment.
type MutationHandler interface {
	Apply(ctx context.Context, env *EphemeralEnvironment, req DependencyRequest) (*MutationOutcome, error)
}

// Handshaker is the contract with the host's messaging transport: the kernel
// process must speak the host's startup handshake, and the supervisor only
// enters Running once the handshake is acknowledged.
type Handshaker interface {
	// Await blocks until the kernel identified by the connection file has
	// acknowledged the startup handshake, or ctx expires.
	Await(ctx context.Context, connectionFile string, pid int) error
}

// RequestGate screens dependency requests before any install runs.
type RequestGate interface {
	// Check returns a non-nil error when policy denies the request.
	Check(ctx context.Context, req DependencyRequest) error
}

// LaunchRecord is a row in the launch-history store.
type LaunchRecord struct {
	ID        string       `json:"id"`
	Kernel    string       `json:"kernel"`
	Root      string       `json:"root"`
	Python    string       `json:"python"`
	State     KernelState  `json:"state"`
	ExitCode  *int         `json:"exit_code,omitempty"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
}

// HistoryStore records kernel launches and their outcomes. Restart policy is
// the host's decision; the store only keeps the evidence.
type HistoryStore interface {
	RecordStart(ctx context.Context, rec *LaunchRecord) error
	RecordExit(ctx context.Context, id string, state KernelState, exitCode int) error
	List(ctx context.Context, limit int) ([]LaunchRecord, error)
	Get(ctx context.Context, id string) (*LaunchRecord, error)
}
