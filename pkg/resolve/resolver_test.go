package resolve

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"

	"github.com/uvk/uvk/pkg/engine"
)

// fakeBuilder serves a canned interpreter inventory and records acquisition
// requests. Installing appends the configured handle to the inventory.
type fakeBuilder struct {
	installed    []engine.InterpreterHandle
	acquirable   *engine.InterpreterHandle
	installCalls []string
	listErr      error
}

func (f *fakeBuilder) CreateEnv(ctx context.Context, interp engine.InterpreterHandle, root string, deps []string) error {
	return nil
}

func (f *fakeBuilder) Install(ctx context.Context, env *engine.EphemeralEnvironment, specs []string) error {
	return nil
}

func (f *fakeBuilder) Sync(ctx context.Context, env *engine.EphemeralEnvironment, specs []string) error {
	return nil
}

func (f *fakeBuilder) ListInterpreters(ctx context.Context) ([]engine.InterpreterHandle, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.installed, nil
}

func (f *fakeBuilder) InstallInterpreter(ctx context.Context, constraint string) error {
	f.installCalls = append(f.installCalls, constraint)
	if f.acquirable != nil {
		f.installed = append(f.installed, *f.acquirable)
		f.acquirable = nil
	}
	return nil
}

func inventory(versions ...string) []engine.InterpreterHandle {
	handles := make([]engine.InterpreterHandle, len(versions))
	for i, v := range versions {
		handles[i] = engine.InterpreterHandle{
			Path:    filepath.Join("/opt/python", v, "bin/python3"),
			Version: v,
		}
	}
	return handles
}

func newTestResolver(b engine.Builder) *Resolver {
	return New(b, zerolog.Nop())
}

func TestResolveRangeConstraintPicksHighestSatisfying(t *testing.T) {
	builder := &fakeBuilder{installed: inventory("3.9", "3.10.4", "3.11.2")}
	r := newTestResolver(builder)

	handle, err := r.Resolve(context.Background(), engine.InterpreterSelector{
		Kind:  engine.SelectorVersionConstraint,
		Value: ">=3.10,<3.12",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if handle.Version != "3.10.4" && handle.Version != "3.11.2" {
		t.Fatalf("resolved to %s, expected a version in range", handle.Version)
	}
	if handle.Version != "3.11.2" {
		t.Errorf("resolved to %s, want 3.11.2 (highest satisfying)", handle.Version)
	}
	if len(builder.installCalls) != 0 {
		t.Errorf("acquisition must not run when a match exists")
	}
}

func TestResolveBareVersionMeansAnyPatch(t *testing.T) {
	builder := &fakeBuilder{installed: inventory("3.11.2", "3.12.1", "3.12.4", "3.13.0")}
	r := newTestResolver(builder)

	handle, err := r.Resolve(context.Background(), engine.InterpreterSelector{
		Kind:  engine.SelectorVersionConstraint,
		Value: "3.12",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if handle.Version != "3.12.4" {
		t.Errorf("resolved to %s, want 3.12.4", handle.Version)
	}
}

func TestResolveExactVersion(t *testing.T) {
	builder := &fakeBuilder{installed: inventory("3.13.3", "3.13.5")}
	r := newTestResolver(builder)

	handle, err := r.Resolve(context.Background(), engine.InterpreterSelector{
		Kind:  engine.SelectorVersionConstraint,
		Value: "3.13.3",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if handle.Version != "3.13.3" {
		t.Errorf("resolved to %s, want 3.13.3", handle.Version)
	}
}

func TestResolveAcquiresWhenNoMatchAndRetriesOnce(t *testing.T) {
	builder := &fakeBuilder{
		installed:  inventory("3.9"),
		acquirable: &engine.InterpreterHandle{Path: "/opt/python/3.12.4/bin/python3", Version: "3.12.4"},
	}
	r := newTestResolver(builder)

	handle, err := r.Resolve(context.Background(), engine.InterpreterSelector{
		Kind:  engine.SelectorVersionConstraint,
		Value: "3.12",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if handle.Version != "3.12.4" {
		t.Errorf("resolved to %s, want the acquired 3.12.4", handle.Version)
	}
	if len(builder.installCalls) != 1 || builder.installCalls[0] != "3.12" {
		t.Errorf("expected exactly one acquisition of 3.12, got %v", builder.installCalls)
	}
}

func TestResolveFailsAfterSingleAcquisitionAttempt(t *testing.T) {
	// Acquisition succeeds as a command but yields nothing matching.
	builder := &fakeBuilder{installed: inventory("3.9")}
	r := newTestResolver(builder)

	_, err := r.Resolve(context.Background(), engine.InterpreterSelector{
		Kind:  engine.SelectorVersionConstraint,
		Value: ">=3.12",
	})
	if err == nil {
		t.Fatal("expected resolution error")
	}
	if !engine.IsResolution(err) {
		t.Errorf("expected resolution-class error, got %v", err)
	}
	if len(builder.installCalls) != 1 {
		t.Errorf("expected exactly one acquisition attempt, got %d", len(builder.installCalls))
	}
}

func TestResolveInventoryErrorPropagates(t *testing.T) {
	builder := &fakeBuilder{listErr: engine.NewResolutionError("uv python list failed", errors.New("boom"))}
	r := newTestResolver(builder)

	_, err := r.Resolve(context.Background(), engine.InterpreterSelector{
		Kind:  engine.SelectorVersionConstraint,
		Value: "3.12",
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestResolveExplicitPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable-bit semantics differ on windows")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "python3")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	r := newTestResolver(&fakeBuilder{})
	handle, err := r.Resolve(context.Background(), engine.InterpreterSelector{
		Kind:  engine.SelectorExplicitPath,
		Value: path,
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if handle.Path != path {
		t.Errorf("handle path = %s, want %s", handle.Path, path)
	}
}

func TestResolveExplicitPathRejections(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable-bit semantics differ on windows")
	}

	dir := t.TempDir()

	notExec := filepath.Join(dir, "python3")
	if err := os.WriteFile(notExec, []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}
	notPython := filepath.Join(dir, "ruby")
	if err := os.WriteFile(notPython, []byte(""), 0o755); err != nil {
		t.Fatal(err)
	}

	r := newTestResolver(&fakeBuilder{})
	cases := []string{
		filepath.Join(dir, "missing"),
		dir,
		notExec,
		notPython,
	}
	for _, path := range cases {
		_, err := r.Resolve(context.Background(), engine.InterpreterSelector{
			Kind:  engine.SelectorExplicitPath,
			Value: path,
		})
		if err == nil {
			t.Errorf("expected rejection for %s", path)
			continue
		}
		if !engine.IsResolution(err) {
			t.Errorf("expected resolution-class error for %s, got %v", path, err)
		}
	}
}

func TestCheckConstraint(t *testing.T) {
	tests := []struct {
		expr    string
		version string
		want    bool
	}{
		{">=3.10,<3.12", "3.11.2", true},
		{">=3.10,<3.12", "3.12.0", false},
		{"3.12", "3.12.7", true},
		{"3.12", "3.13.0", false},
		{"*", "3.9.1", true},
	}
	for _, tt := range tests {
		got, err := CheckConstraint(tt.expr, tt.version)
		if err != nil {
			t.Errorf("CheckConstraint(%q, %q) failed: %v", tt.expr, tt.version, err)
			continue
		}
		if got != tt.want {
			t.Errorf("CheckConstraint(%q, %q) = %v, want %v", tt.expr, tt.version, got, tt.want)
		}
	}

	if _, err := CheckConstraint(">=>bad", "3.12.0"); err == nil {
		t.Error("expected error for malformed constraint")
	}
	if _, err := CheckConstraint("3.12", "not-a-version"); err == nil {
		t.Error("expected error for malformed version")
	}
}
