package registry

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/uvk/uvk/pkg/engine"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(t.TempDir(), "/usr/local/bin/uvk", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func testSpec(name string) *engine.KernelSpec {
	return &engine.KernelSpec{
		Name:        name,
		DisplayName: "UVK (Python 3.12)",
		Selector:    engine.ParseSelector("3.12"),
		Env:         map[string]string{"TMPDIR": "/scratch"},
	}
}

func TestInstallThenList(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Install(ctx, testSpec("uvk")); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	specs, err := r.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(specs) != 1 {
		t.Fatalf("got %d specs, want 1", len(specs))
	}

	got := specs[0]
	if got.Name != "uvk" || got.DisplayName != "UVK (Python 3.12)" {
		t.Errorf("unexpected spec: %+v", got)
	}
	if got.Selector.Kind != engine.SelectorVersionConstraint || got.Selector.Value != "3.12" {
		t.Errorf("selector not round-tripped: %+v", got.Selector)
	}
	if got.Env["TMPDIR"] != "/scratch" {
		t.Errorf("env not round-tripped: %v", got.Env)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at not persisted")
	}
}

func TestInstallWritesArgvTemplate(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Install(context.Background(), testSpec("uvk")); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(r.Dir(), "uvk", "kernel.json"))
	if err != nil {
		t.Fatal(err)
	}
	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("kernel.json is not valid JSON: %v", err)
	}

	argv, ok := entry["argv"].([]any)
	if !ok || len(argv) == 0 {
		t.Fatalf("missing argv: %v", entry)
	}
	if argv[0] != "/usr/local/bin/uvk" {
		t.Errorf("argv[0] = %v, want the launcher executable", argv[0])
	}
	if argv[len(argv)-1] != ConnectionFilePlaceholder {
		t.Errorf("argv must end with the connection file placeholder, got %v", argv)
	}
	if entry["language"] != "python" {
		t.Errorf("language = %v, want python", entry["language"])
	}
	if entry["interrupt_mode"] != "signal" {
		t.Errorf("interrupt_mode = %v, want signal", entry["interrupt_mode"])
	}
}

func TestInstallOverwritesByName(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Install(ctx, testSpec("uvk")); err != nil {
		t.Fatal(err)
	}

	updated := testSpec("uvk")
	updated.DisplayName = "UVK (Python 3.13)"
	updated.Selector = engine.ParseSelector("3.13")
	if err := r.Install(ctx, updated); err != nil {
		t.Fatalf("overwrite install failed: %v", err)
	}

	specs, err := r.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 1 {
		t.Fatalf("got %d specs after overwrite, want 1", len(specs))
	}
	if specs[0].DisplayName != "UVK (Python 3.13)" {
		t.Errorf("overwrite did not take: %+v", specs[0])
	}
}

func TestConcurrentInstallsObserveNoPartialEntries(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	names := []string{"uvk-a", "uvk-b", "uvk-c", "uvk-d"}
	var wg sync.WaitGroup
	errCh := make(chan error, len(names)*2)

	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := r.Install(ctx, testSpec(name)); err != nil {
				errCh <- err
			}
		}(name)

		// Interleave listing with installs; every observed entry must parse.
		wg.Add(1)
		go func() {
			defer wg.Done()
			specs, err := r.List(ctx)
			if err != nil {
				errCh <- err
				return
			}
			for _, s := range specs {
				if s.Name == "" || s.DisplayName == "" {
					errCh <- engine.NewRegistryError("observed partial entry", nil)
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}

	specs, err := r.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != len(names) {
		t.Errorf("got %d specs, want %d", len(specs), len(names))
	}
}

func TestUninstallUnknownNameIsNoOp(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Uninstall(context.Background(), "never-installed"); err != nil {
		t.Errorf("uninstall of unknown name must be a no-op, got: %v", err)
	}
}

func TestUninstallRemovesEntry(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Install(ctx, testSpec("uvk")); err != nil {
		t.Fatal(err)
	}
	if err := r.Uninstall(ctx, "uvk"); err != nil {
		t.Fatalf("uninstall failed: %v", err)
	}

	specs, err := r.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 0 {
		t.Errorf("spec still listed after uninstall: %v", specs)
	}

	// Repeat uninstall stays a no-op.
	if err := r.Uninstall(ctx, "uvk"); err != nil {
		t.Errorf("second uninstall failed: %v", err)
	}
}

func TestGetUnknownSpec(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Get(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	if !engine.IsRegistry(err) {
		t.Errorf("expected registry-class error, got %v", err)
	}
}

func TestInstallRejectsInvalidSpec(t *testing.T) {
	r := newTestRegistry(t)

	err := r.Install(context.Background(), &engine.KernelSpec{
		Name:     "",
		Selector: engine.ParseSelector("3.12"),
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !engine.IsRegistry(err) {
		t.Errorf("expected registry-class error, got %v", err)
	}
}

func TestNamesAreConfinedToKernelsDir(t *testing.T) {
	parent := t.TempDir()
	kernels := filepath.Join(parent, "kernels")
	victim := filepath.Join(parent, "victim")
	if err := os.MkdirAll(victim, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(victim, "keep.txt"), []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := New(kernels, "/usr/local/bin/uvk", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	validation := &engine.KernelError{Class: engine.ErrorClassRegistry, Code: engine.ErrCodeValidation}

	// Names must never address anything outside the kernels directory.
	for _, name := range []string{"../victim", "..", ".", "a/b", ".hidden", ""} {
		if err := r.Uninstall(ctx, name); !errors.Is(err, validation) {
			t.Errorf("Uninstall(%q) = %v, want validation error", name, err)
		}
		if _, err := r.Get(ctx, name); !errors.Is(err, validation) {
			t.Errorf("Get(%q) = %v, want validation error", name, err)
		}
		if err := r.Install(ctx, testSpec(name)); !errors.Is(err, validation) {
			t.Errorf("Install(%q) = %v, want validation error", name, err)
		}
	}

	// The sibling directory is untouched.
	if _, err := os.Stat(filepath.Join(victim, "keep.txt")); err != nil {
		t.Fatalf("directory outside the registry was touched: %v", err)
	}
}

func TestInstallCopiesIcon(t *testing.T) {
	r := newTestRegistry(t)

	icon := filepath.Join(t.TempDir(), "logo-64x64.png")
	if err := os.WriteFile(icon, []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	spec := testSpec("uvk")
	spec.IconPath = icon
	if err := r.Install(context.Background(), spec); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	copied := filepath.Join(r.Dir(), "uvk", "logo-64x64.png")
	data, err := os.ReadFile(copied)
	if err != nil {
		t.Fatalf("icon not copied: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("icon content mismatch")
	}
}

func TestListSkipsForeignEntries(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Install(ctx, testSpec("uvk")); err != nil {
		t.Fatal(err)
	}

	// A kernels directory may contain specs installed by other tools with
	// unreadable layouts; they must not break enumeration.
	foreign := filepath.Join(r.Dir(), "other-kernel")
	if err := os.MkdirAll(foreign, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(foreign, "kernel.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	specs, err := r.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(specs) != 1 || specs[0].Name != "uvk" {
		t.Errorf("unexpected list result: %+v", specs)
	}
}
