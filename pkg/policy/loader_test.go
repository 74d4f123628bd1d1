package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const sampleRego = `# Blocks the example distribution.
package uvk.policies.sample

import rego.v1

deny contains violation if {
	some spec in input.specifiers
	spec.name == "example"
	violation := {
		"message": "example is blocked",
		"severity": "error",
		"specifier": spec.raw,
	}
}
`

func TestLoadFromRegoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.rego")
	if err := os.WriteFile(path, []byte(sampleRego), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("loaded %d policies, want 1", len(policies))
	}

	p := policies[0]
	if p.Name != "sample" {
		t.Errorf("name = %q, want sample", p.Name)
	}
	if p.Severity != SeverityWarning {
		t.Errorf("default severity = %q, want warning", p.Severity)
	}
	if !p.Enabled {
		t.Error("loaded policy should default to enabled")
	}
	if p.Description != "Blocks the example distribution." {
		t.Errorf("description = %q", p.Description)
	}
}

func TestLoadFromJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.json")
	body := `{"name": "json-sample", "severity": "error", "enabled": true, "rego": "package uvk.policies.jsonsample\n"}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(policies) != 1 || policies[0].Name != "json-sample" {
		t.Fatalf("unexpected policies: %+v", policies)
	}
	if policies[0].Severity != SeverityError {
		t.Errorf("severity = %q, want error", policies[0].Severity)
	}
}

func TestLoadFromDirectorySkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "good.rego"), []byte(sampleRego), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(policies) != 1 || policies[0].Name != "good" {
		t.Fatalf("unexpected policies: %+v", policies)
	}
}

func TestLoadMissingPath(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	_, err := loader.LoadFromPaths(context.Background(), []string{"/no/such/path"})
	if err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestLoaderCaches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.rego")
	if err := os.WriteFile(path, []byte(sampleRego), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(zerolog.Nop())
	first, err := loader.loadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}

	// A rewrite is invisible until the cache entry is dropped.
	if err := os.WriteFile(path, []byte("package uvk.policies.other\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	second, err := loader.loadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("expected the cached policy pointer")
	}

	loader.ClearCache()
	third, err := loader.loadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if third == first {
		t.Error("expected a fresh policy after cache clear")
	}
}
