package metadata

import (
	"errors"
	"testing"

	"github.com/uvk/uvk/pkg/engine"
)

const sampleBlock = `# /// script
# dependencies = [
#     "numpy>=1.26",
#     "pandas",
# ]
# requires-python = ">=3.11"
# ///
import numpy as np
`

func TestParseSingleBlock(t *testing.T) {
	block, err := Parse(sampleBlock)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	want := []string{"numpy>=1.26", "pandas"}
	if len(block.Dependencies) != len(want) {
		t.Fatalf("got %d dependencies, want %d", len(block.Dependencies), len(want))
	}
	for i, dep := range want {
		if block.Dependencies[i] != dep {
			t.Errorf("dependency %d = %q, want %q", i, block.Dependencies[i], dep)
		}
	}
	if block.RequiresPython != ">=3.11" {
		t.Errorf("requires-python = %q, want %q", block.RequiresPython, ">=3.11")
	}
	if len(block.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", block.Warnings)
	}
}

func TestParseNoBlock(t *testing.T) {
	block, err := Parse("import sys\nprint(sys.version)\n")
	if err != nil {
		t.Fatalf("absence of metadata must not be an error, got: %v", err)
	}
	if !block.Empty() {
		t.Errorf("expected empty block, got %+v", block)
	}
	if block.Request() != nil {
		t.Errorf("empty block must yield a nil request")
	}
}

func TestParseTwoBlocksRejected(t *testing.T) {
	source := sampleBlock + "\n# /// script\n# dependencies = [\"scipy\"]\n# ///\n"

	_, err := Parse(source)
	if err == nil {
		t.Fatal("expected error for two metadata blocks")
	}
	if !engine.IsMetadata(err) {
		t.Errorf("expected a metadata-class error, got %v", err)
	}
	target := &engine.KernelError{Class: engine.ErrorClassMetadata, Code: engine.ErrCodeMultipleBlocks}
	if !errors.Is(err, target) {
		t.Errorf("expected MULTIPLE_METADATA_BLOCKS code, got %v", err)
	}
}

func TestParseUnterminatedBlock(t *testing.T) {
	_, err := Parse("# /// script\n# dependencies = [\"numpy\"]\n")
	if err == nil {
		t.Fatal("expected error for unterminated block")
	}
	target := &engine.KernelError{Class: engine.ErrorClassMetadata, Code: engine.ErrCodeUnterminated}
	if !errors.Is(err, target) {
		t.Errorf("expected UNTERMINATED_METADATA_BLOCK code, got %v", err)
	}
}

func TestParseMalformedTOML(t *testing.T) {
	_, err := Parse("# /// script\n# dependencies = [unquoted\n# ///\n")
	if err == nil {
		t.Fatal("expected error for malformed TOML body")
	}
	if !engine.IsMetadata(err) {
		t.Errorf("expected a metadata-class error, got %v", err)
	}
}

func TestParseTrailingLinesWarn(t *testing.T) {
	source := "# /// script\n# dependencies = [\"numpy\"]\n# ///\n# stray trailing comment\n"

	block, err := Parse(source)
	if err != nil {
		t.Fatalf("trailing lines must not be fatal, got: %v", err)
	}
	if len(block.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", block.Warnings)
	}
	if len(block.Dependencies) != 1 || block.Dependencies[0] != "numpy" {
		t.Errorf("unexpected dependencies: %v", block.Dependencies)
	}
}

func TestBlockRequest(t *testing.T) {
	block := &Block{Dependencies: []string{" numpy ", "pandas"}}
	req := block.Request()
	if req == nil {
		t.Fatal("expected a request")
	}
	if req.Source != engine.SourceInlineMetadata {
		t.Errorf("source = %q, want inline-metadata", req.Source)
	}
	if req.Specifiers[0] != "numpy" {
		t.Errorf("specifiers must be trimmed, got %q", req.Specifiers[0])
	}
}
