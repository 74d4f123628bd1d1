// Package metadata extracts dependency declarations embedded in submitted
// source text as PEP 723 script metadata blocks:
//
//	# /// script
//	# dependencies = ["numpy", "pandas>=2"]
//	# requires-python = ">=3.11"
//	# ///
//
// Absence of a block is not an error; code execution must never be blocked by
// unparsable comments, so malformed blocks surface as warning-level metadata
// errors that the caller reports without aborting the session.
package metadata

import (
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/uvk/uvk/pkg/engine"
)

var (
	reBlockStart = regexp.MustCompile(`^# /// script\s*$`)
	reBlockEnd   = regexp.MustCompile(`^# ///\s*$`)
)

// Block is the parsed content of a single script metadata block.
type Block struct {
	// Dependencies is the declared dependency set, in declaration order.
	Dependencies []string `toml:"dependencies"`

	// RequiresPython optionally constrains the interpreter version.
	RequiresPython string `toml:"requires-python"`

	// Warnings collects non-fatal oddities found while parsing, such as
	// trailing comment lines after the closing fence.
	Warnings []string `toml:"-"`
}

// Empty reports whether the block declares nothing.
func (b *Block) Empty() bool {
	return len(b.Dependencies) == 0 && b.RequiresPython == ""
}

// Request converts the block's dependency set into a one-shot dependency
// request. Returns nil when the block declares no dependencies.
func (b *Block) Request() *engine.DependencyRequest {
	if len(b.Dependencies) == 0 {
		return nil
	}
	specs := make([]string, len(b.Dependencies))
	for i, dep := range b.Dependencies {
		specs[i] = strings.TrimSpace(dep)
	}
	return &engine.DependencyRequest{
		Specifiers: specs,
		Source:     engine.SourceInlineMetadata,
	}
}

// Parse extracts the script metadata block from source text. Zero blocks yield
// an empty Block and no error. Multiple blocks are a metadata-format error and
// are rejected before any dependency is applied: partial application is
// disallowed. An opening fence without a closing fence, or a TOML body that
// does not parse, is likewise a metadata error.
func Parse(source string) (*Block, error) {
	var (
		starts    int
		inBlock   bool
		closed    bool
		tomlLines []string
		trailing  int
	)

	for _, raw := range strings.Split(source, "\n") {
		line := strings.TrimSpace(raw)
		if !strings.HasPrefix(line, "#") {
			continue
		}

		switch {
		case reBlockStart.MatchString(line):
			starts++
			if starts > 1 {
				return nil, engine.NewMetadataError(
					"source contains more than one `# /// script` metadata block", nil).
					WithCode(engine.ErrCodeMultipleBlocks)
			}
			inBlock = true

		case inBlock && reBlockEnd.MatchString(line):
			inBlock = false
			closed = true

		case inBlock:
			if body, ok := strings.CutPrefix(line, "# "); ok {
				tomlLines = append(tomlLines, body)
			} else if line == "#" {
				tomlLines = append(tomlLines, "")
			}

		case closed && strings.HasPrefix(line, "# "):
			trailing++
		}
	}

	if starts == 0 {
		return &Block{}, nil
	}
	if inBlock {
		return nil, engine.NewMetadataError(
			"cannot find the script metadata closing line `# ///`", nil).
			WithCode(engine.ErrCodeUnterminated)
	}

	var block Block
	if err := toml.Unmarshal([]byte(strings.Join(tomlLines, "\n")), &block); err != nil {
		return nil, engine.NewMetadataError("script metadata block is not valid TOML", err)
	}

	if trailing > 0 {
		block.Warnings = append(block.Warnings,
			"the script metadata has trailing comment lines after the closing line `# ///`; these are ignored")
	}

	return &block, nil
}
