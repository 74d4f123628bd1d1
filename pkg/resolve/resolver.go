// Package resolve matches interpreter selectors to concrete interpreters.
//
// Constraint syntax mirrors uv's --python option: a bare version such as
// "3.12" (meaning any 3.12.x), a full version such as "3.13.3", or a range
// such as ">=3.10,<3.12". When several installed interpreters satisfy a
// constraint the resolver deterministically prefers the highest satisfying
// version; this tie-break is part of the reproducibility contract.
package resolve

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/uvk/uvk/pkg/engine"
)

// Resolver implements engine.Resolver against the uv interpreter inventory.
type Resolver struct {
	builder engine.Builder
	logger  zerolog.Logger
}

// New creates a resolver backed by the given build collaborator.
func New(builder engine.Builder, logger zerolog.Logger) *Resolver {
	return &Resolver{
		builder: builder,
		logger:  logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve validates an explicit path or matches a version constraint. For
// constraints with no installed match, the interpreter-acquisition path is
// invoked once before the match is retried; a second miss is a resolution
// error. Resolution failure aborts the launch before any environment exists.
func (r *Resolver) Resolve(ctx context.Context, selector engine.InterpreterSelector) (*engine.InterpreterHandle, error) {
	switch selector.Kind {
	case engine.SelectorExplicitPath:
		return r.resolvePath(selector.Value)
	case engine.SelectorVersionConstraint:
		return r.resolveConstraint(ctx, selector.Value)
	default:
		return nil, engine.NewResolutionError(
			fmt.Sprintf("unknown selector kind %q", selector.Kind), nil)
	}
}

// resolvePath validates that the path names an executable Python interpreter.
func (r *Resolver) resolvePath(path string) (*engine.InterpreterHandle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, engine.NewResolutionError(
			fmt.Sprintf("interpreter path %s is not usable", path), err).
			WithCode(engine.ErrCodeBadInterpreter)
	}
	if info.IsDir() {
		return nil, engine.NewResolutionError(
			fmt.Sprintf("interpreter path %s is a directory", path), nil).
			WithCode(engine.ErrCodeBadInterpreter)
	}
	if !isExecutable(info) {
		return nil, engine.NewResolutionError(
			fmt.Sprintf("interpreter path %s is not executable", path), nil).
			WithCode(engine.ErrCodeBadInterpreter)
	}
	if !looksLikePython(path) {
		return nil, engine.NewResolutionError(
			fmt.Sprintf("%s does not look like a Python interpreter", path), nil).
			WithCode(engine.ErrCodeBadInterpreter)
	}

	return &engine.InterpreterHandle{Path: path}, nil
}

// resolveConstraint matches the constraint against the installed inventory.
func (r *Resolver) resolveConstraint(ctx context.Context, expr string) (*engine.InterpreterHandle, error) {
	constraint, err := parseConstraint(expr)
	if err != nil {
		return nil, engine.NewResolutionError(
			fmt.Sprintf("invalid version constraint %q", expr), err)
	}

	handle, err := r.match(ctx, constraint)
	if err != nil {
		return nil, err
	}
	if handle != nil {
		return handle, nil
	}

	// No installed interpreter satisfies the constraint: delegate to the
	// acquisition path and retry the match exactly once.
	r.logger.Info().Str("constraint", expr).Msg("no installed interpreter matches; acquiring one")
	if err := r.builder.InstallInterpreter(ctx, expr); err != nil {
		return nil, err
	}

	handle, err = r.match(ctx, constraint)
	if err != nil {
		return nil, err
	}
	if handle == nil {
		return nil, engine.NewResolutionError(
			fmt.Sprintf("no interpreter satisfies %q after acquisition", expr), nil).
			WithCode(engine.ErrCodeNoMatch)
	}
	return handle, nil
}

// match returns the highest installed interpreter satisfying the constraint,
// or nil when none does.
func (r *Resolver) match(ctx context.Context, constraint *semver.Constraints) (*engine.InterpreterHandle, error) {
	installed, err := r.builder.ListInterpreters(ctx)
	if err != nil {
		return nil, err
	}
	return Match(constraint, installed), nil
}

// Match selects from candidates the highest version satisfying the
// constraint. Unparsable versions are skipped. Deterministic: candidates are
// ordered by version descending, with path as a final tie-break.
func Match(constraint *semver.Constraints, candidates []engine.InterpreterHandle) *engine.InterpreterHandle {
	type scored struct {
		handle  engine.InterpreterHandle
		version *semver.Version
	}

	parsed := make([]scored, 0, len(candidates))
	for _, h := range candidates {
		v, err := semver.NewVersion(h.Version)
		if err != nil {
			continue
		}
		parsed = append(parsed, scored{handle: h, version: v})
	}

	sort.Slice(parsed, func(i, j int) bool {
		if c := parsed[i].version.Compare(parsed[j].version); c != 0 {
			return c > 0
		}
		return parsed[i].handle.Path < parsed[j].handle.Path
	})

	for _, s := range parsed {
		if constraint.Check(s.version) {
			h := s.handle
			return &h
		}
	}
	return nil
}

var reBareVersion = regexp.MustCompile(`^\d+(\.\d+){0,2}$`)

// parseConstraint translates a uv-style python selector into a semver
// constraint. Bare major.minor versions mean "any patch of that minor".
func parseConstraint(expr string) (*semver.Constraints, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "*" {
		return semver.NewConstraint("*")
	}

	if reBareVersion.MatchString(expr) {
		switch strings.Count(expr, ".") {
		case 0:
			expr += ".x.x"
		case 1:
			expr += ".x"
		}
		return semver.NewConstraint(expr)
	}

	return semver.NewConstraint(expr)
}

// CheckConstraint reports whether a concrete version satisfies a constraint
// expression. Used by the in-session constraint-check magic; it never mutates
// the environment.
func CheckConstraint(expr, version string) (bool, error) {
	constraint, err := parseConstraint(expr)
	if err != nil {
		return false, engine.NewResolutionError(
			fmt.Sprintf("invalid version constraint %q", expr), err)
	}
	v, err := semver.NewVersion(strings.TrimSpace(version))
	if err != nil {
		return false, engine.NewResolutionError(
			fmt.Sprintf("invalid version %q", version), err)
	}
	return constraint.Check(v), nil
}

// isExecutable checks the executable bit; on Windows existence suffices.
func isExecutable(info fs.FileInfo) bool {
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

// looksLikePython accepts basenames such as python, python3, python3.12,
// and their .exe variants.
func looksLikePython(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	base = strings.TrimSuffix(base, ".exe")
	return strings.HasPrefix(base, "python") || strings.HasPrefix(base, "pypy")
}
