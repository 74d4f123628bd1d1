// Package mutate applies on-the-fly dependency additions to a running
// environment.
//
// Strategy policy: a request whose distribution names are all absent from the
// environment installs in place (live patch); a request colliding with any
// installed name provisions a fresh tree with the union set and swaps it into
// the session's root path, then signals the session that new code paths must
// re-execute. The root path never changes across a rebuild, so whoever owns
// the session teardown always destroys the live tree. A live patch that fails
// mid-install is rolled back to the pre-request set, so the recorded
// dependency set and the on-disk packages never disagree.
package mutate

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uvk/uvk/pkg/engine"
)

// Options configures a Handler.
type Options struct {
	// InstallTimeout bounds the package-install step of a live patch. Zero
	// means no bound beyond the caller's context.
	InstallTimeout time.Duration
}

// Handler implements engine.MutationHandler.
type Handler struct {
	builder     engine.Builder
	provisioner engine.Provisioner
	gate        engine.RequestGate
	opts        Options
	logger      zerolog.Logger
}

// New creates a mutation handler. gate may be nil when no policy screening is
// configured.
func New(builder engine.Builder, provisioner engine.Provisioner, gate engine.RequestGate, opts Options, logger zerolog.Logger) *Handler {
	return &Handler{
		builder:     builder,
		provisioner: provisioner,
		gate:        gate,
		opts:        opts,
		logger:      logger.With().Str("component", "mutation-handler").Logger(),
	}
}

// Apply executes a dependency request against the environment.
func (h *Handler) Apply(ctx context.Context, env *engine.EphemeralEnvironment, req engine.DependencyRequest) (*engine.MutationOutcome, error) {
	if len(req.Specifiers) == 0 {
		return nil, engine.NewMutationError("dependency request is empty", nil).
			WithCode(engine.ErrCodeValidation)
	}

	if h.gate != nil {
		if err := h.gate.Check(ctx, req); err != nil {
			return nil, err
		}
	}

	if h.conflicts(env, req) {
		return h.rebuild(ctx, env, req)
	}
	return h.livePatch(ctx, env, req)
}

// conflicts reports whether any requested specifier names a package already
// installed in the environment.
func (h *Handler) conflicts(env *engine.EphemeralEnvironment, req engine.DependencyRequest) bool {
	for _, spec := range req.Specifiers {
		if env.HasDependency(spec) {
			return true
		}
	}
	return false
}

// livePatch installs the request into the running environment in place,
// rolling back to the pre-request set on failure.
func (h *Handler) livePatch(ctx context.Context, env *engine.EphemeralEnvironment, req engine.DependencyRequest) (*engine.MutationOutcome, error) {
	snapshot := append([]string(nil), env.Dependencies...)

	h.logger.Info().
		Str("root", env.Root).
		Strs("specs", req.Specifiers).
		Str("source", string(req.Source)).
		Msg("live-patching environment")

	installCtx := ctx
	if h.opts.InstallTimeout > 0 {
		var cancel context.CancelFunc
		installCtx, cancel = context.WithTimeout(ctx, h.opts.InstallTimeout)
		defer cancel()
	}

	if err := h.builder.Install(installCtx, env, req.Specifiers); err != nil {
		// Roll back on the parent context; the install deadline may already
		// have passed.
		if rbErr := h.builder.Sync(ctx, env, snapshot); rbErr != nil {
			h.logger.Error().Err(rbErr).Str("root", env.Root).Msg("rollback after failed install also failed")
			return nil, engine.NewMutationError("dependency install failed and rollback failed", err).
				WithRoot(env.Root).
				WithCode(engine.ErrCodeRolledBack)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, engine.NewMutationError("dependency install timed out; environment rolled back", err).
				WithRoot(env.Root).
				WithCode(engine.ErrCodeTimeout)
		}
		return nil, engine.NewMutationError("dependency install failed; environment rolled back", err).
			WithRoot(env.Root).
			WithCode(engine.ErrCodeRolledBack)
	}

	env.Dependencies = append(snapshot, req.Specifiers...)
	return &engine.MutationOutcome{
		Strategy: engine.StrategyLivePatch,
		Env:      env,
		Added:    append([]string(nil), req.Specifiers...),
	}, nil
}

// rebuild provisions a replacement tree holding the union of the prior and
// requested sets, then swaps it into the session's root path. The root path
// is invariant across the rebuild: the running session and its eventual
// teardown keep pointing at the same root, so neither tree is orphaned. On
// any failure the prior environment remains usable.
func (h *Handler) rebuild(ctx context.Context, env *engine.EphemeralEnvironment, req engine.DependencyRequest) (*engine.MutationOutcome, error) {
	union := unionSpecs(env.Dependencies, req.Specifiers)

	h.logger.Info().
		Str("root", env.Root).
		Strs("specs", req.Specifiers).
		Msg("rebuilding environment for conflicting dependency request")

	replacement, err := h.provisioner.Create(ctx, env.Interpreter, union)
	if err != nil {
		return nil, engine.NewMutationError("environment rebuild failed; prior environment remains usable", err).
			WithRoot(env.Root)
	}

	// Detach the stale tree first so the root path never dangles, then move
	// the rebuilt tree into place. Both live under the scratch directory, so
	// the renames stay on one filesystem.
	stale := env.Root + ".stale-" + uuid.NewString()
	if err := os.Rename(env.Root, stale); err != nil {
		_ = h.provisioner.Destroy(ctx, replacement)
		return nil, engine.NewMutationError("environment swap failed; prior environment remains usable", err).
			WithRoot(env.Root)
	}
	if err := os.Rename(replacement.Root, env.Root); err != nil {
		_ = os.Rename(stale, env.Root)
		_ = h.provisioner.Destroy(ctx, replacement)
		return nil, engine.NewMutationError("environment swap failed; prior environment restored", err).
			WithRoot(env.Root)
	}
	if err := os.RemoveAll(stale); err != nil {
		h.logger.Warn().Err(err).Str("root", stale).Msg("failed to remove stale environment tree")
	}

	env.Dependencies = union
	return &engine.MutationOutcome{
		Strategy: engine.StrategyRebuild,
		Env:      env,
		Added:    append([]string(nil), req.Specifiers...),
	}, nil
}

// unionSpecs merges the prior set with the request. A requested specifier
// replaces a prior one with the same distribution name, so the request's
// version choice wins.
func unionSpecs(prior, requested []string) []string {
	requestedNames := make(map[string]bool, len(requested))
	for _, spec := range requested {
		requestedNames[engine.NormalizeDistName(spec)] = true
	}

	union := make([]string, 0, len(prior)+len(requested))
	for _, spec := range prior {
		if !requestedNames[engine.NormalizeDistName(spec)] {
			union = append(union, spec)
		}
	}
	return append(union, requested...)
}
