package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/uvk/uvk/pkg/engine"
)

// Engine screens dependency requests against Rego policies. It implements
// engine.RequestGate.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   zerolog.Logger
	builtins []Policy
}

// compiledPolicy holds a policy together with its prepared deny query.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := newEngine(logger, BuiltinPolicies())
	if err := e.loadBuiltins(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}
	return e, nil
}

// NewBareEngine creates a policy engine with no built-in policies. Only
// explicitly loaded policies screen requests.
func NewBareEngine(logger zerolog.Logger) *Engine {
	return newEngine(logger, nil)
}

func newEngine(logger zerolog.Logger, builtins []Policy) *Engine {
	return &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    inmem.New(),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		builtins: builtins,
	}
}

// Check implements engine.RequestGate. A blocked request returns a mutation
// error carrying the first blocking violation; advisory violations are logged
// and let the request through.
func (e *Engine) Check(ctx context.Context, req engine.DependencyRequest) error {
	decision, err := e.Evaluate(ctx, buildInput(req))
	if err != nil {
		return engine.NewMutationError("policy evaluation failed", err)
	}

	for i := range decision.Violations {
		v := &decision.Violations[i]
		if v.Blocking() {
			continue
		}
		e.logger.Warn().
			Str("policy", v.Policy).
			Str("specifier", v.Specifier).
			Msg(v.Message)
	}

	if decision.Allowed {
		return nil
	}

	for i := range decision.Violations {
		if decision.Violations[i].Blocking() {
			return engine.NewMutationError(decision.Violations[i].Message, nil).
				WithCode(engine.ErrCodePolicyDenied)
		}
	}
	return engine.NewMutationError("dependency request denied by policy", nil).
		WithCode(engine.ErrCodePolicyDenied)
}

// buildInput converts a request into the policy input document, with
// normalized distribution names pre-extracted.
func buildInput(req engine.DependencyRequest) *Input {
	specs := make([]Specifier, len(req.Specifiers))
	for i, raw := range req.Specifiers {
		specs[i] = Specifier{
			Raw:  strings.TrimSpace(raw),
			Name: engine.NormalizeDistName(raw),
		}
	}
	return &Input{
		Specifiers: specs,
		Source:     string(req.Source),
		Context: &Context{
			Timestamp: time.Now(),
			Operation: "mutate",
		},
	}
}

// Evaluate runs all enabled policies against the input.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Decision, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var violations []Violation
	var warnings []string

	// Iterate in name order so the first blocking violation, and with it the
	// denial message a user sees, is stable across runs.
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}

		found, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Msg("policy evaluation failed")
			warnings = append(warnings, fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}
		violations = append(violations, found...)
	}

	allowed := true
	for i := range violations {
		if violations[i].Blocking() {
			allowed = false
			break
		}
	}

	return &Decision{
		Allowed:     allowed,
		Violations:  violations,
		Warnings:    warnings,
		EvaluatedAt: time.Now(),
	}, nil
}

// LoadPolicies loads additional policy files from the given paths.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := e.compileAndStore(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().Int("count", len(policies)).Msg("policies loaded")
	return nil
}

// evaluatePolicy collects the deny set of a single compiled policy using the
// query prepared at compile time.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, makeViolation(cp.policy, d))
		}
	}
	return violations, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(code string) string {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "uvk.policies"
}

// makeViolation converts one deny result into a Violation.
func makeViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if spec, ok := v["specifier"].(string); ok {
			violation.Specifier = spec
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStore compiles a policy, prepares its deny query, and registers it.
func (e *Engine) compileAndStore(ctx context.Context, policy *Policy) error {
	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query(fmt.Sprintf("data.%s.deny", extractPackageName(policy.Rego))),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().Str("policy", policy.Name).Msg("policy compiled")
	return nil
}

// loadBuiltins compiles the built-in policies.
func (e *Engine) loadBuiltins(ctx context.Context) error {
	for i := range e.builtins {
		if err := e.compileAndStore(ctx, &e.builtins[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtins[i].Name, err)
		}
	}
	e.logger.Debug().Int("count", len(e.builtins)).Msg("built-in policies loaded")
	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	return policies
}

// ReloadPolicies drops everything and recompiles the built-ins.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)
	return e.loadBuiltins(ctx)
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = true
	e.logger.Info().Str("policy", name).Msg("policy enabled")
	return nil
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = false
	e.logger.Info().Str("policy", name).Msg("policy disabled")
	return nil
}
