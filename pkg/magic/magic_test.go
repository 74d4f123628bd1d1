package magic

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/uvk/uvk/pkg/engine"
)

// fakeMutator records the requests it receives.
type fakeMutator struct {
	err      error
	requests []engine.DependencyRequest
}

func (f *fakeMutator) Apply(ctx context.Context, env *engine.EphemeralEnvironment, req engine.DependencyRequest) (*engine.MutationOutcome, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &engine.MutationOutcome{
		Strategy: engine.StrategyLivePatch,
		Env:      env,
		Added:    req.Specifiers,
	}, nil
}

func testEnv() *engine.EphemeralEnvironment {
	return &engine.EphemeralEnvironment{
		Root:        "/scratch/uvk-env-0",
		Python:      "/scratch/uvk-env-0/bin/python",
		Interpreter: engine.InterpreterHandle{Path: "/usr/bin/python3", Version: "3.11.2"},
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		rest    string
		want    Command
		wantErr bool
	}{
		{
			name: "check",
			line: "%uvk check >=3.10,<3.12",
			want: Command{Kind: KindConstraintCheck, Constraint: ">=3.10,<3.12"},
		},
		{
			name: "check with spaces in constraint",
			line: "%uvk check >= 3.10",
			want: Command{Kind: KindConstraintCheck, Constraint: ">=3.10"},
		},
		{
			name: "add",
			line: "%uvk add numpy scipy==1.13",
			want: Command{Kind: KindDependencyAdd, Specifiers: []string{"numpy", "scipy==1.13"}},
		},
		{
			name: "apply",
			line: "%uvk apply",
			rest: "# /// script\n# ///\n",
			want: Command{Kind: KindMetadataApply, Source: "# /// script\n# ///\n"},
		},
		{name: "not a directive", line: "print('hi')", wantErr: true},
		{name: "missing verb", line: "%uvk", wantErr: true},
		{name: "unknown verb", line: "%uvk frobnicate", wantErr: true},
		{name: "check without constraint", line: "%uvk check", wantErr: true},
		{name: "add without specifiers", line: "%uvk add", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.line, tt.rest)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				if !engine.IsMetadata(err) {
					t.Errorf("expected metadata-class error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if got.Kind != tt.want.Kind || got.Constraint != tt.want.Constraint || got.Source != tt.want.Source {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if strings.Join(got.Specifiers, " ") != strings.Join(tt.want.Specifiers, " ") {
				t.Errorf("specifiers = %v, want %v", got.Specifiers, tt.want.Specifiers)
			}
		})
	}
}

func TestDispatchConstraintCheck(t *testing.T) {
	mutator := &fakeMutator{}
	d := NewDispatcher(mutator, zerolog.Nop())
	env := testEnv()

	res, err := d.Dispatch(context.Background(), env, Command{
		Kind:       KindConstraintCheck,
		Constraint: ">=3.10,<3.12",
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if !res.Pass {
		t.Error("3.11.2 should satisfy >=3.10,<3.12")
	}

	res, err = d.Dispatch(context.Background(), env, Command{
		Kind:       KindConstraintCheck,
		Constraint: ">=3.12",
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if res.Pass {
		t.Error("3.11.2 must not satisfy >=3.12")
	}

	// A check never mutates the environment.
	if len(mutator.requests) != 0 {
		t.Errorf("constraint check reached the mutator: %v", mutator.requests)
	}
}

func TestDispatchDependencyAdd(t *testing.T) {
	mutator := &fakeMutator{}
	d := NewDispatcher(mutator, zerolog.Nop())

	res, err := d.Dispatch(context.Background(), testEnv(), Command{
		Kind:       KindDependencyAdd,
		Specifiers: []string{"numpy", "scipy"},
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if res.Outcome == nil || res.Outcome.Strategy != engine.StrategyLivePatch {
		t.Errorf("unexpected outcome: %+v", res.Outcome)
	}
	if len(mutator.requests) != 1 || mutator.requests[0].Source != engine.SourceLiveMagic {
		t.Errorf("unexpected requests: %+v", mutator.requests)
	}
}

func TestDispatchMetadataApply(t *testing.T) {
	mutator := &fakeMutator{}
	d := NewDispatcher(mutator, zerolog.Nop())

	cell := strings.Join([]string{
		"# /// script",
		`# requires-python = ">=3.10"`,
		`# dependencies = ["requests", "rich>=13"]`,
		"# ///",
		"",
		"import requests",
	}, "\n")

	res, err := d.Dispatch(context.Background(), testEnv(), Command{
		Kind:   KindMetadataApply,
		Source: cell,
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if res.Outcome == nil {
		t.Fatal("expected a mutation outcome")
	}
	if len(mutator.requests) != 1 || mutator.requests[0].Source != engine.SourceInlineMetadata {
		t.Errorf("unexpected requests: %+v", mutator.requests)
	}
	if got := mutator.requests[0].Specifiers; len(got) != 2 || got[0] != "requests" {
		t.Errorf("specifiers = %v", got)
	}
}

func TestDispatchMetadataApplyRejectsUnsatisfiedRequiresPython(t *testing.T) {
	mutator := &fakeMutator{}
	d := NewDispatcher(mutator, zerolog.Nop())

	cell := strings.Join([]string{
		"# /// script",
		`# requires-python = ">=3.13"`,
		`# dependencies = ["requests"]`,
		"# ///",
	}, "\n")

	_, err := d.Dispatch(context.Background(), testEnv(), Command{
		Kind:   KindMetadataApply,
		Source: cell,
	})
	if err == nil {
		t.Fatal("expected requires-python rejection")
	}
	if !engine.IsMetadata(err) {
		t.Errorf("expected metadata-class error, got %v", err)
	}
	if len(mutator.requests) != 0 {
		t.Error("rejected request must not reach the mutator")
	}
}

func TestDispatchMetadataApplyWithoutBlock(t *testing.T) {
	d := NewDispatcher(&fakeMutator{}, zerolog.Nop())

	res, err := d.Dispatch(context.Background(), testEnv(), Command{
		Kind:   KindMetadataApply,
		Source: "import sys\nprint(sys.version)\n",
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if res.Outcome != nil {
		t.Error("sourceless apply must not mutate")
	}
}

func TestDispatchUnknownKind(t *testing.T) {
	d := NewDispatcher(&fakeMutator{}, zerolog.Nop())

	_, err := d.Dispatch(context.Background(), testEnv(), Command{Kind: Kind("reflection")})
	if err == nil {
		t.Fatal("expected dispatch error for unknown kind")
	}
}

func TestDispatchPropagatesMutatorError(t *testing.T) {
	denial := engine.NewMutationError("denied", errors.New("policy")).
		WithCode(engine.ErrCodePolicyDenied)
	d := NewDispatcher(&fakeMutator{err: denial}, zerolog.Nop())

	_, err := d.Dispatch(context.Background(), testEnv(), Command{
		Kind:       KindDependencyAdd,
		Specifiers: []string{"numpy"},
	})
	if !errors.Is(err, denial) {
		t.Fatalf("expected mutator error to propagate, got %v", err)
	}
}
