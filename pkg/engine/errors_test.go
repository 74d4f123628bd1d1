package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestKernelErrorClassPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   *KernelError
		check func(error) bool
	}{
		{"resolution", NewResolutionError("no match", nil), IsResolution},
		{"provision", NewProvisionError("build failed", nil), IsProvision},
		{"launch", NewLaunchError("handshake timeout", nil), IsLaunch},
		{"mutation", NewMutationError("rolled back", nil), IsMutation},
		{"metadata", NewMetadataError("two blocks", nil), IsMetadata},
		{"registry", NewRegistryError("rename failed", nil), IsRegistry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.err) {
				t.Errorf("predicate did not match its own class")
			}
			// Predicates must see through wrapping.
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !tt.check(wrapped) {
				t.Errorf("predicate did not match wrapped error")
			}
		})
	}
}

func TestKernelErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewProvisionError("environment build failed", cause)

	if !errors.Is(err, cause) {
		t.Errorf("expected errors.Is to find the cause")
	}
	if err.Unwrap() != cause {
		t.Errorf("Unwrap returned %v, want %v", err.Unwrap(), cause)
	}
}

func TestKernelErrorContext(t *testing.T) {
	err := NewLaunchError("handshake timeout", nil).
		WithKernel("uvk").
		WithCode(ErrCodeTimeout).
		WithRoot("/tmp/uvk-env-x")

	if err.Kernel != "uvk" || err.Code != ErrCodeTimeout || err.Root != "/tmp/uvk-env-x" {
		t.Errorf("builder methods did not set context: %+v", err)
	}

	msg := err.Error()
	if msg == "" {
		t.Fatal("empty error message")
	}
}

func TestIsFatalToLaunch(t *testing.T) {
	fatal := []error{
		NewResolutionError("x", nil),
		NewProvisionError("x", nil),
		NewLaunchError("x", nil),
		NewInternalError("x", nil),
		errors.New("unclassified"),
	}
	for _, err := range fatal {
		if !IsFatalToLaunch(err) {
			t.Errorf("expected %v to be fatal to launch", err)
		}
	}

	recoverable := []error{
		NewMutationError("x", nil),
		NewMetadataError("x", nil),
		NewRegistryError("x", nil),
	}
	for _, err := range recoverable {
		if IsFatalToLaunch(err) {
			t.Errorf("expected %v to be session-recoverable", err)
		}
	}
}

func TestKernelErrorIs(t *testing.T) {
	err := NewMetadataError("two blocks", nil).WithCode(ErrCodeMultipleBlocks)

	target := &KernelError{Class: ErrorClassMetadata, Code: ErrCodeMultipleBlocks}
	if !errors.Is(err, target) {
		t.Errorf("expected class+code match")
	}

	classOnly := &KernelError{Class: ErrorClassMetadata}
	if !errors.Is(err, classOnly) {
		t.Errorf("expected class-only match")
	}

	other := &KernelError{Class: ErrorClassLaunch}
	if errors.Is(err, other) {
		t.Errorf("unexpected cross-class match")
	}
}
