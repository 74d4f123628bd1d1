package engine

import (
	"errors"
	"fmt"
)

// ErrorClass identifies which stage of the kernel lifecycle an error belongs to.
// The class decides how the error is surfaced: resolution, provision, and launch
// errors abort a launch before user code runs; mutation errors are recoverable
// in-session; metadata errors are warning-level and never block execution.
type ErrorClass string

const (
	// ErrorClassResolution indicates no interpreter satisfies the requested
	// constraint, or an explicit interpreter path is invalid.
	ErrorClassResolution ErrorClass = "resolution"

	// ErrorClassProvision indicates the environment build failed.
	// Examples: disk exhaustion, permission denial, uv build failure.
	ErrorClassProvision ErrorClass = "provision"

	// ErrorClassLaunch indicates the kernel process failed to start or the
	// startup handshake timed out.
	ErrorClassLaunch ErrorClass = "launch"

	// ErrorClassMutation indicates a dependency apply failed and was rolled
	// back. The prior environment remains usable.
	ErrorClassMutation ErrorClass = "mutation"

	// ErrorClassMetadata indicates a malformed inline metadata block.
	// Warning-level: code execution is never blocked by unparsable comments.
	ErrorClassMetadata ErrorClass = "metadata"

	// ErrorClassRegistry indicates a kernelspec install/uninstall I/O failure.
	ErrorClassRegistry ErrorClass = "registry"

	// ErrorClassInternal indicates an engine bug or an unclassifiable failure.
	ErrorClassInternal ErrorClass = "internal"
)

// KernelError is the classified error type used across the engine.
type KernelError struct {
	// Class is the lifecycle stage classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Kernel is the kernelspec name involved, if applicable.
	Kernel string `json:"kernel,omitempty"`

	// Root is the environment root involved, if applicable.
	Root string `json:"root,omitempty"`

	// Output is captured stdout/stderr from an external tool invocation.
	// Attached for diagnostics, never parsed for control flow.
	Output string `json:"output,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *KernelError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Kernel != "" {
		msg += fmt.Sprintf(" (kernel=%s)", e.Kernel)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *KernelError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *KernelError) Is(target error) bool {
	t, ok := target.(*KernelError)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

// NewResolutionError creates a new resolution error.
func NewResolutionError(message string, err error) *KernelError {
	return &KernelError{Class: ErrorClassResolution, Message: message, Err: err}
}

// NewProvisionError creates a new provision error.
func NewProvisionError(message string, err error) *KernelError {
	return &KernelError{Class: ErrorClassProvision, Message: message, Err: err}
}

// NewLaunchError creates a new launch error.
func NewLaunchError(message string, err error) *KernelError {
	return &KernelError{Class: ErrorClassLaunch, Message: message, Err: err}
}

// NewMutationError creates a new mutation error.
func NewMutationError(message string, err error) *KernelError {
	return &KernelError{Class: ErrorClassMutation, Message: message, Err: err}
}

// NewMetadataError creates a new metadata error.
func NewMetadataError(message string, err error) *KernelError {
	return &KernelError{Class: ErrorClassMetadata, Message: message, Err: err}
}

// NewRegistryError creates a new registry error.
func NewRegistryError(message string, err error) *KernelError {
	return &KernelError{Class: ErrorClassRegistry, Message: message, Err: err}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *KernelError {
	return &KernelError{Class: ErrorClassInternal, Message: message, Err: err}
}

// WithKernel adds the kernelspec name to the error context.
func (e *KernelError) WithKernel(name string) *KernelError {
	e.Kernel = name
	return e
}

// WithRoot adds the environment root to the error context.
func (e *KernelError) WithRoot(root string) *KernelError {
	e.Root = root
	return e
}

// WithCode adds an error code.
func (e *KernelError) WithCode(code string) *KernelError {
	e.Code = code
	return e
}

// WithOutput attaches captured external-tool output.
func (e *KernelError) WithOutput(output string) *KernelError {
	e.Output = output
	return e
}

// classOf extracts the class from an error chain.
func classOf(err error) (ErrorClass, bool) {
	var e *KernelError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsResolution returns true if the error is classified as a resolution error.
func IsResolution(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassResolution
}

// IsProvision returns true if the error is classified as a provision error.
func IsProvision(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassProvision
}

// IsLaunch returns true if the error is classified as a launch error.
func IsLaunch(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassLaunch
}

// IsMutation returns true if the error is classified as a mutation error.
func IsMutation(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassMutation
}

// IsMetadata returns true if the error is classified as a metadata error.
func IsMetadata(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassMetadata
}

// IsRegistry returns true if the error is classified as a registry error.
func IsRegistry(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassRegistry
}

// IsFatalToLaunch returns true if the error aborts a kernel launch before any
// user code runs. Mutation and metadata errors are session-recoverable.
func IsFatalToLaunch(err error) bool {
	c, ok := classOf(err)
	if !ok {
		return true
	}
	switch c {
	case ErrorClassResolution, ErrorClassProvision, ErrorClassLaunch, ErrorClassInternal:
		return true
	}
	return false
}

// Common error codes.
const (
	ErrCodeNoMatch         = "NO_INTERPRETER_MATCH"
	ErrCodeBadInterpreter  = "BAD_INTERPRETER"
	ErrCodeBuildFailed     = "BUILD_FAILED"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeHandshake       = "HANDSHAKE_FAILED"
	ErrCodeRolledBack      = "ROLLED_BACK"
	ErrCodePolicyDenied    = "POLICY_DENIED"
	ErrCodeMultipleBlocks  = "MULTIPLE_METADATA_BLOCKS"
	ErrCodeUnterminated    = "UNTERMINATED_METADATA_BLOCK"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeCancelled       = "CANCELLED"
	ErrCodeInternal        = "INTERNAL_ERROR"
)
