package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not
	// block the request.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block the request.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must never pass.
	SeverityCritical Severity = "critical"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Specifier is the dependency specifier that violated the policy.
	Specifier string `json:"specifier,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Blocking reports whether the violation is severe enough to deny the request.
func (v *Violation) Blocking() bool {
	return v.Severity == SeverityError || v.Severity == SeverityCritical
}

// Decision represents the outcome of evaluating a dependency request.
type Decision struct {
	// Allowed indicates if the request may proceed.
	Allowed bool `json:"allowed"`

	// Violations lists all policy violations, blocking and advisory.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists evaluation problems that did not produce a verdict.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the decision was made.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Specifier is one requested dependency as seen by policies, with the
// normalized distribution name pre-extracted so Rego rules can match on it
// directly.
type Specifier struct {
	// Raw is the specifier exactly as requested.
	Raw string `json:"raw"`

	// Name is the normalized distribution name.
	Name string `json:"name"`
}

// Input is the document handed to Rego evaluation.
type Input struct {
	// Specifiers are the requested dependencies.
	Specifiers []Specifier `json:"specifiers"`

	// Source records where the request originated.
	Source string `json:"source"`

	// Context provides evaluation context.
	Context *Context `json:"context"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is the operation being screened.
	Operation string `json:"operation,omitempty"`
}
