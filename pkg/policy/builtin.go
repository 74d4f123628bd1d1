package policy

import (
	"time"
)

// BuiltinPolicies returns the policies compiled into the engine.
func BuiltinPolicies() []Policy {
	return []Policy{
		protectedDistributionsPolicy(),
		directReferencePolicy(),
		unpinnedSpecifierPolicy(),
	}
}

// protectedDistributionsPolicy blocks mutation of the packages the kernel
// session itself stands on. Replacing them under a live process breaks the
// session.
func protectedDistributionsPolicy() Policy {
	return Policy{
		Name:        "protected-distributions",
		Description: "Blocks live mutation of the kernel's own machinery (ipykernel, jupyter-client, pip internals)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package uvk.policies.protected

import rego.v1

protected := {"ipykernel", "jupyter-client", "jupyter-core", "pip", "uv"}

deny contains violation if {
	some spec in input.specifiers
	spec.name in protected
	violation := {
		"message": sprintf("distribution '%s' is part of the kernel machinery and cannot be mutated in a live session", [spec.name]),
		"severity": "error",
		"specifier": spec.raw,
	}
}
`,
	}
}

// directReferencePolicy blocks URL and local-path requirements. Requests must
// name distributions resolvable from the configured index.
func directReferencePolicy() Policy {
	return Policy{
		Name:        "no-direct-references",
		Description: "Blocks direct URL and local path requirements in dependency requests",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety", "provenance"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package uvk.policies.references

import rego.v1

deny contains violation if {
	some spec in input.specifiers
	contains(spec.raw, "://")
	violation := {
		"message": sprintf("specifier '%s' is a direct URL reference", [spec.raw]),
		"severity": "error",
		"specifier": spec.raw,
	}
}

deny contains violation if {
	some spec in input.specifiers
	startswith(spec.raw, "/")
	violation := {
		"message": sprintf("specifier '%s' is a local path reference", [spec.raw]),
		"severity": "error",
		"specifier": spec.raw,
	}
}

deny contains violation if {
	some spec in input.specifiers
	startswith(spec.raw, "./")
	violation := {
		"message": sprintf("specifier '%s' is a local path reference", [spec.raw]),
		"severity": "error",
		"specifier": spec.raw,
	}
}
`,
	}
}

// unpinnedSpecifierPolicy flags live-magic additions without any version
// constraint. Advisory only.
func unpinnedSpecifierPolicy() Policy {
	return Policy{
		Name:        "unpinned-live-additions",
		Description: "Warns when a live-magic request carries no version constraint",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"reproducibility"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package uvk.policies.pinning

import rego.v1

deny contains violation if {
	input.source == "live-magic"
	some spec in input.specifiers
	spec.raw == spec.name
	violation := {
		"message": sprintf("specifier '%s' carries no version constraint; the session is not reproducible", [spec.raw]),
		"severity": "warning",
		"specifier": spec.raw,
	}
}
`,
	}
}
