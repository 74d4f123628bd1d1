// Package policy provides Open Policy Agent (OPA) screening of dependency
// requests.
//
// Every dependency request, whether declared in an inline metadata block or
// issued live from a session, passes through the policy engine before it
// reaches the environment builder. Policies are written in Rego; a request is
// denied when any enabled policy produces a violation of error or critical
// severity. Warning and info violations are logged and let the request pass.
//
// Creating an engine and screening a request:
//
//	gate, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := gate.Check(ctx, req); err != nil {
//	    // engine.IsMutation(err) with code POLICY_DENIED
//	}
//
// Built-in policies block live mutation of the kernel's own machinery and
// direct URL or path references, and warn about unpinned live additions.
// Custom policies load from .rego or .json files:
//
//	err = gate.LoadPolicies(ctx, []string{"/etc/uvk/policies"})
//
// Rego rules match on the request document, which carries each specifier
// with its normalized distribution name pre-extracted:
//
//	package custom.policies.gpu
//
//	import rego.v1
//
//	deny contains violation if {
//	    some spec in input.specifiers
//	    spec.name == "tensorflow"
//	    violation := {
//	        "message": "tensorflow must be baked into the kernelspec, not added live",
//	        "severity": "error",
//	        "specifier": spec.raw,
//	    }
//	}
//
// The loader supports watching policy files and reloading on change.
// Policies are compiled once and reused across evaluations.
package policy
