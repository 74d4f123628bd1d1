// Package engine defines the core types, interfaces, and error taxonomy of the
// uvk kernel lifecycle engine.
//
// The engine provisions a fresh, isolated runtime environment for every kernel
// launch and destroys it when the kernel exits. The flow is:
//
//	Registry lookup -> Resolver selects/creates interpreter ->
//	Provisioner materializes environment -> Supervisor launches process ->
//	(running session may route through the metadata parser / mutation handler) ->
//	Supervisor tears down.
//
// Three invariants hold across the engine:
//
//  1. Every environment root is unique across the process's lifetime; no two
//     launches, concurrent or sequential, ever share a root.
//  2. A kernelspec's interpreter selector is resolved exactly once per launch,
//     and resolution failure aborts the launch before any environment exists.
//  3. Environment teardown is idempotent and safe to invoke multiple times.
package engine
