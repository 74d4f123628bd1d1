// Package config provides engine configuration loading and CUE kernel set
// parsing.
//
// # Overview
//
// Two kinds of configuration flow through this package:
//
//   - EngineConfig: the engine-wide YAML configuration (uv path, scratch
//     directory, timeouts, history store, policy paths, logging). Loaded
//     with LoadEngineConfig; a missing file yields the defaults.
//
//   - Kernel sets: CUE files declaring kernels to install in bulk, used by
//     `uvk install --file`. Parsed with CUEParser into KernelConfig values
//     that convert to installable kernelspecs.
//
// # Kernel set example
//
//	kernels: {
//	    "py312": {
//	        display_name: "Python 3.12"
//	        python:       "3.12"
//	    }
//	    "ml": {
//	        display_name: "ML (3.11)"
//	        python:       ">=3.11,<3.12"
//	        env: {OMP_NUM_THREADS: "4"}
//	    }
//	}
//
// Kernels may also be declared as a list; map keys double as kernel names.
// Parse errors carry file, line, and column positions. The SchemaRegistry
// validates definitions against built-in CUE schemas, and struct-level
// validation enforces kernel name shape.
package config
