package config

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	ctx := cuecontext.New()
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	sr.RegisterSchema("kernel", builtinKernelSchema)
	sr.RegisterSchema("kernelset", builtinKernelSetSchema)
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	// Unify with schema (validates)
	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// Built-in schema definitions

const builtinKernelSchema = `
// Kernel schema for one kernel definition
{
	// name is the kernelspec directory name
	name: string & =~"^[a-zA-Z0-9._-]+$"

	// display_name is shown in the notebook launcher
	display_name?: string

	// python selects the interpreter: a version ("3.12"), a range
	// (">=3.10,<3.13"), or an absolute path
	python?: string

	// icon_path references an icon copied on install
	icon_path?: string

	// env are extra environment variables for the kernel process
	env?: {[string]: string}
}
`

const builtinKernelSetSchema = `
// KernelSet schema for a set of kernel definitions
{
	kernels: {[string]: {
		name?:         string & =~"^[a-zA-Z0-9._-]+$"
		display_name?: string
		python?:       string
		icon_path?:    string
		env?: {[string]: string}
	}}
}
`

// ValidateKernel validates a kernel definition against the kernel schema.
func (sr *SchemaRegistry) ValidateKernel(ctx context.Context, kernel KernelConfig) error {
	return sr.ValidateAgainstSchema(ctx, "kernel", kernel)
}
