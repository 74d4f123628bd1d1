package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
)

var kernelNameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// CUEParser parses and validates CUE kernel set files.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	v := validator.New()
	_ = v.RegisterValidation("kernelname", func(fl validator.FieldLevel) bool {
		return kernelNameRe.MatchString(fl.Field().String())
	})

	return &CUEParser{
		ctx:            cuecontext.New(),
		schemaRegistry: NewSchemaRegistry(),
		validator:      v,
	}
}

// Parse parses kernel definitions from the given sources, which may be CUE
// files or directories holding a CUE package.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*ParsedKernelSet, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if info.IsDir() {
			val, files, errs := cp.loadDirectory(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				if cueValue.Exists() {
					cueValue = cueValue.Unify(val)
				} else {
					cueValue = val
				}
			}
			sourceFiles = append(sourceFiles, files...)
		} else {
			val, errs := cp.loadFile(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				if cueValue.Exists() {
					cueValue = cueValue.Unify(val)
				} else {
					cueValue = val
				}
			}
			sourceFiles = append(sourceFiles, source)
		}
	}

	if len(parseErrors) > 0 {
		return &ParsedKernelSet{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	if err := cueValue.Err(); err != nil {
		parseErrors = append(parseErrors, cp.convertCUEErrors(err)...)
		return &ParsedKernelSet{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	return cp.extractKernelSet(cueValue, sourceFiles)
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*ParsedKernelSet, error) {
	val := cp.ctx.CompileString(content)
	if err := val.Err(); err != nil {
		return &ParsedKernelSet{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      cp.convertCUEErrors(err),
		}, nil
	}

	return cp.extractKernelSet(val, []string{"inline"})
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{dir}, nil)
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(inst.Err)
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := cp.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}

	return val, nil
}

// extractKernelSet extracts kernel definitions from a CUE value. Kernels may
// be declared as a map keyed by name or as a list.
func (cp *CUEParser) extractKernelSet(val cue.Value, sourceFiles []string) (*ParsedKernelSet, error) {
	set := &ParsedKernelSet{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	kernelsVal := val.LookupPath(cue.ParsePath("kernels"))
	if !kernelsVal.Exists() {
		set.Errors = append(set.Errors, ValidationError{
			Path:     "kernels",
			Message:  "no kernels field found",
			Severity: "error",
		})
		return set, nil
	}

	switch kernelsVal.Kind() {
	case cue.StructKind:
		iter, err := kernelsVal.Fields(cue.All())
		if err != nil {
			set.Errors = append(set.Errors, ValidationError{
				Path:     "kernels",
				Message:  fmt.Sprintf("failed to iterate kernels: %v", err),
				Severity: "error",
			})
			return set, nil
		}
		for iter.Next() {
			name := strings.Trim(iter.Selector().String(), `"`)
			kc, err := cp.extractKernel(name, iter.Value())
			if err != nil {
				set.Errors = append(set.Errors, ValidationError{
					Path:     fmt.Sprintf("kernels.%s", name),
					Message:  err.Error(),
					Severity: "error",
				})
			} else {
				set.Kernels = append(set.Kernels, kc)
			}
		}

	case cue.ListKind:
		list, err := kernelsVal.List()
		if err != nil {
			set.Errors = append(set.Errors, ValidationError{
				Path:     "kernels",
				Message:  fmt.Sprintf("failed to list kernels: %v", err),
				Severity: "error",
			})
			return set, nil
		}
		idx := 0
		for list.Next() {
			kc, err := cp.extractKernel("", list.Value())
			if err != nil {
				set.Errors = append(set.Errors, ValidationError{
					Path:     fmt.Sprintf("kernels[%d]", idx),
					Message:  err.Error(),
					Severity: "error",
				})
			} else {
				set.Kernels = append(set.Kernels, kc)
			}
			idx++
		}

	default:
		set.Errors = append(set.Errors, ValidationError{
			Path:     "kernels",
			Message:  "kernels must be a struct or a list",
			Severity: "error",
		})
	}

	return set, nil
}

// extractKernel extracts one kernel definition from a CUE value.
func (cp *CUEParser) extractKernel(name string, val cue.Value) (KernelConfig, error) {
	var kc KernelConfig

	if err := val.Decode(&kc); err != nil {
		return kc, fmt.Errorf("failed to decode kernel: %w", err)
	}

	// A map key doubles as the kernel name when not set in the value.
	if kc.Name == "" && name != "" {
		kc.Name = name
	}

	if err := cp.validator.Struct(kc); err != nil {
		return kc, fmt.Errorf("validation failed: %w", err)
	}

	return kc, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	errs := errors.Errors(err)
	for _, e := range errs {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

// ValidateWithSchema validates data against a named schema.
func (cp *CUEParser) ValidateWithSchema(ctx context.Context, data interface{}, schemaName string) error {
	return cp.schemaRegistry.ValidateAgainstSchema(ctx, schemaName, data)
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

// LoadFromDirectory lists all CUE files under a directory.
func (cp *CUEParser) LoadFromDirectory(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".cue") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return files, nil
}
