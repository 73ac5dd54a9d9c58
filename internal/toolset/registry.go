package toolset

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/trishantpahwa/open-blueberry/internal/sandbox"
)

type SafetyClass string

const (
	SafetyReadOnly        SafetyClass = "read_only"
	SafetyMutating        SafetyClass = "mutating"
	SafetyProcessSpawning SafetyClass = "process_spawning"
)

type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
	ParamBool   ParamType = "bool"
)

type Param struct {
	Name        string
	Type        ParamType
	Required    bool
	Description string
}

// Runner executes one validated tool call against the sandbox.
type Runner func(ctx context.Context, exec *sandbox.Executor, args map[string]any) (sandbox.Result, error)

type Spec struct {
	Name        string
	Description string
	Params      []Param
	Safety      SafetyClass
	Run         Runner
}

// Registry is built once at startup and never mutated afterwards; lookups
// are safe to share across concurrent tasks.
type Registry struct {
	byName map[string]Spec
	names  []string
}

func NewRegistry(specs ...Spec) (*Registry, error) {
	byName := make(map[string]Spec, len(specs))
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, errors.New("tool name is required")
		}
		if _, exists := byName[name]; exists {
			return nil, fmt.Errorf("tool %q already registered", name)
		}
		spec.Name = name
		byName[name] = spec
		names = append(names, name)
	}
	slices.Sort(names)
	return &Registry{byName: byName, names: names}, nil
}

func (r *Registry) Lookup(name string) (Spec, bool) {
	if r == nil {
		return Spec{}, false
	}
	spec, ok := r.byName[strings.TrimSpace(name)]
	return spec, ok
}

func (r *Registry) List() []Spec {
	if r == nil {
		return []Spec{}
	}
	out := make([]Spec, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.byName[name])
	}
	return out
}

// Invoke dispatches a call to the named tool's bound runner. Callers are
// expected to have passed ValidateArgs first; an unbound or unknown name
// still comes back as a result, so the backend can self-correct instead of
// killing the task.
func (r *Registry) Invoke(ctx context.Context, exec *sandbox.Executor, name string, args map[string]any) (sandbox.Result, error) {
	spec, ok := r.Lookup(name)
	if !ok || spec.Run == nil {
		return sandbox.Result{ExitCode: -1, Failure: fmt.Sprintf("tool %q has no dispatcher", strings.TrimSpace(name))}, nil
	}
	return spec.Run(ctx, exec, args)
}

// ValidateArgs checks a proposed invocation against the declared schema
// before anything reaches the executor.
func (r *Registry) ValidateArgs(name string, args map[string]any) error {
	spec, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown tool %q", strings.TrimSpace(name))
	}
	declared := map[string]Param{}
	for _, p := range spec.Params {
		declared[p.Name] = p
		if !p.Required {
			continue
		}
		if _, present := args[p.Name]; !present {
			return fmt.Errorf("tool %q: missing required argument %q", spec.Name, p.Name)
		}
	}
	for argName, value := range args {
		p, known := declared[argName]
		if !known {
			return fmt.Errorf("tool %q: unexpected argument %q", spec.Name, argName)
		}
		if err := checkParamType(p, value); err != nil {
			return fmt.Errorf("tool %q: %w", spec.Name, err)
		}
	}
	return nil
}

func checkParamType(p Param, value any) error {
	switch p.Type {
	case ParamString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("argument %q must be a string, got %T", p.Name, value)
		}
	case ParamInt:
		switch v := value.(type) {
		case int:
		case int64:
		case float64:
			// JSON numbers decode as float64; only whole values pass.
			if v != float64(int64(v)) {
				return fmt.Errorf("argument %q must be an integer, got %v", p.Name, v)
			}
		default:
			return fmt.Errorf("argument %q must be an integer, got %T", p.Name, value)
		}
	case ParamBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("argument %q must be a boolean, got %T", p.Name, value)
		}
	default:
		return fmt.Errorf("argument %q has unsupported declared type %q", p.Name, p.Type)
	}
	return nil
}
