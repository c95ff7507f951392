// Package toolregistry implements the Tool Registry & Firewall of
// spec.md §4.4: a tool-name → {schema, handler, validator} map, and
// per-stage toolset composition from enabled skills ∩ stage allowlist.
//
// Grounded on internal/agent/tool_registry.go's ToolRegistry
// (sync.RWMutex-guarded map, size-limit validation, pattern-matching
// helpers) and internal/skills/types.go's skill-bundle concept.
package toolregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/thalamus/internal/turn"
)

// Limits mirrored from internal/agent/tool_registry.go, narrowed to
// this core's single-request tool-call shape.
const (
	MaxToolNameLength = 256
	MaxArgsSize       = 1 << 20 // 1MiB
)

// Handler executes a tool call against the given arguments and a
// bundle of host resources, returning a value the tool loop will
// normalise to a string (spec.md §4.3) or an error.
type Handler func(ctx context.Context, args json.RawMessage, res *Resources) (any, error)

// Validator optionally checks a handler's successful result before it
// is accepted; a non-nil error becomes ToolInvalidResult.
type Validator func(result any) error

// Definition is one registered tool: {name, description, args_schema,
// handler, optional validator} (spec.md §3.1 ToolDefinition).
type Definition struct {
	Name        string
	Description string
	ArgsSchema  json.RawMessage
	Handler     Handler
	Validator   Validator

	compiled *jsonschema.Schema
}

// Registry is the single source of truth mapping tool name to
// Definition.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Definition
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]*Definition)}
}

// Register adds or replaces a tool definition, compiling its args
// schema if present.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("toolregistry: tool must have a name")
	}
	if len(def.Name) > MaxToolNameLength {
		return fmt.Errorf("toolregistry: tool name %q exceeds %d bytes", def.Name, MaxToolNameLength)
	}
	if def.Handler == nil {
		return fmt.Errorf("toolregistry: tool %q has no handler", def.Name)
	}
	if len(def.ArgsSchema) > 0 {
		compiler := jsonschema.NewCompiler()
		schemaURL := "mem://" + def.Name + ".json"
		if err := compiler.AddResource(schemaURL, bytes.NewReader(def.ArgsSchema)); err != nil {
			return fmt.Errorf("toolregistry: compile schema for %q: %w", def.Name, err)
		}
		compiled, err := compiler.Compile(schemaURL)
		if err != nil {
			return fmt.Errorf("toolregistry: compile schema for %q: %w", def.Name, err)
		}
		def.compiled = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = def
	return nil
}

// Get returns the definition for name, if registered.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	return names
}

// ValidateArgs checks raw args against a tool's compiled args schema,
// if one was registered. A tool with no schema accepts any object.
func (d *Definition) ValidateArgs(args json.RawMessage) error {
	if d.compiled == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Errorf("args not valid json: %w", err)
	}
	if err := d.compiled.Validate(v); err != nil {
		return fmt.Errorf("args failed schema: %w", err)
	}
	return nil
}

// VerifySkillCoverage is the startup check: every tool referenced by
// an enabled skill must have a Definition (schema + handler)
// registered. A miss is a wiring defect and fails construction.
func VerifySkillCoverage(r *Registry, skills []turn.Skill, enabledSkills map[string]bool) error {
	for _, s := range skills {
		if !enabledSkills[s.Name] {
			continue
		}
		for _, toolName := range s.Tools {
			if _, ok := r.Get(toolName); !ok {
				return fmt.Errorf("toolregistry: skill %q references unregistered tool %q", s.Name, toolName)
			}
		}
	}
	return nil
}
