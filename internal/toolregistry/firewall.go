package toolregistry

import (
	"sort"
	"sync"

	"github.com/haasonsaas/thalamus/internal/provider"
	"github.com/haasonsaas/thalamus/internal/turn"
)

// Firewall composes per-stage toolsets as the intersection of each
// stage's allowed skills with the startup-constant set of enabled
// skills, unioning the tools those skills name (spec.md §4.4:
// toolset(stage) = ⋃ {tools[s] : s ∈ allowed_skills[stage] ∩
// enabled_skills}). Composition is pure and cached per stage id.
type Firewall struct {
	registry      *Registry
	skillTools    map[string][]string // skill name -> tool names
	enabledSkills map[string]bool

	mu    sync.Mutex
	cache map[string][]string // stage id -> composed tool names
}

// NewFirewall builds a Firewall from the registered skill table and
// the startup-constant enabled-skills set.
func NewFirewall(registry *Registry, skills []turn.Skill, enabledSkills []string) *Firewall {
	enabled := make(map[string]bool, len(enabledSkills))
	for _, s := range enabledSkills {
		enabled[s] = true
	}
	byName := make(map[string][]string, len(skills))
	for _, s := range skills {
		byName[s.Name] = append([]string(nil), s.Tools...)
	}
	return &Firewall{
		registry:      registry,
		skillTools:    byName,
		enabledSkills: enabled,
		cache:         make(map[string][]string),
	}
}

// Toolset returns the deduplicated, sorted tool names allowed for a
// stage given its declared allowed skills.
func (f *Firewall) Toolset(stageID string, allowedSkills []string) []string {
	f.mu.Lock()
	if cached, ok := f.cache[stageID]; ok {
		f.mu.Unlock()
		return cached
	}
	f.mu.Unlock()

	seen := make(map[string]bool)
	for _, skill := range allowedSkills {
		if !f.enabledSkills[skill] {
			continue
		}
		for _, tool := range f.skillTools[skill] {
			seen[tool] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)

	f.mu.Lock()
	f.cache[stageID] = names
	f.mu.Unlock()
	return names
}

// IsAllowed reports whether toolName is a member of the composed
// toolset for a stage.
func (f *Firewall) IsAllowed(stageID string, allowedSkills []string, toolName string) bool {
	for _, n := range f.Toolset(stageID, allowedSkills) {
		if n == toolName {
			return true
		}
	}
	return false
}

// Schemas returns provider.ToolSchema values for every name, for
// tools the registry actually has.
func (f *Firewall) Schemas(names []string) []provider.ToolSchema {
	schemas := make([]provider.ToolSchema, 0, len(names))
	for _, n := range names {
		def, ok := f.registry.Get(n)
		if !ok {
			continue
		}
		schemas = append(schemas, provider.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			ArgsSchema:  def.ArgsSchema,
		})
	}
	return schemas
}
