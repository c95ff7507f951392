// Package config defines the construction-time configuration of the
// turn orchestration core: persistence paths, the user namespace, the
// role→model table, enabled skills, prompt directory, limits, and the
// provider/memory endpoints.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role keys the role_models table must cover.
var requiredRoles = []string{"router", "planner", "reflect", "answer"}

// Config is the full configuration injected at construction time.
type Config struct {
	// WorldStatePath is the JSON world-state file.
	WorldStatePath string `yaml:"world_state_path"`

	// ChatHistoryPath is the JSONL chat-history append log.
	ChatHistoryPath string `yaml:"chat_history_path"`

	// UserNamespace identifies the memory tenant. It is a dedicated
	// configuration field; never derived from an API key or credential.
	UserNamespace string `yaml:"user_namespace"`

	// RoleModels maps role keys (router, planner, reflect, answer) to
	// the model serving that role.
	RoleModels map[string]RoleModel `yaml:"role_models"`

	// EnabledSkills is the startup-constant skill set.
	EnabledSkills []string `yaml:"enabled_skills"`

	// PromptDir holds one <stage>.txt template per stage.
	PromptDir string `yaml:"prompt_dir"`

	// Limits bound loops, deadlines, and the emitter buffer.
	Limits Limits `yaml:"limits"`

	// ProviderEndpoint is the LLM server URL.
	ProviderEndpoint string `yaml:"provider_endpoint"`

	// MemoryEndpoint is the memory store URL. When empty, memory tools
	// become no-ops returning {items:[]} / {id:""}.
	MemoryEndpoint string `yaml:"memory_endpoint"`
}

// RoleModel names the model and call parameters for one role key.
type RoleModel struct {
	ModelName string      `yaml:"model_name"`
	Params    ModelParams `yaml:"params"`
}

// ModelParams are the per-call tunables forwarded to the provider.
type ModelParams struct {
	Temperature   float64  `yaml:"temperature"`
	MaxTokens     int      `yaml:"max_tokens"`
	StopSequences []string `yaml:"stop_sequences"`
}

// Limits bound the core's loops and deadlines.
type Limits struct {
	ContextRounds  int `yaml:"context_rounds"`
	ToolRounds     int `yaml:"tool_rounds"`
	TurnDeadlineMS int `yaml:"turn_deadline_ms"`
	ToolDeadlineMS int `yaml:"tool_deadline_ms"`
	EmitterBuffer  int `yaml:"emitter_buffer"`
}

// DefaultLimits are the spec defaults applied where the file is silent.
func DefaultLimits() Limits {
	return Limits{
		ContextRounds:  3,
		ToolRounds:     8,
		TurnDeadlineMS: 120000,
		ToolDeadlineMS: 15000,
		EmitterBuffer:  4096,
	}
}

// DefaultEnabledSkills is the startup skill set used when the file
// does not name one.
func DefaultEnabledSkills() []string {
	return []string{"core_context", "core_world_write", "mcp_memory_read", "mcp_memory_write"}
}

// Load reads and validates a YAML config file. Environment variables
// in the file body are expanded before parsing.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{Limits: DefaultLimits()}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.EnabledSkills) == 0 {
		c.EnabledSkills = DefaultEnabledSkills()
	}
	defaults := DefaultLimits()
	if c.Limits.ContextRounds <= 0 {
		c.Limits.ContextRounds = defaults.ContextRounds
	}
	if c.Limits.ToolRounds <= 0 {
		c.Limits.ToolRounds = defaults.ToolRounds
	}
	if c.Limits.TurnDeadlineMS <= 0 {
		c.Limits.TurnDeadlineMS = defaults.TurnDeadlineMS
	}
	if c.Limits.ToolDeadlineMS <= 0 {
		c.Limits.ToolDeadlineMS = defaults.ToolDeadlineMS
	}
	if c.Limits.EmitterBuffer <= 0 {
		c.Limits.EmitterBuffer = defaults.EmitterBuffer
	}
}

// Validate checks the enumerated keys. Every required role must be
// covered by role_models; paths and the provider endpoint must be set.
func (c *Config) Validate() error {
	if c.WorldStatePath == "" {
		return fmt.Errorf("config: world_state_path is required")
	}
	if c.ChatHistoryPath == "" {
		return fmt.Errorf("config: chat_history_path is required")
	}
	if c.UserNamespace == "" {
		return fmt.Errorf("config: user_namespace is required")
	}
	if c.PromptDir == "" {
		return fmt.Errorf("config: prompt_dir is required")
	}
	if c.ProviderEndpoint == "" {
		return fmt.Errorf("config: provider_endpoint is required")
	}
	var missing []string
	for _, role := range requiredRoles {
		rm, ok := c.RoleModels[role]
		if !ok || rm.ModelName == "" {
			missing = append(missing, role)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: role_models missing roles: %s", strings.Join(missing, ", "))
	}
	return nil
}
