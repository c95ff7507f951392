package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validConfig = `
world_state_path: /tmp/thalamus/world_state.json
chat_history_path: /tmp/thalamus/chat_history.jsonl
user_namespace: alice
prompt_dir: /tmp/thalamus/prompts
provider_endpoint: http://localhost:8080
role_models:
  router:
    model_name: small-router
    params:
      temperature: 0.0
      max_tokens: 256
  planner:
    model_name: mid-planner
  reflect:
    model_name: mid-reflect
  answer:
    model_name: big-answer
    params:
      temperature: 0.7
      max_tokens: 4096
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UserNamespace != "alice" {
		t.Errorf("UserNamespace = %q", cfg.UserNamespace)
	}
	if cfg.RoleModels["answer"].ModelName != "big-answer" {
		t.Errorf("answer model = %q", cfg.RoleModels["answer"].ModelName)
	}
	if cfg.RoleModels["answer"].Params.MaxTokens != 4096 {
		t.Errorf("answer max_tokens = %d", cfg.RoleModels["answer"].Params.MaxTokens)
	}
}

func TestLoadAppliesLimitDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := DefaultLimits()
	if cfg.Limits != want {
		t.Errorf("Limits = %+v, want %+v", cfg.Limits, want)
	}
	if len(cfg.EnabledSkills) == 0 {
		t.Error("EnabledSkills default not applied")
	}
}

func TestLoadOverridesLimits(t *testing.T) {
	body := validConfig + `
limits:
  context_rounds: 5
  tool_rounds: 2
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Limits.ContextRounds != 5 || cfg.Limits.ToolRounds != 2 {
		t.Errorf("Limits = %+v", cfg.Limits)
	}
	// unspecified fields keep defaults
	if cfg.Limits.EmitterBuffer != DefaultLimits().EmitterBuffer {
		t.Errorf("EmitterBuffer = %d", cfg.Limits.EmitterBuffer)
	}
}

func TestLoadRejectsMissingRole(t *testing.T) {
	body := strings.Replace(validConfig, "  answer:\n    model_name: big-answer\n", "", 1)
	_, err := Load(writeConfig(t, body))
	if err == nil || !strings.Contains(err.Error(), "answer") {
		t.Fatalf("err = %v, want missing-role error naming answer", err)
	}
}

func TestLoadRejectsMissingNamespace(t *testing.T) {
	body := strings.Replace(validConfig, "user_namespace: alice\n", "", 1)
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error for missing user_namespace")
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("THALAMUS_NS", "bob")
	body := strings.Replace(validConfig, "user_namespace: alice", "user_namespace: ${THALAMUS_NS}", 1)
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UserNamespace != "bob" {
		t.Errorf("UserNamespace = %q, want bob", cfg.UserNamespace)
	}
}
