package toolregistry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/thalamus/internal/turn"
)

func handlerOK(ctx context.Context, args json.RawMessage, res *Resources) (any, error) {
	return map[string]any{"ok": true}, nil
}

func TestRegister_RequiresNameAndHandler(t *testing.T) {
	r := New()
	if err := r.Register(&Definition{Name: "", Handler: handlerOK}); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := r.Register(&Definition{Name: "x"}); err == nil {
		t.Fatal("expected error for missing handler")
	}
}

func TestRegister_CompilesSchema(t *testing.T) {
	r := New()
	err := r.Register(&Definition{
		Name:       "echo",
		ArgsSchema: json.RawMessage(`{"type":"object","properties":{"x":{"type":"integer"}},"required":["x"]}`),
		Handler:    handlerOK,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	def, ok := r.Get("echo")
	if !ok {
		t.Fatal("expected tool to be registered")
	}
	if err := def.ValidateArgs(json.RawMessage(`{"x":1}`)); err != nil {
		t.Fatalf("ValidateArgs valid: %v", err)
	}
	if err := def.ValidateArgs(json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected validation failure for missing required field")
	}
}

func TestRegister_InvalidSchemaRejected(t *testing.T) {
	r := New()
	err := r.Register(&Definition{
		Name:       "bad",
		ArgsSchema: json.RawMessage(`{"type": 123}`),
		Handler:    handlerOK,
	})
	if err == nil {
		t.Fatal("expected schema compile error")
	}
}

func TestVerifySkillCoverage(t *testing.T) {
	r := New()
	if err := r.Register(&Definition{Name: "tool_a", Handler: handlerOK}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	skills := []turn.Skill{{Name: "s1", Tools: []string{"tool_a"}}, {Name: "s2", Tools: []string{"missing_tool"}}}

	if err := VerifySkillCoverage(r, skills, map[string]bool{"s1": true}); err != nil {
		t.Fatalf("expected coverage ok when s2 disabled: %v", err)
	}
	if err := VerifySkillCoverage(r, skills, map[string]bool{"s1": true, "s2": true}); err == nil {
		t.Fatal("expected coverage error when s2 enabled with missing tool")
	}
}
