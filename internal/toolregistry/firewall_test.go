package toolregistry

import (
	"testing"

	"github.com/haasonsaas/thalamus/internal/turn"
)

func TestFirewall_ToolsetIsUnionOfEnabledSkills(t *testing.T) {
	r := New()
	for _, name := range []string{"chat_history_tail", "memory_query", "world_apply_ops"} {
		if err := r.Register(&Definition{Name: name, Handler: handlerOK}); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}
	skills := []turn.Skill{
		{Name: "core_context", Tools: []string{"chat_history_tail"}},
		{Name: "mcp_memory_read", Tools: []string{"memory_query"}},
		{Name: "core_world", Tools: []string{"world_apply_ops"}},
	}
	fw := NewFirewall(r, skills, []string{"core_context", "mcp_memory_read"})

	got := fw.Toolset("context_builder", []string{"core_context", "mcp_memory_read", "core_world"})
	want := map[string]bool{"chat_history_tail": true, "memory_query": true}
	if len(got) != len(want) {
		t.Fatalf("got %v want keys %v", got, want)
	}
	for _, n := range got {
		if !want[n] {
			t.Fatalf("unexpected tool %q in toolset (core_world not enabled)", n)
		}
	}
}

func TestFirewall_IsAllowedAndCaching(t *testing.T) {
	r := New()
	if err := r.Register(&Definition{Name: "tool_a", Handler: handlerOK}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	skills := []turn.Skill{{Name: "s1", Tools: []string{"tool_a"}}}
	fw := NewFirewall(r, skills, []string{"s1"})

	if !fw.IsAllowed("stage1", []string{"s1"}, "tool_a") {
		t.Fatal("expected tool_a allowed")
	}
	if fw.IsAllowed("stage1", []string{"s1"}, "tool_b") {
		t.Fatal("expected tool_b forbidden")
	}

	first := fw.Toolset("stage1", []string{"s1"})
	second := fw.Toolset("stage1", []string{"s1"})
	if len(first) != len(second) {
		t.Fatal("cached toolset mismatch")
	}
}

func TestFirewall_Schemas(t *testing.T) {
	r := New()
	if err := r.Register(&Definition{Name: "tool_a", Description: "does a thing", Handler: handlerOK}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	fw := NewFirewall(r, nil, nil)
	schemas := fw.Schemas([]string{"tool_a", "unregistered"})
	if len(schemas) != 1 || schemas[0].Name != "tool_a" {
		t.Fatalf("unexpected schemas: %+v", schemas)
	}
}
