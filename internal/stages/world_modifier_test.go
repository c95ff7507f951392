package stages

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/thalamus/internal/graph"
	"github.com/haasonsaas/thalamus/internal/provider"
	"github.com/haasonsaas/thalamus/internal/toolregistry"
	"github.com/haasonsaas/thalamus/internal/turn"
	"github.com/haasonsaas/thalamus/internal/world"
)

func newWorldModifierDeps(t *testing.T, client provider.Client) Deps {
	t.Helper()
	d := newTestDeps(t, client)
	if err := toolregistry.RegisterBuiltins(d.Registry); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	d.Firewall = toolregistry.NewFirewall(d.Registry,
		[]turn.Skill{{Name: "core_world_write", Tools: []string{"world_apply_ops"}}},
		[]string{"core_world_write"})
	d.Resources.WorldMutator = world.Mutator{}
	return d
}

func TestWorldModifier_AppliesOpsToWorkingCopy(t *testing.T) {
	args, _ := json.Marshal(map[string]any{
		"ops": []map[string]any{{"op": "set", "path": "topics", "value": []string{"billing"}}},
	})
	client := &fakeClient{responses: [][]provider.Chunk{
		{
			{ToolCall: &provider.ToolCall{ID: "call_1", Name: "world_apply_ops", ArgsJSON: args}},
			{Finish: provider.FinishToolCalls},
		},
		textResponse("ok"),
	}}
	d := newWorldModifierDeps(t, client)
	state := newTestState("world")

	out, err := d.WorldModifier(context.Background(), graph.StageDeps{Toolset: []string{"world_apply_ops"}}, state)
	if err != nil {
		t.Fatalf("WorldModifier: %v", err)
	}
	if out.World == nil {
		t.Fatal("expected a world output")
	}
	if len(out.World.Topics) != 1 || out.World.Topics[0] != "billing" {
		t.Fatalf("topics = %v", out.World.Topics)
	}
	if len(state.World.Topics) != 0 {
		t.Fatalf("original state.World should be untouched, got %v", state.World.Topics)
	}
}
