package stages

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/thalamus/internal/graph"
	"github.com/haasonsaas/thalamus/internal/provider"
	"github.com/haasonsaas/thalamus/internal/turn"
)

var worldModifierSpec = turn.StageSpec{
	ID:            "world_modifier",
	RoleKey:       "planner",
	PromptName:    "world_modifier",
	TokenNames:    []string{"USER_TEXT", "WORLD_SUMMARY"},
	ToolsPolicy:   turn.ToolsLoop,
	AllowedSkills: []string{"core_world_write"},
}

// WorldModifier lets the model issue world_apply_ops calls against a
// working copy of the world; whatever the tool handler accumulates in
// Resources.World over the stage's rounds becomes the turn's new world
// (spec.md §4.1: the executor commits the world exactly once, after
// this stage returns).
func (d Deps) WorldModifier(ctx context.Context, deps graph.StageDeps, state *turn.State) (*turn.StageOutputs, error) {
	emitter := state.Runtime.Emitter

	working := state.World.Clone()
	if d.Resources != nil {
		d.Resources.World = working
	}

	tokens := d.tokens(state, map[string]string{"WORLD_SUMMARY": worldSummary(working)})

	result, err := d.runLoop(ctx, "world_modifier", "world_modifier", tokens, deps.Toolset,
		provider.ResponseFormat{Kind: provider.FormatNull}, emitter)
	if err != nil {
		return nil, err
	}

	final := working
	if d.Resources != nil && d.Resources.World != nil {
		final = d.Resources.World
	}

	out := &turn.StageOutputs{World: final}
	if len(result.Issues) > 0 {
		out.RuntimeIssues = result.Issues
	}
	return out, nil
}

func worldSummary(w *turn.WorldState) string {
	if w == nil {
		return "{}"
	}
	body, err := json.Marshal(w)
	if err != nil {
		return w.Project
	}
	return string(body)
}
