package stages

import (
	"context"

	"github.com/haasonsaas/thalamus/internal/graph"
	"github.com/haasonsaas/thalamus/internal/provider"
	"github.com/haasonsaas/thalamus/internal/turn"
)

var memoryWriterSpec = turn.StageSpec{
	ID:            "memory_writer",
	RoleKey:       "reflect",
	PromptName:    "memory_writer",
	TokenNames:    []string{"USER_TEXT", "FINAL_ANSWER", "CONTEXT_SOURCES"},
	ToolsPolicy:   turn.ToolsLoop,
	AllowedSkills: []string{"mcp_memory_write"},
}

// MemoryWriter decides zero or more memory-store tool calls; all
// durable effects happen through the tool handler, so this stage
// declares no StageOutputs beyond any issues surfaced by the loop.
func (d Deps) MemoryWriter(ctx context.Context, deps graph.StageDeps, state *turn.State) (*turn.StageOutputs, error) {
	emitter := state.Runtime.Emitter

	tokens := d.tokens(state, map[string]string{
		"FINAL_ANSWER":    state.Final.Answer,
		"CONTEXT_SOURCES": sourcesDigest(state.Context.Sources),
	})

	result, err := d.runLoop(ctx, "memory_writer", "memory_writer", tokens, deps.Toolset,
		provider.ResponseFormat{Kind: provider.FormatNull}, emitter)
	if err != nil {
		return nil, err
	}

	if len(result.Issues) == 0 {
		return &turn.StageOutputs{}, nil
	}
	return &turn.StageOutputs{RuntimeIssues: result.Issues}, nil
}
