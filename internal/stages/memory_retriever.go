package stages

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/thalamus/internal/graph"
	"github.com/haasonsaas/thalamus/internal/provider"
	"github.com/haasonsaas/thalamus/internal/turn"
)

var memoryRetrieverSpec = turn.StageSpec{
	ID:            "memory_retriever",
	RoleKey:       "reflect",
	PromptName:    "memory_retriever",
	TokenNames:    []string{"USER_TEXT", "MEMORY_REQUEST"},
	ToolsPolicy:   turn.ToolsLoop,
	AllowedSkills: []string{"mcp_memory_read"},
}

// MemoryRetriever translates context.memory_request into one or more
// memory-read tool calls, appends whatever comes back to
// context.sources as evidence, and always hands control back to
// context_builder (spec.md §4.1: memory_retriever is never a terminal
// node of the context loop).
func (d Deps) MemoryRetriever(ctx context.Context, deps graph.StageDeps, state *turn.State) (*turn.StageOutputs, error) {
	emitter := state.Runtime.Emitter

	reqBody, err := json.Marshal(state.Context.MemoryRequest)
	if err != nil {
		reqBody = []byte("{}")
	}
	tokens := d.tokens(state, map[string]string{"MEMORY_REQUEST": string(reqBody)})

	result, err := d.runLoop(ctx, "memory_retriever", "memory_retriever", tokens, deps.Toolset,
		provider.ResponseFormat{Kind: provider.FormatNull}, emitter)
	if err != nil {
		return nil, err
	}

	next := state.Context
	next.Sources = append(next.Sources, evidenceFromToolMessages(result.Messages, "memory_retriever")...)
	next.Issues = append(next.Issues, result.Issues...)
	next.Next = "context_builder"

	return &turn.StageOutputs{Context: &next}, nil
}
