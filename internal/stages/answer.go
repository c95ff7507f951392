package stages

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/thalamus/internal/graph"
	"github.com/haasonsaas/thalamus/internal/provider"
	"github.com/haasonsaas/thalamus/internal/turn"
)

var answerSpec = turn.StageSpec{
	ID:            "answer",
	RoleKey:       "answer",
	PromptName:    "answer",
	TokenNames:    []string{"USER_TEXT", "LANGUAGE", "CONTEXT_SOURCES"},
	ToolsPolicy:   turn.ToolsDisabled,
	AllowedSkills: nil,
}

// Answer streams the final reply. Unlike the other stages it builds
// its own message history — the rendered prompt plus one message per
// evidence packet gathered in context.sources — rather than going
// through runLoop's single-message helper, since the answer needs the
// full accumulated evidence, not just a summary token.
func (d Deps) Answer(ctx context.Context, deps graph.StageDeps, state *turn.State) (*turn.StageOutputs, error) {
	emitter := state.Runtime.Emitter

	tokens := d.tokens(state, map[string]string{"CONTEXT_SOURCES": sourcesDigest(state.Context.Sources)})
	rendered, err := d.Renderer.Render("answer", tokens)
	if err != nil {
		return nil, err
	}

	messages := []provider.Message{{Role: "user", Content: rendered}}
	for _, src := range state.Context.Sources {
		body, err := json.Marshal(src)
		if err != nil {
			continue
		}
		messages = append(messages, provider.Message{Role: "system", Content: string(body)})
	}

	// tools_policy=disabled: answer never issues tool calls (spec.md
	// §4.2 answer row), so toolNames is nil regardless of deps.Toolset.
	result, err := d.run(ctx, "answer", messages, nil, provider.ResponseFormat{Kind: provider.FormatNull}, emitter)
	if err != nil {
		return nil, err
	}

	return &turn.StageOutputs{FinalAnswer: &result.Text, RuntimeIssues: result.Issues}, nil
}

func sourcesDigest(sources []turn.EvidencePacket) string {
	body, err := json.Marshal(sources)
	if err != nil {
		return "[]"
	}
	return string(body)
}
