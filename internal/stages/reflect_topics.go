package stages

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/thalamus/internal/graph"
	"github.com/haasonsaas/thalamus/internal/jsonextract"
	"github.com/haasonsaas/thalamus/internal/provider"
	"github.com/haasonsaas/thalamus/internal/turn"
)

var reflectTopicsSpec = turn.StageSpec{
	ID:            "reflect_topics",
	RoleKey:       "reflect",
	PromptName:    "reflect_topics",
	TokenNames:    []string{"USER_TEXT", "FINAL_ANSWER", "PRIOR_TOPICS"},
	ToolsPolicy:   turn.ToolsDisabled,
	AllowedSkills: nil,
}

// ReflectTopics asks for a full replacement of world.topics, kept
// conservative per spec.md §Open Questions: a parse failure keeps the
// prior topics and appends an issue rather than guessing.
func (d Deps) ReflectTopics(ctx context.Context, deps graph.StageDeps, state *turn.State) (*turn.StageOutputs, error) {
	emitter := state.Runtime.Emitter

	tokens := d.tokens(state, map[string]string{
		"FINAL_ANSWER": state.Final.Answer,
		"PRIOR_TOPICS": joinTopics(state.World.Topics),
	})

	result, err := d.runLoop(ctx, "reflect_topics", "reflect_topics", tokens, nil,
		provider.ResponseFormat{Kind: provider.FormatJSONObject}, emitter)
	if err != nil {
		return nil, err
	}

	var topics []string
	issues := append([]string{}, result.Issues...)
	if err := jsonextract.Find(result.Text, &topics); err != nil {
		issues = append(issues, "reflect_topics_parse_failed")
		topics = state.World.Topics
	}

	next := state.World.Clone()
	next.Topics = topics

	return &turn.StageOutputs{World: next, RuntimeIssues: issues}, nil
}

func joinTopics(topics []string) string {
	body, err := json.Marshal(topics)
	if err != nil {
		return "[]"
	}
	return string(body)
}
