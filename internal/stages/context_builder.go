package stages

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/thalamus/internal/graph"
	"github.com/haasonsaas/thalamus/internal/jsonextract"
	"github.com/haasonsaas/thalamus/internal/provider"
	"github.com/haasonsaas/thalamus/internal/turn"
)

var contextBuilderSpec = turn.StageSpec{
	ID:            "context_builder",
	RoleKey:       "planner",
	PromptName:    "context_builder",
	TokenNames:    []string{"USER_TEXT", "CONTEXT_SUMMARY", "ISSUES"},
	ToolsPolicy:   turn.ToolsLoop,
	AllowedSkills: []string{"core_context", "mcp_memory_read"},
}

// contextDecision is the tolerant-JSON shape the context_builder model
// call is asked to emit (spec.md §3.2 context shape).
type contextDecision struct {
	Next          string         `json:"next"`
	Complete      bool           `json:"complete"`
	Issues        []string       `json:"issues"`
	MemoryRequest map[string]any `json:"memory_request"`
}

// ContextBuilder runs one round of the multi-round evidence-gathering
// loop: render the template against the current context summary, let
// the model issue tool calls (each producing an EvidencePacket via the
// tool loop's message history), then decide whether to hand off to
// memory_retriever or to answer.
func (d Deps) ContextBuilder(ctx context.Context, deps graph.StageDeps, state *turn.State) (*turn.StageOutputs, error) {
	emitter := state.Runtime.Emitter
	tokens := d.tokens(state, map[string]string{
		"CONTEXT_SUMMARY": summarizeContext(state.Context),
		"ISSUES":          joinIssues(state.Context.Issues),
	})

	result, err := d.runLoop(ctx, "context_builder", "context_builder", tokens, deps.Toolset,
		provider.ResponseFormat{Kind: provider.FormatJSONObject}, emitter)
	if err != nil {
		return nil, err
	}

	next := state.Context
	next.Sources = append(next.Sources, evidenceFromToolMessages(result.Messages, "context_builder")...)
	next.Issues = append(next.Issues, result.Issues...)

	var decision contextDecision
	if err := jsonextract.Find(result.Text, &decision); err != nil {
		next.Issues = append(next.Issues, "context_builder_parse_failed")
		next.Next = "answer"
	} else {
		next.Complete = decision.Complete
		next.Issues = append(next.Issues, decision.Issues...)
		if decision.MemoryRequest != nil {
			next.MemoryRequest = decision.MemoryRequest
		}
		if decision.Next == "memory_retriever" {
			next.Next = "memory_retriever"
		} else {
			next.Next = "answer"
		}
	}

	return &turn.StageOutputs{Context: &next}, nil
}

func summarizeContext(c turn.Context) string {
	body, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(body)
}

func joinIssues(issues []string) string {
	body, _ := json.Marshal(issues)
	return string(body)
}

// evidenceFromToolMessages converts every tool-role message appended
// during this stage's loop invocation into an EvidencePacket, so
// tool-sourced evidence is captured in context.sources the way
// spec.md §3.2 requires ("append-only within a turn").
func evidenceFromToolMessages(messages []provider.Message, stageID string) []turn.EvidencePacket {
	var packets []turn.EvidencePacket
	for _, m := range messages {
		if m.Role != "tool" {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(m.Content), &v); err != nil {
			v = m.Content
		}
		packets = append(packets, turn.EvidencePacket{
			Kind:  "tool_result",
			Items: []any{v},
			Meta:  turn.EvidenceMeta{Tool: stageID, TS: turn.Now().UTC().Format(time.RFC3339Nano)},
		})
	}
	return packets
}
