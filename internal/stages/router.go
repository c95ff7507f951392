package stages

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/haasonsaas/thalamus/internal/graph"
	"github.com/haasonsaas/thalamus/internal/provider"
	"github.com/haasonsaas/thalamus/internal/turn"
)

var routerSpec = turn.StageSpec{
	ID:            "router",
	RoleKey:       "router",
	PromptName:    "router",
	TokenNames:    []string{"USER_TEXT", "LANGUAGE", "PROJECT", "TOPIC_DIGEST", "CHAT_TAIL", "MEMORY_HITS"},
	ToolsPolicy:   turn.ToolsPrefill,
	AllowedSkills: []string{"core_context", "mcp_memory_read"},
}

// allowedRoutes is the enumerated route set (spec.md §4.2 router row:
// "unknown → default").
var allowedRoutes = map[string]bool{
	turn.RouteContext: true,
	turn.RouteWorld:   true,
	turn.RouteDefault: true,
}

// Router performs the mechanical prefill (chat tail + a memory query
// keyed by the topic digest) then a single classification call,
// assigning task.route and task.language.
func (d Deps) Router(ctx context.Context, deps graph.StageDeps, state *turn.State) (*turn.StageOutputs, error) {
	emitter := state.Runtime.Emitter

	tail := d.prefillChatTail(ctx, state)
	digest := topicDigest(state.World)
	hits := d.prefillMemoryHits(ctx, deps, digest)

	tokens := d.tokens(state, map[string]string{
		"TOPIC_DIGEST": digest,
		"CHAT_TAIL":    tail,
		"MEMORY_HITS":  hits,
	})

	// tools_policy=prefill: the prefetches above are mechanical direct
	// resource reads, not model-initiated tool calls, so the
	// classification call itself runs with no tools offered (spec.md
	// §4.2 Stage Contract).
	result, err := d.runLoop(ctx, "router", "router", tokens, nil,
		provider.ResponseFormat{Kind: provider.FormatJSONObject}, emitter)
	if err != nil {
		return nil, err
	}

	var decision struct {
		Route    string `json:"route"`
		Language string `json:"language"`
	}
	var issues []string
	if err := json.Unmarshal([]byte(result.Text), &decision); err != nil {
		issues = append(issues, "router_parse_failed")
		decision.Route = turn.RouteDefault
	}
	if !allowedRoutes[decision.Route] {
		decision.Route = turn.RouteDefault
	}
	if decision.Language == "" {
		decision.Language = "en"
	}
	issues = append(issues, result.Issues...)

	return &turn.StageOutputs{
		TaskRoute:     &decision.Route,
		TaskLanguage:  &decision.Language,
		RuntimeIssues: issues,
	}, nil
}

// prefillChatTail mechanically fetches the last few chat turns ahead
// of the classification call (spec.md §4.2 router row: "prefill (chat
// tail + memory query by topic digest)").
func (d Deps) prefillChatTail(ctx context.Context, state *turn.State) string {
	if d.Resources == nil || d.Resources.ChatHistory == nil {
		return ""
	}
	turns, err := d.Resources.ChatHistory.Tail(ctx, 5, nil)
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// prefillMemoryHits is the second half of the router's prefill: one
// memory query keyed by the topic digest, issued directly against the
// memory resource. The read is still subject to the stage's firewalled
// toolset — no memory_query in the composed toolset means no read, the
// same boundary a loop stage would face.
func (d Deps) prefillMemoryHits(ctx context.Context, deps graph.StageDeps, digest string) string {
	if d.Resources == nil || d.Resources.Memory == nil || digest == "" {
		return ""
	}
	allowed := false
	for _, name := range deps.Toolset {
		if name == "memory_query" {
			allowed = true
			break
		}
	}
	if !allowed {
		return ""
	}
	items, err := d.Resources.Memory.Query(ctx, d.Resources.UserNamespace, digest, 3, nil)
	if err != nil || len(items) == 0 {
		return ""
	}
	var b strings.Builder
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// topicDigest derives a short, stable fingerprint from world.topics[]
// and world.project (spec.md §4.2: "Mechanical query digest derived
// from world.topics[] and world.project").
func topicDigest(w *turn.WorldState) string {
	if w == nil {
		return ""
	}
	topics := append([]string(nil), w.Topics...)
	sort.Strings(topics)
	sum := sha256.Sum256([]byte(w.Project + "|" + strings.Join(topics, ",")))
	return hex.EncodeToString(sum[:])[:12]
}
