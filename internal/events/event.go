// Package events implements the turn.v1 event-stream contract: a
// typed, monotonically sequenced event bus plus a bounded,
// non-blocking delivery sink with overflow accounting.
//
// Grounded on internal/agent/event_emitter.go (atomic sequence counter,
// typed emit methods) and internal/agent/event_sink.go (two-lane
// high/low priority channel merge) from the teacher, remapped from the
// teacher's AgentEvent taxonomy to spec.md §6.2's turn.v1 taxonomy.
package events

import "time"

// Event types, spec.md §6.2.
const (
	TypeTurnStart            = "turn_start"
	TypeTurnEndOK             = "turn_end_ok"
	TypeTurnEndError          = "turn_end_error"
	TypeNodeStart             = "node_start"
	TypeNodeEnd               = "node_end"
	TypeAssistantStreamStart  = "assistant_stream_start"
	TypeAssistantDelta        = "assistant_delta"
	TypeAssistantStreamEnd    = "assistant_stream_end"
	TypeDeltaThinking         = "delta_thinking"
	TypeLog                   = "log"
	TypeToolCall              = "tool_call"
	TypeToolResult            = "tool_result"
	TypeWorldCommit           = "world_commit"
	TypeOverflow              = "overflow"
)

// nonEssential is the set of event types eligible to be dropped under
// backpressure (spec.md §4.7). Every other type is a lifecycle event
// and is never dropped.
var nonEssential = map[string]bool{
	TypeDeltaThinking:  true,
	TypeAssistantDelta: true,
	TypeLog:            true,
}

// IsDroppable reports whether events of this type may be dropped when
// a subscriber's bounded buffer is full.
func IsDroppable(eventType string) bool {
	return nonEssential[eventType]
}

// TurnEvent is the wire shape of every event in the stream.
type TurnEvent struct {
	Protocol string `json:"protocol"`
	Seq      uint64 `json:"seq"`
	TurnID   string `json:"turn_id"`
	Type     string `json:"type"`
	TS       string `json:"ts"`
	Payload  any    `json:"payload"`
}

func nowISO() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// Payload shapes, spec.md §6.2.

type TurnStartPayload struct {
	UserText string `json:"user_text"`
	NowISO   string `json:"now_iso"`
	Timezone string `json:"timezone"`
}

type TurnEndOKPayload struct {
	Summary TurnSummary `json:"summary"`
}

type TurnSummary struct {
	NodesVisited []string `json:"nodes_visited"`
	DurationMS   int64    `json:"duration_ms"`
}

type TurnEndErrorPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type NodeStartPayload struct {
	StageID string `json:"stage_id"`
	RoleKey string `json:"role_key"`
}

type NodeEndPayload struct {
	StageID    string   `json:"stage_id"`
	OK         bool     `json:"ok"`
	DurationMS int64    `json:"duration_ms"`
	Issues     []string `json:"issues,omitempty"`
}

type AssistantDeltaPayload struct {
	Text string `json:"text"`
}

type AssistantStreamEndPayload struct {
	TextTotal string `json:"text_total"`
}

type DeltaThinkingPayload struct {
	Text string `json:"text"`
}

type LogPayload struct {
	Level   string `json:"level"`
	Source  string `json:"source"`
	Message string `json:"message"`
}

type ToolCallPayload struct {
	StageID    string `json:"stage_id"`
	Name       string `json:"name"`
	ID         string `json:"id"`
	ArgsDigest string `json:"args_digest"`
}

type ToolResultPayload struct {
	StageID    string          `json:"stage_id"`
	Name       string          `json:"name"`
	ID         string          `json:"id"`
	OK         bool            `json:"ok"`
	DurationMS int64           `json:"duration_ms"`
	Bytes      int             `json:"bytes"`
	Error      *ToolResultError `json:"error,omitempty"`
}

type ToolResultError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type WorldCommitPayload struct {
	Diff WorldDiff `json:"diff"`
}

type WorldDiff struct {
	Added   map[string]any `json:"added"`
	Removed map[string]any `json:"removed"`
	Changed map[string]any `json:"changed"`
}

type OverflowPayload struct {
	Dropped int `json:"dropped"`
}
