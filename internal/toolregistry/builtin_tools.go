package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/thalamus/internal/turn"
)

// BuiltinSkills returns the fixed skill → tools table stage toolsets
// are composed from. The enabled subset is a startup-time constant
// taken from configuration.
func BuiltinSkills() []turn.Skill {
	return []turn.Skill{
		{Name: "core_context", Tools: []string{"chat_history_tail"}},
		{Name: "core_world_write", Tools: []string{"world_apply_ops"}},
		{Name: "mcp_memory_read", Tools: []string{"memory_query"}},
		{Name: "mcp_memory_write", Tools: []string{"memory_store"}},
	}
}

// RegisterBuiltins registers the core's fixed tool taxonomy (spec.md
// §4.4): chat_history_tail, memory_query, memory_store,
// world_apply_ops. Handlers are thin: they validate shape, delegate
// to the Resources bundle, and let the tool loop own retry/timeout.
func RegisterBuiltins(r *Registry) error {
	defs := []*Definition{
		{
			Name:        "chat_history_tail",
			Description: "Return the last N lines of the chat history, optionally filtered by role.",
			ArgsSchema: json.RawMessage(`{
				"type":"object",
				"properties":{
					"limit":{"type":"integer","minimum":1,"maximum":1000},
					"roles":{"type":"array","items":{"type":"string"}}
				},
				"required":["limit"]
			}`),
			Handler: chatHistoryTailHandler,
		},
		{
			Name:        "memory_query",
			Description: "Query the external memory store for relevant items.",
			ArgsSchema: json.RawMessage(`{
				"type":"object",
				"properties":{
					"query":{"type":"string","minLength":1},
					"k":{"type":"integer","minimum":1,"maximum":50},
					"filters":{"type":"object"}
				},
				"required":["query"]
			}`),
			Handler: memoryQueryHandler,
		},
		{
			Name:        "memory_store",
			Description: "Write one item to the external memory store.",
			ArgsSchema: json.RawMessage(`{
				"type":"object",
				"properties":{
					"text":{"type":"string","minLength":1},
					"tags":{"type":"array","items":{"type":"string"}},
					"meta":{"type":"object"}
				},
				"required":["text"]
			}`),
			Handler: memoryStoreHandler,
		},
		{
			Name:        "world_apply_ops",
			Description: "Apply a JSON-patch-style mutation to a working copy of the turn's world.",
			ArgsSchema: json.RawMessage(`{
				"type":"object",
				"properties":{
					"ops":{"type":"array","items":{
						"type":"object",
						"properties":{
							"op":{"type":"string","enum":["set","append","remove"]},
							"path":{"type":"string"},
							"value":{}
						},
						"required":["op","path"]
					}}
				},
				"required":["ops"]
			}`),
			Handler: worldApplyOpsHandler,
		},
	}
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

type chatHistoryTailArgs struct {
	Limit int      `json:"limit"`
	Roles []string `json:"roles"`
}

func chatHistoryTailHandler(ctx context.Context, args json.RawMessage, res *Resources) (any, error) {
	var a chatHistoryTailArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("bad args: %w", err)
	}
	if res.ChatHistory == nil {
		return map[string]any{"turns": []turn.ChatTurn{}}, nil
	}
	turns, err := res.ChatHistory.Tail(ctx, a.Limit, a.Roles)
	if err != nil {
		return nil, err
	}
	return map[string]any{"turns": turns}, nil
}

type memoryQueryArgs struct {
	Query   string         `json:"query"`
	K       int            `json:"k"`
	Filters map[string]any `json:"filters"`
}

func memoryQueryHandler(ctx context.Context, args json.RawMessage, res *Resources) (any, error) {
	var a memoryQueryArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("bad args: %w", err)
	}
	if a.K == 0 {
		a.K = 5
	}
	if res.Memory == nil {
		return map[string]any{"items": []MemoryItem{}}, nil
	}
	items, err := res.Memory.Query(ctx, res.UserNamespace, a.Query, a.K, a.Filters)
	if err != nil {
		return nil, err
	}
	return map[string]any{"items": items}, nil
}

type memoryStoreArgs struct {
	Text string         `json:"text"`
	Tags []string       `json:"tags"`
	Meta map[string]any `json:"meta"`
}

func memoryStoreHandler(ctx context.Context, args json.RawMessage, res *Resources) (any, error) {
	var a memoryStoreArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("bad args: %w", err)
	}
	if res.Memory == nil {
		return map[string]any{"id": ""}, nil
	}
	id, err := res.Memory.Store(ctx, res.UserNamespace, a.Text, a.Tags, a.Meta)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": id}, nil
}

// allowedWorldPathPrefixes whitelists the world_apply_ops path
// namespace (spec.md §4.4).
var allowedWorldPathPrefixes = []string{"topics", "goals", "rules", "identity.", "project"}

func isAllowedWorldPath(path string) bool {
	for _, prefix := range allowedWorldPathPrefixes {
		if path == strings.TrimSuffix(prefix, ".") || strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

type worldApplyOpsArgs struct {
	Ops []WorldOp `json:"ops"`
}

// forbiddenPathError signals a world_apply_ops call naming a
// non-whitelisted path; the tool loop surfaces this as
// {ok:false,error:{kind:"forbidden_path"}} per spec.md §4.4.
type forbiddenPathError struct{ path string }

func (e *forbiddenPathError) Error() string { return "forbidden path: " + e.path }

func worldApplyOpsHandler(ctx context.Context, args json.RawMessage, res *Resources) (any, error) {
	var a worldApplyOpsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("bad args: %w", err)
	}
	for _, op := range a.Ops {
		if !isAllowedWorldPath(op.Path) {
			return nil, &forbiddenPathError{path: op.Path}
		}
	}
	if res.WorldMutator == nil {
		return nil, fmt.Errorf("world mutator unavailable")
	}
	next, err := res.WorldMutator.Apply(res.World, a.Ops)
	if err != nil {
		return nil, err
	}
	res.World = next // subsequent ops in the same stage see the accumulated result
	return map[string]any{"world": next}, nil
}
