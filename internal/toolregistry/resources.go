package toolregistry

import (
	"context"
	"log/slog"

	"github.com/haasonsaas/thalamus/internal/turn"
)

// ChatHistoryReader is the tail-read surface a tool handler may use.
// Implemented by internal/world.ChatHistory; read-only by contract
// (spec.md §3.4: "the tail-read tool observes it but never writes").
type ChatHistoryReader interface {
	Tail(ctx context.Context, limit int, roles []string) ([]turn.ChatTurn, error)
}

// WorldMutator applies JSON-patch-style ops to a working copy of the
// turn's world and returns the result; it never touches durable
// storage (spec.md §4.4 world_apply_ops).
type WorldMutator interface {
	Apply(world *turn.WorldState, ops []WorldOp) (*turn.WorldState, error)
}

// WorldOp is one operation accepted by world_apply_ops.
type WorldOp struct {
	Op    string `json:"op"` // "set" | "append" | "remove"
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// MemoryClient is the thin interface the memory_query/memory_store
// tools call. The remote memory/document store and its wire protocol
// are an external collaborator out of scope for the core (spec.md
// §1); when MemoryEndpoint is unset, NoopMemoryClient satisfies this
// interface and returns the spec's empty defaults.
type MemoryClient interface {
	Query(ctx context.Context, namespace, query string, k int, filters map[string]any) ([]MemoryItem, error)
	Store(ctx context.Context, namespace, text string, tags []string, meta map[string]any) (id string, err error)
}

// MemoryItem is one hit returned by MemoryClient.Query.
type MemoryItem struct {
	ID    string         `json:"id"`
	Text  string         `json:"text"`
	Score float64        `json:"score"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// Resources bundles the host-side capabilities a tool handler needs.
// Handlers receive exactly this bundle; any internal locking
// (sessionLock-style, per spec.md §5) is the bundle implementation's
// responsibility, not the registry's.
type Resources struct {
	ChatHistory   ChatHistoryReader
	WorldMutator  WorldMutator
	Memory        MemoryClient
	UserNamespace string
	World         *turn.WorldState // the turn's current working copy
	Logger        *slog.Logger
}
