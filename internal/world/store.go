// Package world implements the durable halves of the data model
// (spec.md §3.2/§6.3): the single JSON world-state file and the
// append-only JSONL chat history, each scoped to one user/session
// directory.
//
// Grounded on internal/pairing/store.go's per-entity JSON file store:
// same write-temp-then-rename atomicity, same "missing file means
// first run" tolerance. Extended per spec.md §4.9/§7: a corrupt world
// file resets to DefaultWorldState and logs a warning rather than
// failing the turn.
package world

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/haasonsaas/thalamus/internal/toolregistry"
	"github.com/haasonsaas/thalamus/internal/turn"
)

// Store owns one user's world_state.json: load-on-turn-start,
// atomic-write-on-commit.
type Store struct {
	mu   sync.Mutex
	path string
	log  *slog.Logger
}

// NewStore creates a Store rooted at path (e.g. "<data_dir>/<user>/world_state.json").
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, log: logger}
}

// Load reads the world state, returning DefaultWorldState on first run
// (file absent) and on any decode failure (corruption), logging a
// warning in the latter case rather than failing the caller.
func (s *Store) Load() (*turn.WorldState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (*turn.WorldState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return turn.DefaultWorldState(), nil
		}
		return nil, fmt.Errorf("world: read %s: %w", s.path, err)
	}

	var ws turn.WorldState
	if err := json.Unmarshal(data, &ws); err != nil {
		s.log.Warn("world state corrupt, resetting to default",
			"path", s.path, "error", err)
		return turn.DefaultWorldState(), nil
	}
	return &ws, nil
}

// Save atomically persists the world state: write to a sibling temp
// file, fsync, then rename over the target (same pattern as
// internal/pairing/store.go's writeStore).
func (s *Store) Save(ws *turn.WorldState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ws)
}

func (s *Store) save(ws *turn.WorldState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("world: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return fmt.Errorf("world: marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("world: open temp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("world: write temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("world: sync temp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("world: close temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("world: rename: %w", err)
	}
	return nil
}

// Mutator adapts Store to the toolregistry.WorldMutator interface: it
// applies ops to an in-memory clone without touching disk, deferring
// the durable commit to the graph executor's world_modifier stage exit
// (spec.md §4.4 "never touches durable storage").
type Mutator struct{}

// Apply performs a JSON-patch-style mutation against a working copy of
// world and returns the mutated clone; it never mutates its argument.
func (Mutator) Apply(w *turn.WorldState, ops []toolregistry.WorldOp) (*turn.WorldState, error) {
	next := w.Clone()
	for _, op := range ops {
		if err := applyOne(next, op); err != nil {
			return nil, err
		}
	}
	return next, nil
}

func applyOne(w *turn.WorldState, op toolregistry.WorldOp) error {
	switch op.Path {
	case "topics":
		return applyStringSlice(&w.Topics, op)
	case "goals":
		return applyStringSlice(&w.Goals, op)
	case "rules":
		return applyStringSlice(&w.Rules, op)
	case "project":
		if op.Op != "set" {
			return fmt.Errorf("world: op %q not valid for scalar path %q", op.Op, op.Path)
		}
		w.Project = fmt.Sprint(op.Value)
	case "identity.user_name":
		w.Identity.UserName = fmt.Sprint(op.Value)
	case "identity.session_user_name":
		w.Identity.SessionUserName = fmt.Sprint(op.Value)
	case "identity.agent_name":
		w.Identity.AgentName = fmt.Sprint(op.Value)
	case "identity.user_location":
		w.Identity.UserLocation = fmt.Sprint(op.Value)
	default:
		return fmt.Errorf("world: unknown path %q", op.Path)
	}
	return nil
}

func applyStringSlice(dst *[]string, op toolregistry.WorldOp) error {
	switch op.Op {
	case "set":
		vals, err := toStringSlice(op.Value)
		if err != nil {
			return err
		}
		*dst = vals
	case "append":
		*dst = append(*dst, fmt.Sprint(op.Value))
	case "remove":
		target := fmt.Sprint(op.Value)
		out := (*dst)[:0:0]
		for _, v := range *dst {
			if v != target {
				out = append(out, v)
			}
		}
		*dst = out
	default:
		return fmt.Errorf("world: unknown op %q", op.Op)
	}
	return nil
}

func toStringSlice(v any) ([]string, error) {
	switch vv := v.(type) {
	case []string:
		return vv, nil
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			out = append(out, fmt.Sprint(item))
		}
		return out, nil
	default:
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(v); err != nil {
			return nil, fmt.Errorf("world: value is not a string list: %w", err)
		}
		var out []string
		if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
			return nil, fmt.Errorf("world: value is not a string list")
		}
		return out, nil
	}
}
