package world

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/haasonsaas/thalamus/internal/turn"
)

// ChatHistory is the append-only JSONL chat log (spec.md §3.5/§6.3):
// one turn.ChatTurn per line, human turns appended before the graph
// runs, assistant turns appended after turn_end (spec.md §9 Open
// Question resolution, see DESIGN.md).
type ChatHistory struct {
	mu   sync.Mutex
	path string
	log  *slog.Logger
}

// NewChatHistory creates a ChatHistory rooted at path (e.g.
// "<data_dir>/<user>/chat_history.jsonl").
func NewChatHistory(path string, logger *slog.Logger) *ChatHistory {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHistory{path: path, log: logger}
}

// Append writes one line. It never rewrites prior lines: corruption in
// an earlier line is tolerated by Tail (skipped with a logged warning)
// rather than failing the whole read.
func (h *ChatHistory) Append(turn_ turn.ChatTurn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(h.path), 0o700); err != nil {
		return fmt.Errorf("chat_history: mkdir: %w", err)
	}
	line, err := json.Marshal(turn_)
	if err != nil {
		return fmt.Errorf("chat_history: marshal: %w", err)
	}
	f, err := os.OpenFile(h.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("chat_history: open: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("chat_history: write: %w", err)
	}
	return f.Sync()
}

// Tail returns up to the last limit turns, optionally filtered by
// role, in chronological order. Malformed lines are skipped with a
// logged warning rather than aborting the read (spec.md §7 durability
// stance extended to the append-only log).
func (h *ChatHistory) Tail(ctx context.Context, limit int, roles []string) ([]turn.ChatTurn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []turn.ChatTurn{}, nil
		}
		return nil, fmt.Errorf("chat_history: open: %w", err)
	}
	defer f.Close()

	allow := make(map[string]bool, len(roles))
	for _, r := range roles {
		allow[r] = true
	}

	var matched []turn.ChatTurn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var t turn.ChatTurn
		if err := json.Unmarshal(line, &t); err != nil {
			h.log.Warn("chat_history: skipping malformed line",
				"path", h.path, "line", lineNo, "error", err)
			continue
		}
		if len(allow) > 0 && !allow[t.Role] {
			continue
		}
		matched = append(matched, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("chat_history: scan: %w", err)
	}

	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}
