package world

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/thalamus/internal/turn"
)

func TestChatHistory_TailEmpty(t *testing.T) {
	dir := t.TempDir()
	h := NewChatHistory(filepath.Join(dir, "chat_history.jsonl"), nil)
	turns, err := h.Tail(context.Background(), 10, nil)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected empty, got %v", turns)
	}
}

func TestChatHistory_AppendAndTail(t *testing.T) {
	dir := t.TempDir()
	h := NewChatHistory(filepath.Join(dir, "chat_history.jsonl"), nil)

	for i := 0; i < 5; i++ {
		role := turn.RoleHuman
		if i%2 == 1 {
			role = turn.RoleAssistant
		}
		if err := h.Append(turn.ChatTurn{TS: "t", Role: role, Content: "msg"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	all, err := h.Tail(context.Background(), 10, nil)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 turns, got %d", len(all))
	}

	last2, err := h.Tail(context.Background(), 2, nil)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(last2) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(last2))
	}

	onlyAssistant, err := h.Tail(context.Background(), 10, []string{turn.RoleAssistant})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(onlyAssistant) != 2 {
		t.Fatalf("expected 2 assistant turns, got %d", len(onlyAssistant))
	}
}

func TestChatHistory_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat_history.jsonl")
	content := `{"ts":"t","role":"human","content":"ok"}
not valid json at all
{"ts":"t","role":"assistant","content":"also ok"}
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := NewChatHistory(path, nil)
	turns, err := h.Tail(context.Background(), 10, nil)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 valid turns, got %d: %v", len(turns), turns)
	}
}
