package world

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/thalamus/internal/toolregistry"
	"github.com/haasonsaas/thalamus/internal/turn"
)

func TestStore_LoadMissingReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "world_state.json"), nil)
	ws, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ws.SchemaVersion != 1 {
		t.Fatalf("expected default schema version 1, got %d", ws.SchemaVersion)
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "world_state.json")
	s := NewStore(path, nil)

	ws := turn.DefaultWorldState()
	ws.Project = "thalamus"
	ws.Topics = []string{"go", "llm"}
	if err := s.Save(ws); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Project != "thalamus" || len(loaded.Topics) != 2 {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be renamed away, stat err = %v", err)
	}
}

func TestStore_LoadCorruptResetsToDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "world_state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	s := NewStore(path, nil)
	ws, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ws.SchemaVersion != 1 || ws.Project != "" {
		t.Fatalf("expected reset default, got %+v", ws)
	}
}

func TestStore_UnknownFieldsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "world_state.json")
	if err := os.WriteFile(path, []byte(`{"schema_version":1,"topics":[],"goals":[],"rules":[],"identity":{},"future_field":"kept"}`), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s := NewStore(path, nil)
	ws, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ws.Extra["future_field"] != "kept" {
		t.Fatalf("expected unknown field preserved, got %+v", ws.Extra)
	}
	if err := s.Save(ws); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.Contains(string(raw), "future_field") {
		t.Fatalf("expected future_field to survive round trip, got %s", raw)
	}
}

func TestMutator_ApplySetAppendRemove(t *testing.T) {
	base := turn.DefaultWorldState()
	m := Mutator{}

	next, err := m.Apply(base, []toolregistry.WorldOp{
		{Op: "set", Path: "topics", Value: []any{"a", "b"}},
		{Op: "append", Path: "topics", Value: "c"},
		{Op: "remove", Path: "topics", Value: "a"},
		{Op: "set", Path: "identity.user_name", Value: "Jordan"},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(next.Topics) != 2 || next.Topics[0] != "b" || next.Topics[1] != "c" {
		t.Fatalf("topics = %v", next.Topics)
	}
	if next.Identity.UserName != "Jordan" {
		t.Fatalf("identity.user_name = %q", next.Identity.UserName)
	}
	if len(base.Topics) != 0 {
		t.Fatalf("Apply must not mutate its argument, base.Topics = %v", base.Topics)
	}
}

func TestMutator_ApplyUnknownPath(t *testing.T) {
	base := turn.DefaultWorldState()
	m := Mutator{}
	if _, err := m.Apply(base, []toolregistry.WorldOp{{Op: "set", Path: "not_a_real_path", Value: "x"}}); err == nil {
		t.Fatal("expected error for unknown path")
	}
}
