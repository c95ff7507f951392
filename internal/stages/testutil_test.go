package stages

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/thalamus/internal/events"
	"github.com/haasonsaas/thalamus/internal/prompt"
	"github.com/haasonsaas/thalamus/internal/provider"
	"github.com/haasonsaas/thalamus/internal/toolloop"
	"github.com/haasonsaas/thalamus/internal/toolregistry"
	"github.com/haasonsaas/thalamus/internal/turn"
)

// fakeClient scripts a sequence of responses, one per Complete call.
type fakeClient struct {
	responses [][]provider.Chunk
	calls     int
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) Complete(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	if f.calls >= len(f.responses) {
		return nil, errors.New("fakeClient: no more scripted responses")
	}
	resp := f.responses[f.calls]
	f.calls++
	ch := make(chan provider.Chunk, len(resp))
	for _, c := range resp {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func textResponse(text string) []provider.Chunk {
	return []provider.Chunk{{TextDelta: text}, {Finish: provider.FinishStop}}
}

func newTestEmitter() turn.Emitter {
	return events.NewEmitter("turn-1", &events.CollectSink{})
}

// writeTemplate writes a stage's prompt template to dir/name.txt.
func writeTemplate(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".txt"), []byte(body), 0o600); err != nil {
		t.Fatalf("write template %s: %v", name, err)
	}
}

// newTestDeps builds a Deps wired to a fakeClient and an empty but
// functional toolregistry/renderer stack, writing a trivial template
// for every stage name under a fresh temp directory.
func newTestDeps(t *testing.T, client provider.Client) Deps {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{
		"router", "context_builder", "memory_retriever", "world_modifier",
		"answer", "reflect_topics", "memory_writer",
	} {
		writeTemplate(t, dir, name, "stage prompt for <<USER_TEXT>>")
	}
	registry := toolregistry.New()
	firewall := toolregistry.NewFirewall(registry, nil, nil)
	return Deps{
		Client:     client,
		Registry:   registry,
		Firewall:   firewall,
		Resources:  &toolregistry.Resources{},
		Renderer:   prompt.NewRenderer(dir),
		Model:      "test-model",
		LoopConfig: toolloop.Config{},
	}
}

func newTestState(route string) *turn.State {
	return &turn.State{
		Task:    turn.Task{UserText: "hello", Route: route, Language: "en"},
		World:   turn.DefaultWorldState(),
		Runtime: turn.Runtime{TurnID: "turn-1", Emitter: newTestEmitter()},
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(body)
}
