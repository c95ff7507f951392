package stages

import (
	"context"
	"testing"

	"github.com/haasonsaas/thalamus/internal/graph"
	"github.com/haasonsaas/thalamus/internal/provider"
)

func TestMemoryWriter_NoToolCallsYieldsNoIssues(t *testing.T) {
	client := &fakeClient{responses: [][]provider.Chunk{
		textResponse("nothing to store"),
	}}
	d := newTestDeps(t, client)
	state := newTestState("default")
	state.Final.Answer = "the answer"

	out, err := d.MemoryWriter(context.Background(), graph.StageDeps{}, state)
	if err != nil {
		t.Fatalf("MemoryWriter: %v", err)
	}
	if len(out.RuntimeIssues) != 0 {
		t.Fatalf("expected no issues, got %v", out.RuntimeIssues)
	}
}
