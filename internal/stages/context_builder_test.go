package stages

import (
	"context"
	"testing"

	"github.com/haasonsaas/thalamus/internal/graph"
	"github.com/haasonsaas/thalamus/internal/provider"
)

func TestContextBuilder_HandsOffToMemoryRetriever(t *testing.T) {
	client := &fakeClient{responses: [][]provider.Chunk{
		textResponse(`{"next":"memory_retriever","complete":false}`),
	}}
	d := newTestDeps(t, client)
	state := newTestState("context")

	out, err := d.ContextBuilder(context.Background(), graph.StageDeps{}, state)
	if err != nil {
		t.Fatalf("ContextBuilder: %v", err)
	}
	if out.Context == nil || out.Context.Next != "memory_retriever" {
		t.Fatalf("next = %+v", out.Context)
	}
}

func TestContextBuilder_CompleteGoesToAnswer(t *testing.T) {
	client := &fakeClient{responses: [][]provider.Chunk{
		textResponse(`{"next":"answer","complete":true}`),
	}}
	d := newTestDeps(t, client)
	state := newTestState("context")

	out, err := d.ContextBuilder(context.Background(), graph.StageDeps{}, state)
	if err != nil {
		t.Fatalf("ContextBuilder: %v", err)
	}
	if out.Context == nil || out.Context.Next != "answer" || !out.Context.Complete {
		t.Fatalf("context = %+v", out.Context)
	}
}

func TestContextBuilder_UnparsableResponseFallsBackToAnswer(t *testing.T) {
	client := &fakeClient{responses: [][]provider.Chunk{
		textResponse(`garbage`),
	}}
	d := newTestDeps(t, client)
	state := newTestState("context")

	out, err := d.ContextBuilder(context.Background(), graph.StageDeps{}, state)
	if err != nil {
		t.Fatalf("ContextBuilder: %v", err)
	}
	if out.Context == nil || out.Context.Next != "answer" {
		t.Fatalf("expected fallback to answer, got %+v", out.Context)
	}
	found := false
	for _, issue := range out.Context.Issues {
		if issue == "context_builder_parse_failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected parse-failure issue, got %v", out.Context.Issues)
	}
}
