package stages

import (
	"context"
	"testing"

	"github.com/haasonsaas/thalamus/internal/graph"
	"github.com/haasonsaas/thalamus/internal/provider"
)

func TestReflectTopics_ReplacesTopics(t *testing.T) {
	client := &fakeClient{responses: [][]provider.Chunk{
		textResponse(`["billing","refunds"]`),
	}}
	d := newTestDeps(t, client)
	state := newTestState("default")
	state.World.Topics = []string{"old"}

	out, err := d.ReflectTopics(context.Background(), graph.StageDeps{}, state)
	if err != nil {
		t.Fatalf("ReflectTopics: %v", err)
	}
	if out.World == nil {
		t.Fatal("expected world output")
	}
	if len(out.World.Topics) != 2 || out.World.Topics[0] != "billing" {
		t.Fatalf("topics = %v", out.World.Topics)
	}
}

func TestReflectTopics_ParseFailureKeepsPriorTopics(t *testing.T) {
	client := &fakeClient{responses: [][]provider.Chunk{
		textResponse("not a json array"),
	}}
	d := newTestDeps(t, client)
	state := newTestState("default")
	state.World.Topics = []string{"kept"}

	out, err := d.ReflectTopics(context.Background(), graph.StageDeps{}, state)
	if err != nil {
		t.Fatalf("ReflectTopics: %v", err)
	}
	if out.World == nil || len(out.World.Topics) != 1 || out.World.Topics[0] != "kept" {
		t.Fatalf("topics = %v", out.World.Topics)
	}
	found := false
	for _, issue := range out.RuntimeIssues {
		if issue == "reflect_topics_parse_failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected reflect_topics_parse_failed issue, got %v", out.RuntimeIssues)
	}
}
