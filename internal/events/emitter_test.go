package events

import (
	"testing"
	"time"
)

func TestEmitter_SequenceIsMonotonic(t *testing.T) {
	sink := &CollectSink{}
	e := NewEmitter("turn-1", sink)

	e.TurnStart("hi", "UTC")
	e.NodeStart("router", "router")
	e.NodeEnd("router", true, 5, nil)
	e.TurnEndOK([]string{"router"}, time.Millisecond)

	got := sink.Events()
	if len(got) != 4 {
		t.Fatalf("expected 4 events, got %d", len(got))
	}
	for i, ev := range got {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d: seq = %d, want %d", i, ev.Seq, i+1)
		}
		if ev.TurnID != "turn-1" {
			t.Fatalf("event %d: turn_id = %q", i, ev.TurnID)
		}
		if ev.Protocol != "turn.v1" {
			t.Fatalf("event %d: protocol = %q", i, ev.Protocol)
		}
	}
}

func TestEmitter_NilSinkDiscards(t *testing.T) {
	e := NewEmitter("turn-1", nil)
	e.TurnStart("hi", "UTC") // must not panic
}

func TestNewTurnID_Unique(t *testing.T) {
	a := NewTurnID()
	b := NewTurnID()
	if a == b {
		t.Fatal("expected distinct turn ids")
	}
}

func TestIsDroppable(t *testing.T) {
	droppable := []string{TypeDeltaThinking, TypeAssistantDelta, TypeLog}
	for _, typ := range droppable {
		if !IsDroppable(typ) {
			t.Fatalf("%s should be droppable", typ)
		}
	}
	essential := []string{TypeTurnStart, TypeTurnEndOK, TypeTurnEndError, TypeNodeStart, TypeNodeEnd,
		TypeAssistantStreamStart, TypeAssistantStreamEnd, TypeWorldCommit, TypeToolCall, TypeToolResult}
	for _, typ := range essential {
		if IsDroppable(typ) {
			t.Fatalf("%s should not be droppable", typ)
		}
	}
}
