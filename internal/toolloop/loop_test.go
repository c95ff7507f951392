package toolloop

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/thalamus/internal/provider"
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

type nopEmitter struct{ deltas []string }

func (n *nopEmitter) TurnStart(string, string)                          {}
func (n *nopEmitter) NodeStart(string, string)                          {}
func (n *nopEmitter) NodeEnd(string, bool, int64, []string)             {}
func (n *nopEmitter) Log(string, string, string)                        {}
func (n *nopEmitter) DeltaThinking(text string)                         { n.deltas = append(n.deltas, text) }
func (n *nopEmitter) AssistantStreamStart()                             {}
func (n *nopEmitter) AssistantDelta(text string)                        { n.deltas = append(n.deltas, text) }
func (n *nopEmitter) AssistantStreamEnd(string)                         {}
func (n *nopEmitter) ToolCall(string, string, string, string)           {}
func (n *nopEmitter) ToolResult(string, string, string, bool, int64, int, string, string) {}
func (n *nopEmitter) WorldCommit(map[string]any, map[string]any, map[string]any) {}
func (n *nopEmitter) TurnEndOK([]string, time.Duration)                         {}
func (n *nopEmitter) TurnEndError(string, string)                              {}

func echoHandler(ctx context.Context, args json.RawMessage, res *toolregistry.Resources) (any, error) {
	var a map[string]any
	_ = json.Unmarshal(args, &a)
	return a, nil
}

func newTestRegistry(t *testing.T) (*toolregistry.Registry, *toolregistry.Firewall) {
	t.Helper()
	r := toolregistry.New()
	if err := r.Register(&toolregistry.Definition{
		Name:        "echo",
		Description: "echoes its args",
		ArgsSchema:  json.RawMessage(`{"type":"object"}`),
		Handler:     echoHandler,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	fw := toolregistry.NewFirewall(r, []turn.Skill{{Name: "s", Tools: []string{"echo"}}}, []string{"s"})
	return r, fw
}

func TestRun_NoToolCalls(t *testing.T) {
	client := &fakeClient{responses: [][]provider.Chunk{
		{{TextDelta: "hello "}, {TextDelta: "world"}, {Finish: provider.FinishStop}},
	}}
	r, fw := newTestRegistry(t)
	emitter := &nopEmitter{}
	res, err := Run(context.Background(), client, r, fw, &toolregistry.Resources{}, Config{}, Input{
		Messages:  []provider.Message{{Role: "user", Content: "hi"}},
		ToolNames: []string{"echo"},
		Emitter:   emitter,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Text != "hello world" {
		t.Fatalf("text = %q", res.Text)
	}
	if len(emitter.deltas) != 2 {
		t.Fatalf("deltas = %v", emitter.deltas)
	}
}

func TestRun_ToolCallThenAnswer(t *testing.T) {
	client := &fakeClient{responses: [][]provider.Chunk{
		{
			{ToolCall: &provider.ToolCall{ID: "call_1", Name: "echo", ArgsJSON: json.RawMessage(`{"x":1}`)}},
			{Finish: provider.FinishToolCalls},
		},
		{{TextDelta: "done"}, {Finish: provider.FinishStop}},
	}}
	r, fw := newTestRegistry(t)
	res, err := Run(context.Background(), client, r, fw, &toolregistry.Resources{}, Config{}, Input{
		Messages:  []provider.Message{{Role: "user", Content: "hi"}},
		ToolNames: []string{"echo"},
		Emitter:   &nopEmitter{},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Text != "done" {
		t.Fatalf("text = %q", res.Text)
	}
	// messages should include: user, assistant(tool_calls), tool result
	foundTool := false
	for _, m := range res.Messages {
		if m.Role == "tool" && m.ToolCallID == "call_1" {
			foundTool = true
			var result turn.ToolResult
			if err := json.Unmarshal([]byte(m.Content), &result); err != nil {
				t.Fatalf("tool message not valid ToolResult json: %v", err)
			}
			if !result.OK {
				t.Fatalf("expected ok result, got %+v", result)
			}
		}
	}
	if !foundTool {
		t.Fatal("expected a tool-role message in history")
	}
}

func TestRun_ForbiddenTool(t *testing.T) {
	client := &fakeClient{responses: [][]provider.Chunk{
		{
			{ToolCall: &provider.ToolCall{ID: "call_1", Name: "not_registered", ArgsJSON: json.RawMessage(`{}`)}},
			{Finish: provider.FinishToolCalls},
		},
		{{TextDelta: "ok"}, {Finish: provider.FinishStop}},
	}}
	r, fw := newTestRegistry(t)
	res, err := Run(context.Background(), client, r, fw, &toolregistry.Resources{}, Config{}, Input{
		Messages:  []provider.Message{{Role: "user", Content: "hi"}},
		ToolNames: []string{"echo"},
		Emitter:   &nopEmitter{},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var sawForbidden bool
	for _, m := range res.Messages {
		if m.Role == "tool" {
			var result turn.ToolResult
			_ = json.Unmarshal([]byte(m.Content), &result)
			if !result.OK && result.Error != nil && result.Error.Kind == string(turn.KindToolForbidden) {
				sawForbidden = true
			}
		}
	}
	if !sawForbidden {
		t.Fatal("expected a forbidden tool result")
	}
}

func TestRun_RoundsBounded(t *testing.T) {
	responses := make([][]provider.Chunk, 0, RoundBound+2)
	for i := 0; i < RoundBound+2; i++ {
		responses = append(responses, []provider.Chunk{
			{ToolCall: &provider.ToolCall{ID: "call", Name: "echo", ArgsJSON: json.RawMessage(`{}`)}},
			{Finish: provider.FinishToolCalls},
		})
	}
	client := &fakeClient{responses: responses}
	r, fw := newTestRegistry(t)
	res, err := Run(context.Background(), client, r, fw, &toolregistry.Resources{}, Config{}, Input{
		Messages:  []provider.Message{{Role: "user", Content: "hi"}},
		ToolNames: []string{"echo"},
		Emitter:   &nopEmitter{},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	found := false
	for _, issue := range res.Issues {
		if issue == "tool_rounds_bounded" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected tool_rounds_bounded issue, got %v", res.Issues)
	}
}

func TestRun_FormattingPassAfterToolRounds(t *testing.T) {
	client := &fakeClient{responses: [][]provider.Chunk{
		{
			{ToolCall: &provider.ToolCall{ID: "call_1", Name: "echo", ArgsJSON: json.RawMessage(`{"x":1}`)}},
			{Finish: provider.FinishToolCalls},
		},
		{{TextDelta: "prose summary"}, {Finish: provider.FinishStop}},
		{{TextDelta: `{"done":true}`}, {Finish: provider.FinishStop}},
	}}
	r, fw := newTestRegistry(t)
	res, err := Run(context.Background(), client, r, fw, &toolregistry.Resources{}, Config{}, Input{
		Messages:        []provider.Message{{Role: "user", Content: "hi"}},
		ToolNames:       []string{"echo"},
		ResponseFormat:  provider.ResponseFormat{Kind: provider.FormatJSONObject},
		FormatDirective: "Emit only JSON.",
		Emitter:         &nopEmitter{},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The formatting pass output replaces the prose from the last round.
	if res.Text != `{"done":true}` {
		t.Fatalf("text = %q", res.Text)
	}
	if client.calls != 3 {
		t.Fatalf("provider calls = %d, want 3 (tool round, exhausted round, formatting pass)", client.calls)
	}
}

func TestRun_EmptyToolsetSingleCallKeepsFormat(t *testing.T) {
	client := &fakeClient{responses: [][]provider.Chunk{
		{{TextDelta: `{"route":"default"}`}, {Finish: provider.FinishStop}},
	}}
	r, fw := newTestRegistry(t)
	res, err := Run(context.Background(), client, r, fw, &toolregistry.Resources{}, Config{}, Input{
		Messages:       []provider.Message{{Role: "user", Content: "hi"}},
		ResponseFormat: provider.ResponseFormat{Kind: provider.FormatJSONObject},
		Emitter:        &nopEmitter{},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Text != `{"route":"default"}` || client.calls != 1 {
		t.Fatalf("text = %q, calls = %d", res.Text, client.calls)
	}
}

func TestUnwrapArgs_DoubleEncoded(t *testing.T) {
	inner := `{"x":1}`
	doubleEncoded, _ := json.Marshal(inner)
	got, err := unwrapArgs(doubleEncoded)
	if err != nil {
		t.Fatalf("unwrapArgs: %v", err)
	}
	if string(got) != inner {
		t.Fatalf("got %q want %q", got, inner)
	}
}

func TestUnwrapArgs_PlainObject(t *testing.T) {
	plain := json.RawMessage(`{"x":1}`)
	got, err := unwrapArgs(plain)
	if err != nil {
		t.Fatalf("unwrapArgs: %v", err)
	}
	if string(got) != string(plain) {
		t.Fatalf("got %q want %q", got, plain)
	}
}

func TestRun_NoProvider(t *testing.T) {
	r, fw := newTestRegistry(t)
	_, err := Run(context.Background(), nil, r, fw, &toolregistry.Resources{}, Config{}, Input{
		Messages:  []provider.Message{{Role: "user", Content: "hi"}},
		ToolNames: []string{"echo"},
		Emitter:   &nopEmitter{},
	})
	if !errors.Is(err, turn.ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
}
