// Package toolloop implements the deterministic, streaming
// tool-invocation loop of spec.md §4.3: repeated provider calls,
// sequential in-round tool dispatch, and a final formatting pass.
//
// Grounded on internal/agent/executor.go's round-bounded tool
// execution and panic/timeout recovery, and internal/agent/runtime.go's
// streaming-delta forwarding; deliberately departs from the teacher's
// Executor.ExecuteAll parallel goroutine+WaitGroup fan-out in favour of
// sequential dispatch within a round (spec.md §4.3 ordering rule).
package toolloop

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/thalamus/internal/backoff"
	"github.com/haasonsaas/thalamus/internal/provider"
	"github.com/haasonsaas/thalamus/internal/toolregistry"
	"github.com/haasonsaas/thalamus/internal/turn"
)

// RoundBound is the maximum number of model round-trips before the
// loop forces a formatting pass (spec.md §4.3).
const RoundBound = 8

// DefaultToolDeadline bounds a single tool handler invocation.
const DefaultToolDeadline = 15 * time.Second

// Config tunes the loop's bounds; zero values fall back to defaults.
type Config struct {
	RoundBound   int
	ToolDeadline time.Duration
}

func (c Config) roundBound() int {
	if c.RoundBound > 0 {
		return c.RoundBound
	}
	return RoundBound
}

func (c Config) toolDeadline() time.Duration {
	if c.ToolDeadline > 0 {
		return c.ToolDeadline
	}
	return DefaultToolDeadline
}

// Input is everything one Run call needs.
type Input struct {
	Messages       []provider.Message
	ToolNames      []string // the stage's firewalled toolset
	ResponseFormat provider.ResponseFormat
	Model          string
	Params         provider.Params

	StageID string
	Emitter turn.Emitter

	// FormatDirective is the single additional system message the
	// formatting pass appends (e.g. "emit only a JSON object matching
	// …"); empty means the pass reuses the history as-is.
	FormatDirective string

	// AssistantStream marks the one stage per turn (answer) whose text
	// deltas are the user-visible reply: its stream is bracketed by
	// assistant_stream_start/assistant_stream_end and forwarded as
	// assistant_delta. Every other stage's deltas are forwarded as
	// delta_thinking with no bracket events (spec.md §8 property 4).
	AssistantStream bool
}

// Result is the loop's outcome: the final assistant text plus the full
// message history (including injected tool results) for any caller
// that needs to persist or re-render the exchange.
type Result struct {
	Text     string
	Messages []provider.Message
	Usage    provider.Usage
	Issues   []string
}

// Run drives the round-based streaming state machine.
func Run(ctx context.Context, client provider.Client, registry *toolregistry.Registry, firewall *toolregistry.Firewall, res *toolregistry.Resources, cfg Config, in Input) (*Result, error) {
	if client == nil {
		return nil, turn.ErrNoProvider
	}
	messages := append([]provider.Message(nil), in.Messages...)
	schemas := firewall.Schemas(in.ToolNames)
	toolAllowed := make(map[string]bool, len(in.ToolNames))
	for _, n := range in.ToolNames {
		toolAllowed[n] = true
	}

	var issues []string
	var usage provider.Usage
	bound := cfg.roundBound()

	wantFormat := in.ResponseFormat.Kind != "" && in.ResponseFormat.Kind != provider.FormatNull

	for round := 1; ; round++ {
		forceFormat := round > bound
		if forceFormat {
			issues = append(issues, "tool_rounds_bounded")
		}

		// Tool rounds run with response_format null; the requested
		// format is applied by a dedicated tools-disabled formatting
		// pass once tool activity is exhausted (spec.md §4.3). With an
		// empty toolset there are no tool rounds, so the single call
		// carries the format directly.
		req := provider.Request{
			Model:     in.Model,
			Messages:  messages,
			Tools:     schemas,
			Streaming: true,
			Params:    in.Params,
		}
		if len(schemas) == 0 {
			req.ResponseFormat = in.ResponseFormat
		}
		if forceFormat {
			req.Tools = nil // no further tool offers; model must answer in prose/JSON
			req.ResponseFormat = in.ResponseFormat
		}

		text, calls, u, err := streamOnce(ctx, client, req, in.Emitter, in.AssistantStream)
		if err != nil {
			return nil, err
		}
		if u.Reported {
			usage = u
		}

		if len(calls) == 0 || forceFormat {
			if wantFormat && len(schemas) > 0 && !forceFormat {
				formatted, fu, ferr := formattingPass(ctx, client, in, messages)
				if ferr != nil {
					return nil, ferr
				}
				if fu.Reported {
					usage = fu
				}
				text = formatted
			}
			return &Result{Text: text, Messages: messages, Usage: usage, Issues: issues}, nil
		}

		assistantMsg := provider.Message{Role: "assistant", Content: text, ToolCalls: calls}
		messages = append(messages, assistantMsg)

		// Sequential in-round dispatch, in the order the model emitted
		// the calls (spec.md §4.3 ordering rule — a deliberate deviation
		// from the teacher's parallel fan-out).
		for _, call := range calls {
			resultMsg := dispatchOne(ctx, registry, toolAllowed, res, cfg, in.StageID, in.Emitter, call)
			messages = append(messages, resultMsg)
		}
	}
}

// formattingPass runs the tools-disabled final call that shapes the
// accumulated exchange into the requested response format. The full
// message history (including injected tool messages) is reused, plus
// the stage's single additional format directive when it declares one;
// its output replaces any text from earlier rounds (spec.md §4.3).
func formattingPass(ctx context.Context, client provider.Client, in Input, messages []provider.Message) (string, provider.Usage, error) {
	if in.FormatDirective != "" {
		messages = append(append([]provider.Message(nil), messages...),
			provider.Message{Role: "system", Content: in.FormatDirective})
	}
	req := provider.Request{
		Model:          in.Model,
		Messages:       messages,
		Streaming:      true,
		Params:         in.Params,
		ResponseFormat: in.ResponseFormat,
	}
	text, _, usage, err := streamOnce(ctx, client, req, in.Emitter, in.AssistantStream)
	return text, usage, err
}

// streamOnce drives a single provider call to completion, forwarding
// text deltas to the emitter and accumulating any tool calls. Transient
// transport errors (spec.md §4.5: timeout, 5xx, connection_reset) are
// retried exactly once, with backoff bounded to provider.MaxRetryBudget
// total; any other error returns immediately. When assistant is set,
// the call is bracketed by assistant_stream_start/assistant_stream_end;
// on cancel or error the end bracket still carries whatever text was
// streamed (spec.md §8 S5).
func streamOnce(ctx context.Context, client provider.Client, req provider.Request, emitter turn.Emitter, assistant bool) (string, []provider.ToolCall, provider.Usage, error) {
	if assistant && emitter != nil {
		emitter.AssistantStreamStart()
	}
	text, calls, usage, err := attemptStream(ctx, client, req, emitter, assistant)
	if err != nil {
		// An assistant stream that already forwarded deltas is not
		// retried: the delta concatenation must stay equal to the final
		// text_total.
		if te, ok := err.(*provider.TransportError); ok && te.IsTransient() && ctx.Err() == nil && (!assistant || text == "") {
			if serr := backoff.SleepWithBackoff(ctx, retryPolicy(), 1); serr != nil {
				err = serr
			} else {
				text, calls, usage, err = attemptStream(ctx, client, req, emitter, assistant)
			}
		}
	}
	if assistant && emitter != nil {
		emitter.AssistantStreamEnd(text)
	}
	if err != nil {
		return text, nil, provider.Usage{}, err
	}
	return text, calls, usage, nil
}

func attemptStream(ctx context.Context, client provider.Client, req provider.Request, emitter turn.Emitter, assistant bool) (string, []provider.ToolCall, provider.Usage, error) {
	var text string
	var calls []provider.ToolCall
	var usage provider.Usage

	ch, err := client.Complete(ctx, req)
	if err != nil {
		return "", nil, provider.Usage{}, err
	}
	for chunk := range ch {
		if chunk.Err != nil {
			return text, nil, provider.Usage{}, chunk.Err
		}
		if chunk.TextDelta != "" {
			text += chunk.TextDelta
			if emitter != nil {
				if assistant {
					emitter.AssistantDelta(chunk.TextDelta)
				} else {
					emitter.DeltaThinking(chunk.TextDelta)
				}
			}
		}
		if chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
		if chunk.Usage.Reported {
			usage = chunk.Usage
		}
	}
	return text, calls, usage, nil
}

// retryPolicy caps the single permitted provider retry's backoff at
// provider.MaxRetryBudget total (spec.md §4.5).
func retryPolicy() backoff.BackoffPolicy {
	ms := float64(provider.MaxRetryBudget.Milliseconds())
	return backoff.BackoffPolicy{InitialMs: ms, MaxMs: ms, Factor: 1, Jitter: 0}
}

// dispatchOne executes one tool call and returns the tool-role message
// to append to the conversation. It never returns an error: every
// failure mode collapses into a ToolResult per spec.md §4.3/§7.
func dispatchOne(ctx context.Context, registry *toolregistry.Registry, allowed map[string]bool, res *toolregistry.Resources, cfg Config, stageID string, emitter turn.Emitter, call provider.ToolCall) provider.Message {
	start := time.Now()
	digest := argsDigest(call.ArgsJSON)
	if emitter != nil {
		emitter.ToolCall(stageID, call.Name, call.ID, digest)
	}

	result := runTool(ctx, registry, allowed, res, cfg, call)

	durationMS := time.Since(start).Milliseconds()
	if emitter != nil {
		errKind, errMsg := "", ""
		if result.Error != nil {
			errKind, errMsg = result.Error.Kind, result.Error.Message
		}
		bytes := 0
		if body, err := json.Marshal(result); err == nil {
			bytes = len(body)
		}
		emitter.ToolResult(stageID, call.Name, call.ID, result.OK, durationMS, bytes, errKind, errMsg)
	}

	return provider.Message{
		Role:       "tool",
		Content:    normalizeResult(result),
		ToolCallID: call.ID,
	}
}

func runTool(ctx context.Context, registry *toolregistry.Registry, allowed map[string]bool, res *toolregistry.Resources, cfg Config, call provider.ToolCall) turn.ToolResult {
	if !allowed[call.Name] {
		return turn.ToolResult{OK: false, Error: &turn.ToolResultErr{
			Kind:    string(turn.KindToolForbidden),
			Message: fmt.Sprintf("tool %q is not in the current toolset", call.Name),
		}}
	}
	def, ok := registry.Get(call.Name)
	if !ok {
		return turn.ToolResult{OK: false, Error: &turn.ToolResultErr{
			Kind:    string(turn.KindToolBadArgs),
			Message: turn.ErrToolNotFound.Error(),
		}}
	}

	args, err := unwrapArgs(call.ArgsJSON)
	if err != nil {
		return turn.ToolResult{OK: false, Error: &turn.ToolResultErr{
			Kind:    string(turn.KindToolBadArgs),
			Message: err.Error(),
		}}
	}
	if err := def.ValidateArgs(args); err != nil {
		return turn.ToolResult{OK: false, Error: &turn.ToolResultErr{
			Kind:    string(turn.KindToolBadArgs),
			Message: err.Error(),
		}}
	}

	value, err := callWithDeadline(ctx, def, args, res, cfg.toolDeadline())
	if err != nil {
		te := turn.NewToolError(call.Name, err)
		return te.ToResult()
	}
	if def.Validator != nil {
		if err := def.Validator(value); err != nil {
			return turn.ToolResult{OK: false, Error: &turn.ToolResultErr{
				Kind:    string(turn.KindToolInvalidResult),
				Message: err.Error(),
			}}
		}
	}
	return turn.ToolResult{OK: true, Value: value}
}

// callWithDeadline runs a handler under a bounded context, recovering
// panics into errors the way internal/agent/executor.go's worker loop
// does.
func callWithDeadline(ctx context.Context, def *toolregistry.Definition, args json.RawMessage, res *toolregistry.Resources, deadline time.Duration) (value any, err error) {
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{nil, fmt.Errorf("%w: %v", turn.ErrToolPanic, r)}
			}
		}()
		v, herr := def.Handler(callCtx, args, res)
		done <- outcome{v, herr}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-callCtx.Done():
		return nil, turn.ErrToolTimeout
	}
}

// unwrapArgs guards against a model double-encoding its arguments as a
// JSON string (spec.md §4.3): if the raw payload parses to a JSON
// string, that string is parsed once more as the real argument object.
func unwrapArgs(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := raw
	var asString string
	if json.Unmarshal(trimmed, &asString) == nil {
		return json.RawMessage(asString), nil
	}
	var probe any
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, fmt.Errorf("args not valid json: %w", err)
	}
	return trimmed, nil
}

// normalizeResult renders a ToolResult as the string injected into the
// tool-role message: a successful string value passes through
// unchanged, anything else is canonically JSON-marshalled.
func normalizeResult(result turn.ToolResult) string {
	if result.OK {
		if s, ok := result.Value.(string); ok {
			return s
		}
	}
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf(`{"ok":false,"error":{"kind":"internal","message":%q}}`, err.Error())
	}
	return string(body)
}

// argsDigest is a short, stable fingerprint of a tool call's arguments
// for the tool_call event's args_digest field (spec.md §6.2); it never
// echoes argument content itself.
func argsDigest(args json.RawMessage) string {
	sum := sha256.Sum256(args)
	return hex.EncodeToString(sum[:])[:16]
}
