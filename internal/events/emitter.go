package events

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Emitter generates sequenced turn.v1 events and dispatches them to a
// Sink. One instance per turn; thread-safe (stages and tools may emit
// from concurrent goroutines).
//
// Grounded on internal/agent/event_emitter.go's EventEmitter (atomic
// sequence counter + one emit method per event type), remapped to the
// turn.v1 taxonomy and implementing turn.Emitter.
type Emitter struct {
	turnID   string
	sequence uint64
	sink     Sink
}

// NewEmitter creates an emitter for one turn. If sink is nil, events
// are discarded via NopSink. A sink that emits synthetic events of its
// own (BackpressureSink's overflow) is handed this emitter's sequence
// counter so every event in the turn — synthetic or not — draws from
// the one source.
func NewEmitter(turnID string, sink Sink) *Emitter {
	if sink == nil {
		sink = NopSink{}
	}
	e := &Emitter{turnID: turnID, sink: sink}
	if src, ok := sink.(interface{ SetSeqSource(func() uint64) }); ok {
		src.SetSeqSource(e.nextSeq)
	}
	return e
}

// NewTurnID generates a fresh turn identifier.
func NewTurnID() string { return uuid.NewString() }

func (e *Emitter) nextSeq() uint64 { return atomic.AddUint64(&e.sequence, 1) }

func (e *Emitter) base(eventType string) TurnEvent {
	return TurnEvent{
		Protocol: "turn.v1",
		Seq:      e.nextSeq(),
		TurnID:   e.turnID,
		Type:     eventType,
		TS:       nowISO(),
	}
}

func (e *Emitter) emit(ev TurnEvent) { e.sink.Emit(ev) }

// TurnStart emits the first event of the turn (seq=1 by construction
// since nothing else may emit on this Emitter before it).
func (e *Emitter) TurnStart(userText, timezone string) {
	ev := e.base(TypeTurnStart)
	ev.Payload = TurnStartPayload{UserText: userText, NowISO: ev.TS, Timezone: timezone}
	e.emit(ev)
}

// TurnEndOK emits the terminal success event.
func (e *Emitter) TurnEndOK(nodesVisited []string, duration time.Duration) {
	ev := e.base(TypeTurnEndOK)
	ev.Payload = TurnEndOKPayload{Summary: TurnSummary{NodesVisited: nodesVisited, DurationMS: duration.Milliseconds()}}
	e.emit(ev)
}

// TurnEndError emits the terminal failure event.
func (e *Emitter) TurnEndError(reason, message string) {
	ev := e.base(TypeTurnEndError)
	ev.Payload = TurnEndErrorPayload{Reason: reason, Message: message}
	e.emit(ev)
}

// NodeStart implements turn.Emitter.
func (e *Emitter) NodeStart(stageID, roleKey string) {
	ev := e.base(TypeNodeStart)
	ev.Payload = NodeStartPayload{StageID: stageID, RoleKey: roleKey}
	e.emit(ev)
}

// NodeEnd implements turn.Emitter.
func (e *Emitter) NodeEnd(stageID string, ok bool, durationMS int64, issues []string) {
	ev := e.base(TypeNodeEnd)
	ev.Payload = NodeEndPayload{StageID: stageID, OK: ok, DurationMS: durationMS, Issues: issues}
	e.emit(ev)
}

// Log implements turn.Emitter. Non-essential; droppable under backpressure.
func (e *Emitter) Log(level, source, message string) {
	ev := e.base(TypeLog)
	ev.Payload = LogPayload{Level: level, Source: source, Message: message}
	e.emit(ev)
}

// DeltaThinking implements turn.Emitter. Non-essential.
func (e *Emitter) DeltaThinking(text string) {
	ev := e.base(TypeDeltaThinking)
	ev.Payload = DeltaThinkingPayload{Text: text}
	e.emit(ev)
}

// AssistantStreamStart implements turn.Emitter.
func (e *Emitter) AssistantStreamStart() {
	ev := e.base(TypeAssistantStreamStart)
	ev.Payload = struct{}{}
	e.emit(ev)
}

// AssistantDelta implements turn.Emitter. Non-essential.
func (e *Emitter) AssistantDelta(text string) {
	ev := e.base(TypeAssistantDelta)
	ev.Payload = AssistantDeltaPayload{Text: text}
	e.emit(ev)
}

// AssistantStreamEnd implements turn.Emitter.
func (e *Emitter) AssistantStreamEnd(textTotal string) {
	ev := e.base(TypeAssistantStreamEnd)
	ev.Payload = AssistantStreamEndPayload{TextTotal: textTotal}
	e.emit(ev)
}

// ToolCall implements turn.Emitter; emitted before execution.
func (e *Emitter) ToolCall(stageID, name, id, argsDigest string) {
	ev := e.base(TypeToolCall)
	ev.Payload = ToolCallPayload{StageID: stageID, Name: name, ID: id, ArgsDigest: argsDigest}
	e.emit(ev)
}

// ToolResult implements turn.Emitter; emitted after execution.
func (e *Emitter) ToolResult(stageID, name, id string, ok bool, durationMS int64, bytes int, errKind, errMessage string) {
	ev := e.base(TypeToolResult)
	payload := ToolResultPayload{StageID: stageID, Name: name, ID: id, OK: ok, DurationMS: durationMS, Bytes: bytes}
	if errKind != "" {
		payload.Error = &ToolResultError{Kind: errKind, Message: errMessage}
	}
	ev.Payload = payload
	e.emit(ev)
}

// WorldCommit implements turn.Emitter; emitted at most once per turn,
// immediately before turn_end_*.
func (e *Emitter) WorldCommit(added, removed, changed map[string]any) {
	ev := e.base(TypeWorldCommit)
	ev.Payload = WorldCommitPayload{Diff: WorldDiff{Added: added, Removed: removed, Changed: changed}}
	e.emit(ev)
}
