// Package graph implements the Graph Executor of spec.md §4.1: a
// fixed, conditional topology of named stages, driven by run_turn,
// streaming typed events and committing the world exactly once.
//
// Grounded on internal/agent/loop.go's AgenticLoop (config-sanitizing
// constructor, per-iteration state machine, node/trace accounting) and
// internal/agent/runtime.go's stage-span bookkeeping, remapped from the
// teacher's open-ended tool-iteration loop to the spec's fixed
// seven-stage topology with named routing edges instead of a single
// repeating loop body.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/thalamus/internal/provider"
	"github.com/haasonsaas/thalamus/internal/turn"
)

// ContextLoopBound is the maximum number of context_builder↔
// memory_retriever round-trips per turn (spec.md §4.1).
const ContextLoopBound = 3

// StageFunc is one stage's implementation: given the turn-so-far and
// its firewalled toolset, it returns the subset of state fields it is
// permitted to have changed.
type StageFunc func(ctx context.Context, deps StageDeps, state *turn.State) (*turn.StageOutputs, error)

// StageDeps bundles the host capabilities a stage implementation may
// use; it is the same bundle for every stage, but each stage's
// registered ToolsPolicy and AllowedSkills determine what it may
// actually reach for.
type StageDeps struct {
	Toolset []string // this stage's firewalled tool names, pre-resolved by the executor
}

// Registration pairs a StageSpec with its implementation.
type Registration struct {
	Spec turn.StageSpec
	Fn   StageFunc
}

// ToolsetResolver resolves the firewalled toolset for a stage id given
// its allowed skills (internal/toolregistry.Firewall satisfies this).
type ToolsetResolver interface {
	Toolset(stageID string, allowedSkills []string) []string
}

// Executor drives the fixed topology of spec.md §4.1 over a registered
// set of stages.
type Executor struct {
	stages   map[string]Registration
	firewall ToolsetResolver
}

// New builds an Executor from the seven stage registrations. It
// panics on a missing stage id referenced by the fixed topology,
// the way a wiring bug here is a startup defect, not a runtime one.
func New(firewall ToolsetResolver, registrations ...Registration) *Executor {
	stages := make(map[string]Registration, len(registrations))
	for _, r := range registrations {
		stages[r.Spec.ID] = r
	}
	for _, id := range requiredStageIDs {
		if _, ok := stages[id]; !ok {
			panic(fmt.Sprintf("graph: missing required stage %q", id))
		}
	}
	return &Executor{stages: stages, firewall: firewall}
}

var requiredStageIDs = []string{
	"router", "context_builder", "memory_retriever", "world_modifier",
	"answer", "reflect_topics", "memory_writer",
}

// RunTurn drives the fixed topology end to end (spec.md §4.1
// Operations). The caller is responsible for installing state.Runtime.Emitter
// before calling and for the durable world/chat-log commit after it
// returns (spec.md §3.4: the controller is the single writer).
func (ex *Executor) RunTurn(ctx context.Context, state *turn.State) (*turn.State, error) {
	emitter := state.Runtime.Emitter
	started := time.Now()
	worldBefore := state.World.Clone()

	emitter.TurnStart(state.Task.UserText, state.Runtime.Timezone)
	var nodesVisited []string

	end := func(reason, message string) (*turn.State, error) {
		emitter.TurnEndError(reason, message)
		state.Runtime.Status = "ended_error"
		return state, &turn.StageError{StageID: "graph", Kind: turn.ErrorKind(reason), Message: message, Fatal: true}
	}

	if err := ctx.Err(); err != nil {
		return end("cancelled", turn.ErrTurnCancelled.Error())
	}

	// Pre-answer stage errors are non-fatal: append an issue and fall
	// through to answer with whatever context exists (spec.md §4.1
	// failure semantics). Only cancellation and the deadline cut a
	// turn short before the answer stage.
	nodesVisited = append(nodesVisited, "router")
	if err := ex.runStage(ctx, state, "router"); err != nil {
		if ctx.Err() != nil {
			return end(reasonFor(ctx, err), err.Error())
		}
		state.Runtime.Issues = append(state.Runtime.Issues, "router_failed")
		state.Task.Route = turn.RouteDefault
	}

	switch state.Task.Route {
	case turn.RouteContext:
		if err := ex.runContextLoop(ctx, state, &nodesVisited); err != nil {
			if ctx.Err() != nil {
				return end(reasonFor(ctx, err), err.Error())
			}
			state.Runtime.Issues = append(state.Runtime.Issues, "context_phase_failed")
		}
	case turn.RouteWorld:
		nodesVisited = append(nodesVisited, "world_modifier")
		if err := ex.runStageTolerant(ctx, state, "world_modifier"); err != nil {
			state.Runtime.Issues = append(state.Runtime.Issues, "world_modifier_failed")
		}
	default:
		// no context/world phase; straight to answer
	}

	nodesVisited = append(nodesVisited, "answer")
	if err := ex.runStage(ctx, state, "answer"); err != nil {
		return end(reasonFor(ctx, err), err.Error())
	}

	nodesVisited = append(nodesVisited, "reflect_topics")
	if err := ex.runStageTolerant(ctx, state, "reflect_topics"); err != nil {
		state.Runtime.Issues = append(state.Runtime.Issues, "reflect_topics_failed")
	}

	nodesVisited = append(nodesVisited, "memory_writer")
	if err := ex.runStageTolerant(ctx, state, "memory_writer"); err != nil {
		state.Runtime.Issues = append(state.Runtime.Issues, "memory_writer_failed")
	}

	if delta := diffWorld(worldBefore, state.World); delta != nil {
		emitter.WorldCommit(delta.Added, delta.Removed, delta.Changed)
	}

	state.Runtime.Status = "ended_ok"
	emitter.TurnEndOK(nodesVisited, time.Since(started))
	return state, nil
}

// reasonFor maps a failed stage's error onto turn_end_error's
// enumerated reasons (spec.md §6.2).
func reasonFor(ctx context.Context, err error) string {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return "cancelled"
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return "deadline"
	}
	var te *provider.TransportError
	if errors.As(err, &te) {
		return "transport"
	}
	return "internal"
}

// runContextLoop drives the context_builder↔memory_retriever
// round-trip, bounded at ContextLoopBound (spec.md §4.1).
func (ex *Executor) runContextLoop(ctx context.Context, state *turn.State, nodesVisited *[]string) error {
	for round := 0; ; round++ {
		*nodesVisited = append(*nodesVisited, "context_builder")
		if err := ex.runStage(ctx, state, "context_builder"); err != nil {
			return err
		}
		if state.Context.Next != "memory_retriever" {
			return nil
		}
		if round >= ContextLoopBound {
			state.Runtime.Issues = append(state.Runtime.Issues, "context_loop_bounded")
			state.Context.Next = "answer"
			return nil
		}
		*nodesVisited = append(*nodesVisited, "memory_retriever")
		if err := ex.runStage(ctx, state, "memory_retriever"); err != nil {
			return err
		}
	}
}

// runStage wraps one stage invocation in a node span and applies its
// declared outputs; a stage error here propagates (used for stages
// whose failure is turn-fatal: router, answer, and inside the context
// loop before an answer exists).
func (ex *Executor) runStage(ctx context.Context, state *turn.State, stageID string) error {
	return ex.invoke(ctx, state, stageID, true)
}

// runStageTolerant wraps one stage invocation but swallows its error
// into an issue rather than propagating, per spec.md §4.1 failure
// semantics for post-answer and best-effort stages.
func (ex *Executor) runStageTolerant(ctx context.Context, state *turn.State, stageID string) error {
	return ex.invoke(ctx, state, stageID, false)
}

func (ex *Executor) invoke(ctx context.Context, state *turn.State, stageID string, fatalOnError bool) error {
	reg, ok := ex.stages[stageID]
	if !ok {
		return fmt.Errorf("graph: unregistered stage %q", stageID)
	}
	emitter := state.Runtime.Emitter
	state.Runtime.AppendTrace(stageID, turn.TraceEntered)
	emitter.NodeStart(stageID, reg.Spec.RoleKey)

	start := time.Now()
	toolset := ex.firewall.Toolset(stageID, reg.Spec.AllowedSkills)

	outputs, err := ex.invokeSafely(ctx, reg.Fn, StageDeps{Toolset: toolset}, state)
	duration := time.Since(start).Milliseconds()

	var issues []string
	if err != nil {
		issues = []string{err.Error()}
		emitter.NodeEnd(stageID, false, duration, issues)
		if fatalOnError {
			return err
		}
		state.Runtime.Issues = append(state.Runtime.Issues, fmt.Sprintf("%s_error:%s", stageID, err.Error()))
		return nil
	}

	applyOutputs(state, outputs)
	emitter.NodeEnd(stageID, true, duration, nil)
	state.Runtime.AppendTrace(stageID, turn.TraceCommitted)
	return nil
}

// invokeSafely recovers a stage panic into an error, the way
// internal/agent/executor.go's worker goroutines do for tool handlers.
func (ex *Executor) invokeSafely(ctx context.Context, fn StageFunc, deps StageDeps, state *turn.State) (out *turn.StageOutputs, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panicked: %v", r)
		}
	}()
	return fn(ctx, deps, state)
}

// applyOutputs merges a stage's declared outputs into state. Only the
// whitelisted StageOutputs fields are ever touched (spec.md §4.2/§9).
func applyOutputs(state *turn.State, out *turn.StageOutputs) {
	if out == nil {
		return
	}
	if out.TaskRoute != nil {
		state.Task.Route = *out.TaskRoute
	}
	if out.TaskLanguage != nil {
		state.Task.Language = *out.TaskLanguage
	}
	if out.RuntimeStatus != nil {
		state.Runtime.Status = *out.RuntimeStatus
	}
	if len(out.RuntimeIssues) > 0 {
		state.Runtime.Issues = append(state.Runtime.Issues, out.RuntimeIssues...)
	}
	if out.Context != nil {
		state.Context = *out.Context
	}
	if out.World != nil {
		state.World = out.World
	}
	if out.FinalAnswer != nil {
		state.Final.Answer = *out.FinalAnswer
	}
}

// worldDelta is the {added, removed, changed} shape of a WorldCommit
// event payload (spec.md §4.1: "deep-equal on the world key, minus
// updated_at").
type worldDelta struct {
	Added, Removed, Changed map[string]any
}

// diffWorld reports the field-level delta between two world snapshots,
// ignoring UpdatedAt, or nil if nothing else changed. Each changed key
// carries a {from, to} pair so the diff is applicable as a patch:
// applying every "to" to the pre-turn world yields the post-turn
// world, and re-applying it is a no-op (spec.md §8 property 7; the S3
// worked example documents the wire shape as
// changed:{project:{from:"...",to:"aurora"}}).
func diffWorld(before, after *turn.WorldState) *worldDelta {
	if before == nil || after == nil {
		return nil
	}
	changed := map[string]any{}
	change := func(key string, from, to any) {
		changed[key] = map[string]any{"from": from, "to": to}
	}
	if before.Project != after.Project {
		change("project", before.Project, after.Project)
	}
	if !stringSliceEqual(before.Topics, after.Topics) {
		change("topics", before.Topics, after.Topics)
	}
	if !stringSliceEqual(before.Goals, after.Goals) {
		change("goals", before.Goals, after.Goals)
	}
	if !stringSliceEqual(before.Rules, after.Rules) {
		change("rules", before.Rules, after.Rules)
	}
	if before.Identity != after.Identity {
		change("identity", before.Identity, after.Identity)
	}
	if before.TZ != after.TZ {
		change("tz", before.TZ, after.TZ)
	}
	if len(changed) == 0 {
		return nil
	}
	return &worldDelta{Changed: changed, Added: map[string]any{}, Removed: map[string]any{}}
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
