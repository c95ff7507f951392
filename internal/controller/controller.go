// Package controller owns the durable halves of a turn: it appends
// chat turns, loads the world snapshot, drives the graph executor, and
// performs the single durable world write after a successful turn. It
// exposes the core's two operations, SubmitTurn and ReadChatTail.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/haasonsaas/thalamus/internal/backoff"
	"github.com/haasonsaas/thalamus/internal/config"
	"github.com/haasonsaas/thalamus/internal/events"
	"github.com/haasonsaas/thalamus/internal/graph"
	"github.com/haasonsaas/thalamus/internal/memory"
	"github.com/haasonsaas/thalamus/internal/observability"
	"github.com/haasonsaas/thalamus/internal/prompt"
	"github.com/haasonsaas/thalamus/internal/provider"
	"github.com/haasonsaas/thalamus/internal/stages"
	"github.com/haasonsaas/thalamus/internal/toolloop"
	"github.com/haasonsaas/thalamus/internal/toolregistry"
	"github.com/haasonsaas/thalamus/internal/turn"
	"github.com/haasonsaas/thalamus/internal/world"
)

// Controller glues configuration, persistence, and the executor into
// the submit_turn surface. At most one turn per user namespace runs at
// a time; SubmitTurn serialises callers on an internal lock.
type Controller struct {
	cfg      *config.Config
	client   provider.Client
	store    *world.Store
	history  *world.ChatHistory
	registry *toolregistry.Registry
	firewall *toolregistry.Firewall
	renderer *prompt.Renderer
	memory   toolregistry.MemoryClient
	logger   *slog.Logger
	metrics  *observability.Metrics

	turnMu sync.Mutex
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithMetrics attaches a metrics collector; without one, turn and
// event metrics are simply not recorded.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithMemoryClient overrides the memory client derived from
// cfg.MemoryEndpoint; used by tests and embedders with their own
// store transport.
func WithMemoryClient(mc toolregistry.MemoryClient) Option {
	return func(c *Controller) { c.memory = mc }
}

// New wires a Controller from validated configuration and a provider
// transport. The startup skill-coverage check runs here: a skill
// naming an unregistered tool fails construction rather than a turn.
func New(cfg *config.Config, client provider.Client, opts ...Option) (*Controller, error) {
	if cfg == nil {
		return nil, fmt.Errorf("controller: config is required")
	}
	if client == nil {
		return nil, turn.ErrNoProvider
	}

	registry := toolregistry.New()
	if err := toolregistry.RegisterBuiltins(registry); err != nil {
		return nil, fmt.Errorf("controller: register tools: %w", err)
	}
	skills := toolregistry.BuiltinSkills()
	enabled := make(map[string]bool, len(cfg.EnabledSkills))
	for _, s := range cfg.EnabledSkills {
		enabled[s] = true
	}
	if err := toolregistry.VerifySkillCoverage(registry, skills, enabled); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:      cfg,
		client:   client,
		registry: registry,
		firewall: toolregistry.NewFirewall(registry, skills, cfg.EnabledSkills),
		renderer: prompt.NewRenderer(cfg.PromptDir),
		logger:   slog.Default().With("component", "controller"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.store = world.NewStore(cfg.WorldStatePath, c.logger)
	c.history = world.NewChatHistory(cfg.ChatHistoryPath, c.logger)

	// Every loop stage must end up with a non-empty toolset under the
	// enabled skill set; an empty one is a configuration defect caught
	// here, not mid-turn.
	for _, spec := range stages.Specs() {
		if spec.ToolsPolicy != turn.ToolsLoop {
			continue
		}
		if len(c.firewall.Toolset(spec.ID, spec.AllowedSkills)) == 0 {
			return nil, fmt.Errorf("controller: loop stage %q has no tools under enabled skills %v", spec.ID, cfg.EnabledSkills)
		}
	}

	if c.memory == nil {
		if cfg.MemoryEndpoint == "" {
			c.memory = memory.Noop{}
		} else {
			mc, err := memory.NewClient(cfg.MemoryEndpoint, memory.WithLogger(c.logger))
			if err != nil {
				return nil, err
			}
			c.memory = mc
		}
	}
	return c, nil
}

// SubmitTurn starts one turn for userText and returns the event
// stream. The stream is closed after the terminal turn_end_* event.
// Cancellation is cooperative via ctx; a cancelled turn commits
// nothing and appends no assistant chat turn.
func (c *Controller) SubmitTurn(ctx context.Context, userText string) (<-chan events.TurnEvent, error) {
	if userText == "" {
		return nil, fmt.Errorf("controller: user text is required")
	}
	sink, drain := events.NewBackpressureSink(events.ChanConfig{BufferSize: c.cfg.Limits.EmitterBuffer})
	var s events.Sink = sink
	if c.metrics != nil {
		s = &meteredSink{Sink: sink, metrics: c.metrics}
	}
	go c.runTurn(ctx, userText, s)
	return drain, nil
}

// meteredSink counts emitted events by type on the way into the real
// sink.
type meteredSink struct {
	events.Sink
	metrics *observability.Metrics
}

func (m *meteredSink) Emit(e events.TurnEvent) {
	m.metrics.RecordEvent(e.Type)
	m.Sink.Emit(e)
}

// SetSeqSource forwards the emitter's sequence counter to the wrapped
// sink so overflow events stay on the turn's contiguous seq line.
func (m *meteredSink) SetSeqSource(fn func() uint64) {
	if src, ok := m.Sink.(interface{ SetSeqSource(func() uint64) }); ok {
		src.SetSeqSource(fn)
	}
}

// ReadChatTail returns up to n most recent chat turns.
func (c *Controller) ReadChatTail(ctx context.Context, n int) ([]turn.ChatTurn, error) {
	return c.history.Tail(ctx, n, nil)
}

func (c *Controller) runTurn(ctx context.Context, userText string, sink events.Sink) {
	defer sink.Close()

	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	started := time.Now()
	status := "error"
	if c.metrics != nil {
		c.metrics.TurnStarted()
		defer func() {
			c.metrics.TurnEnded(status, time.Since(started).Seconds())
		}()
	}

	deadline := time.Duration(c.cfg.Limits.TurnDeadlineMS) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	turnID := events.NewTurnID()
	emitter := events.NewEmitter(turnID, sink)

	// A turn that fails before the graph starts still honours the
	// stream contract: turn_start first, then the terminal error.
	ws, err := c.store.Load()
	if err != nil {
		emitter.TurnStart(userText, "UTC")
		emitter.TurnEndError("internal", err.Error())
		return
	}
	worldBefore := ws.Clone()

	now := turn.Now().UTC()
	tz := ws.TZ
	if tz == "" {
		tz = "UTC"
	}

	// Human turn is appended before the graph runs so mid-turn
	// chat_history_tail reads observe it (see DESIGN.md).
	human := turn.ChatTurn{
		TS:      now.Format(time.RFC3339),
		Role:    turn.RoleHuman,
		Content: userText,
	}
	if err := c.history.Append(human); err != nil {
		emitter.TurnStart(userText, tz)
		emitter.TurnEndError("internal", err.Error())
		return
	}

	state := &turn.State{
		Task:  turn.Task{UserText: userText},
		World: ws,
		Runtime: turn.Runtime{
			TurnID:   turnID,
			NowISO:   now.Format(time.RFC3339),
			Timezone: tz,
			Status:   "created",
			Emitter:  emitter,
		},
	}

	resources := &toolregistry.Resources{
		ChatHistory:   c.history,
		WorldMutator:  world.Mutator{},
		Memory:        c.memory,
		UserNamespace: c.cfg.UserNamespace,
		World:         ws,
		Logger:        c.logger,
	}

	deps := stages.Deps{
		Client:     c.client,
		Registry:   c.registry,
		Firewall:   c.firewall,
		Resources:  resources,
		Renderer:   c.renderer,
		RoleModels: roleModels(c.cfg),
		LoopConfig: toolloop.Config{
			RoundBound:   c.cfg.Limits.ToolRounds,
			ToolDeadline: time.Duration(c.cfg.Limits.ToolDeadlineMS) * time.Millisecond,
		},
	}

	executor := graph.New(c.firewall, stages.BuildRegistrations(deps)...)
	final, runErr := executor.RunTurn(ctx, state)
	final.Runtime.Emitter = nil // capability detaches with the turn

	if runErr != nil {
		// turn_end_error already emitted by the executor; nothing is
		// committed for a cancelled or failed turn.
		if ctx.Err() != nil {
			status = "cancelled"
		}
		return
	}

	if worldChanged(worldBefore, final.World) {
		if err := c.commitWorld(ctx, final.World); err != nil {
			c.logger.Error("world commit failed after retry", "error", err)
			emitter.TurnEndError("internal", err.Error())
			return
		}
	}

	assistant := turn.ChatTurn{
		TS:      turn.Now().UTC().Format(time.RFC3339),
		Role:    turn.RoleAssistant,
		Content: final.Final.Answer,
		Meta:    map[string]any{"turn_id": turnID},
	}
	if err := c.history.Append(assistant); err != nil {
		c.logger.Error("assistant chat append failed", "error", err)
	}
	status = "ok"
}

// commitWorld performs the single durable write, retrying once on
// failure (spec.md §7 WorldWriteFailed).
func (c *Controller) commitWorld(ctx context.Context, ws *turn.WorldState) error {
	ws.UpdatedAt = turn.Now().UTC().Format(time.RFC3339)

	result, err := backoff.RetryWithBackoff(ctx, backoff.DefaultPolicy(), 2, func(attempt int) (struct{}, error) {
		serr := c.store.Save(ws)
		if serr != nil {
			c.logger.Warn("world write failed", "attempt", attempt, "error", serr)
		}
		return struct{}{}, serr
	})
	if err != nil && result.LastError != nil {
		err = result.LastError
	}
	if c.metrics != nil {
		switch {
		case err != nil:
			c.metrics.RecordWorldCommit("failed")
		case result.Attempts > 1:
			c.metrics.RecordWorldCommit("retried")
		default:
			c.metrics.RecordWorldCommit("ok")
		}
	}
	return err
}

// worldChanged deep-compares two snapshots ignoring updated_at.
func worldChanged(before, after *turn.WorldState) bool {
	if before == nil || after == nil {
		return before != after
	}
	a := before.Clone()
	b := after.Clone()
	a.UpdatedAt = ""
	b.UpdatedAt = ""
	return !reflect.DeepEqual(a, b)
}

func roleModels(cfg *config.Config) map[string]stages.RoleModel {
	out := make(map[string]stages.RoleModel, len(cfg.RoleModels))
	for role, rm := range cfg.RoleModels {
		out[role] = stages.RoleModel{
			Model: rm.ModelName,
			Params: provider.Params{
				Temperature:   rm.Params.Temperature,
				MaxTokens:     rm.Params.MaxTokens,
				StopSequences: rm.Params.StopSequences,
			},
		}
	}
	return out
}
