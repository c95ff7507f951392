// Package stages implements the seven stage contracts of spec.md §4.2:
// router, context_builder, memory_retriever, world_modifier, answer,
// reflect_topics, memory_writer. Each wraps one LLM call (plus an
// optional mechanical prefill) and mutates only its declared
// turn.StageOutputs fields.
package stages

import (
	"context"

	"github.com/haasonsaas/thalamus/internal/graph"
	"github.com/haasonsaas/thalamus/internal/prompt"
	"github.com/haasonsaas/thalamus/internal/provider"
	"github.com/haasonsaas/thalamus/internal/toolloop"
	"github.com/haasonsaas/thalamus/internal/toolregistry"
	"github.com/haasonsaas/thalamus/internal/turn"
)

// Deps bundles everything a stage implementation needs. One instance
// is shared across stages; each stage is still bounded to its own
// firewalled toolset by the graph executor (graph.StageDeps.Toolset).
type Deps struct {
	Client     provider.Client
	Registry   *toolregistry.Registry
	Firewall   *toolregistry.Firewall
	Resources  *toolregistry.Resources
	Renderer   *prompt.Renderer
	Model      string
	Params     provider.Params
	RoleModels map[string]RoleModel
	LoopConfig toolloop.Config
}

// RoleModel pairs a model name with its call parameters for one role
// key (router, planner, reflect, answer). When a stage's role has no
// entry, Deps.Model/Deps.Params serve as the fallback.
type RoleModel struct {
	Model  string
	Params provider.Params
}

// stageRoleKeys maps each stage id to the role key its model is
// resolved under (spec.md §6.1 role_models).
var stageRoleKeys = map[string]string{}

func init() {
	for _, spec := range []turn.StageSpec{
		routerSpec, contextBuilderSpec, memoryRetrieverSpec,
		worldModifierSpec, answerSpec, reflectTopicsSpec, memoryWriterSpec,
	} {
		stageRoleKeys[spec.ID] = spec.RoleKey
	}
}

// modelFor resolves the model and params serving a stage.
func (d Deps) modelFor(stageID string) (string, provider.Params) {
	if rm, ok := d.RoleModels[stageRoleKeys[stageID]]; ok && rm.Model != "" {
		return rm.Model, rm.Params
	}
	return d.Model, d.Params
}

// tokens builds the per-call token dictionary a stage's template is
// rendered against. Every stage supplies at least these common
// entries; stage-specific ones are merged in by the caller.
func (d Deps) tokens(state *turn.State, extra map[string]string) map[string]string {
	base := map[string]string{
		"USER_TEXT": state.Task.UserText,
		"LANGUAGE":  state.Task.Language,
		"TURN_ID":   state.Runtime.TurnID,
		"NOW_ISO":   state.Runtime.NowISO,
		"TIMEZONE":  state.Runtime.Timezone,
		"PROJECT":   state.World.Project,
	}
	for k, v := range extra {
		base[k] = v
	}
	return base
}

// runLoop renders a stage's prompt and drives the tool loop with the
// stage's firewalled toolset, appending the rendered prompt as the
// sole user-role seed message. Stages needing a richer message history
// (e.g. answer, which also includes context sources) build their own
// messages and call toolloop.Run directly instead.
func (d Deps) runLoop(ctx context.Context, stageID, promptName string, tokens map[string]string, toolNames []string, format provider.ResponseFormat, emitter turn.Emitter) (*toolloop.Result, error) {
	rendered, err := d.Renderer.Render(promptName, tokens)
	if err != nil {
		return nil, err
	}
	messages := []provider.Message{{Role: "user", Content: rendered}}
	return d.run(ctx, stageID, messages, toolNames, format, emitter)
}

func (d Deps) run(ctx context.Context, stageID string, messages []provider.Message, toolNames []string, format provider.ResponseFormat, emitter turn.Emitter) (*toolloop.Result, error) {
	model, params := d.modelFor(stageID)
	return toolloop.Run(ctx, d.Client, d.Registry, d.Firewall, d.Resources, d.LoopConfig, toolloop.Input{
		Messages:        messages,
		ToolNames:       toolNames,
		ResponseFormat:  format,
		Model:           model,
		Params:          params,
		StageID:         stageID,
		Emitter:         emitter,
		FormatDirective: formatDirectives[stageID],
		// Only the answer stage's deltas are the user-visible reply;
		// every other stage streams as delta_thinking.
		AssistantStream: stageID == answerSpec.ID,
	})
}

// formatDirectives is the single additional system directive each
// stage's formatting pass appends when its tool rounds are exhausted
// (spec.md §4.3). Only stages that combine a toolset with a structured
// response format need one.
var formatDirectives = map[string]string{
	"context_builder": `Emit only a JSON object of the shape {"next":"memory_retriever"|"answer","complete":bool,"issues":[string],"memory_request":object} describing the gathered context. No prose.`,
}

// Specs returns the static stage catalogue, for startup checks that
// need the specs without building implementations.
func Specs() []turn.StageSpec {
	return []turn.StageSpec{
		routerSpec, contextBuilderSpec, memoryRetrieverSpec,
		worldModifierSpec, answerSpec, reflectTopicsSpec, memoryWriterSpec,
	}
}

// BuildRegistrations wires every stage's StageSpec (spec.md §4.2
// catalogue) to its implementation for graph.New.
func BuildRegistrations(d Deps) []graph.Registration {
	return []graph.Registration{
		{Spec: routerSpec, Fn: d.Router},
		{Spec: contextBuilderSpec, Fn: d.ContextBuilder},
		{Spec: memoryRetrieverSpec, Fn: d.MemoryRetriever},
		{Spec: worldModifierSpec, Fn: d.WorldModifier},
		{Spec: answerSpec, Fn: d.Answer},
		{Spec: reflectTopicsSpec, Fn: d.ReflectTopics},
		{Spec: memoryWriterSpec, Fn: d.MemoryWriter},
	}
}
