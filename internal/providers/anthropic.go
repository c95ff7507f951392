package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/thalamus/internal/provider"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicProvider drives the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a provider. baseURL may point at a
// compatible proxy; empty targets the official API.
func NewAnthropicProvider(baseURL, apiKey string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

// Name identifies the provider for logging/metrics.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete implements provider.Client.
func (p *AnthropicProvider) Complete(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	messages, system, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	maxTokens := req.Params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if req.Params.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Params.Temperature)
	}
	if len(req.Params.StopSequences) > 0 {
		params.StopSequences = req.Params.StopSequences
	}
	for _, t := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.ArgsSchema, &schema); err != nil {
			return nil, errors.New("anthropic: invalid tool schema for " + t.Name)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool != nil && t.Description != "" {
			toolParam.OfTool.Description = anthropic.String(t.Description)
		}
		params.Tools = append(params.Tools, toolParam)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	chunks := make(chan provider.Chunk)
	go p.processStream(stream, chunks)
	return chunks, nil
}

func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- provider.Chunk) {
	defer close(chunks)

	var currentTool *provider.ToolCall
	var toolInput strings.Builder
	var usage provider.Usage
	sawToolUse := false

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				usage.InputTokens = int(ms.Message.Usage.InputTokens)
				usage.Reported = true
			}
		case "content_block_start":
			cbs := event.AsContentBlockStart()
			if cbs.ContentBlock.Type == "tool_use" {
				tu := cbs.ContentBlock.AsToolUse()
				currentTool = &provider.ToolCall{ID: tu.ID, Name: tu.Name}
				toolInput.Reset()
				sawToolUse = true
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- provider.Chunk{TextDelta: delta.Text}
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}
		case "content_block_stop":
			if currentTool != nil {
				args := toolInput.String()
				if args == "" {
					args = "{}"
				}
				currentTool.ArgsJSON = json.RawMessage(args)
				chunks <- provider.Chunk{ToolCall: currentTool}
				currentTool = nil
			}
		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(md.Usage.OutputTokens)
				usage.Reported = true
			}
		case "message_stop":
			finish := provider.FinishStop
			if sawToolUse {
				finish = provider.FinishToolCalls
			}
			chunks <- provider.Chunk{Finish: finish, Usage: usage}
			return
		}
	}
	if err := stream.Err(); err != nil {
		chunks <- provider.Chunk{Err: wrapTransport("anthropic", err), Finish: provider.FinishError}
		return
	}
	chunks <- provider.Chunk{Finish: provider.FinishStop, Usage: usage}
}

// convertAnthropicMessages folds system-role messages into the
// Messages API's separate system field and maps tool-role messages to
// user-side tool_result blocks.
func convertAnthropicMessages(messages []provider.Message) ([]anthropic.MessageParam, string, error) {
	var result []anthropic.MessageParam
	var system strings.Builder

	for _, m := range messages {
		switch m.Role {
		case "system":
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
		case "tool":
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		case "assistant":
			var content []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				content = append(content, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal(tc.ArgsJSON, &input); err != nil {
					return nil, "", errors.New("anthropic: invalid tool call input for " + tc.Name)
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) > 0 {
				result = append(result, anthropic.NewAssistantMessage(content...))
			}
		default:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return result, system.String(), nil
}
