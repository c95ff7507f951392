// Package providers holds the concrete transports behind the
// internal/provider.Client contract: an OpenAI-compatible HTTP client
// (which also serves local model servers via a custom base URL),
// Anthropic, Google Gemini, and AWS Bedrock. The core never imports
// this package; cmd wiring picks a transport from configuration.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/thalamus/internal/provider"
)

// OpenAIProvider speaks the OpenAI chat-completions protocol, either
// against api.openai.com or any compatible local server (the usual
// provider_endpoint deployment).
type OpenAIProvider struct {
	client *openai.Client
	name   string
}

// NewOpenAIProvider creates a provider for the given endpoint. An
// empty baseURL targets the official API; apiKey may be empty for
// unauthenticated local servers.
func NewOpenAIProvider(baseURL, apiKey string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	name := "openai"
	if baseURL != "" {
		cfg.BaseURL = baseURL
		name = "openai-compat"
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), name: name}
}

// Name identifies the provider for logging/metrics.
func (p *OpenAIProvider) Name() string { return p.name }

// Complete implements provider.Client.
func (p *OpenAIProvider) Complete(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertOpenAIMessages(req.Messages),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.Params.MaxTokens > 0 {
		chatReq.MaxTokens = req.Params.MaxTokens
	}
	if req.Params.Temperature > 0 {
		chatReq.Temperature = float32(req.Params.Temperature)
	}
	if len(req.Params.StopSequences) > 0 {
		chatReq.Stop = req.Params.StopSequences
	}
	for _, t := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.ArgsSchema,
			},
		})
	}
	switch req.ResponseFormat.Kind {
	case provider.FormatJSONObject:
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	case provider.FormatJSONSchema:
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.ResponseFormat.Name,
				Schema: rawSchema(req.ResponseFormat.Schema),
			},
		}
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, wrapTransport(p.name, err)
	}

	chunks := make(chan provider.Chunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- provider.Chunk) {
	defer close(chunks)
	defer stream.Close()

	// Tool-call fragments arrive indexed and must be reassembled
	// before emission.
	calls := make(map[int]*provider.ToolCall)
	var order []int
	var usage provider.Usage

	flushCalls := func() {
		for _, i := range order {
			tc := calls[i]
			if tc != nil && tc.ID != "" && tc.Name != "" {
				chunks <- provider.Chunk{ToolCall: tc}
			}
		}
		calls = make(map[int]*provider.ToolCall)
		order = nil
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- provider.Chunk{Err: ctx.Err(), Finish: provider.FinishError}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flushCalls()
				chunks <- provider.Chunk{Finish: provider.FinishStop, Usage: usage}
				return
			}
			chunks <- provider.Chunk{Err: wrapTransport(p.name, err), Finish: provider.FinishError}
			return
		}

		if resp.Usage != nil {
			usage = provider.Usage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
				Reported:     true,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			chunks <- provider.Chunk{TextDelta: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if calls[index] == nil {
				calls[index] = &provider.ToolCall{}
				order = append(order, index)
			}
			if tc.ID != "" {
				calls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				calls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				calls[index].ArgsJSON = append(calls[index].ArgsJSON, tc.Function.Arguments...)
			}
		}

		switch choice.FinishReason {
		case openai.FinishReasonToolCalls:
			flushCalls()
			chunks <- provider.Chunk{Finish: provider.FinishToolCalls, Usage: usage}
			return
		case openai.FinishReasonLength:
			chunks <- provider.Chunk{Finish: provider.FinishLength, Usage: usage}
			return
		case openai.FinishReasonStop:
			flushCalls()
			chunks <- provider.Chunk{Finish: provider.FinishStop, Usage: usage}
			return
		}
	}
}

func convertOpenAIMessages(messages []provider.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.ArgsJSON),
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

// rawSchema adapts a raw JSON schema to go-openai's marshaler-based
// schema field.
type rawSchemaMarshaler json.RawMessage

func (r rawSchemaMarshaler) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("{}"), nil
	}
	return json.RawMessage(r), nil
}

func rawSchema(schema json.RawMessage) json.Marshaler {
	return rawSchemaMarshaler(schema)
}
