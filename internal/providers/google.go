package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/haasonsaas/thalamus/internal/provider"
)

// GoogleProvider drives the Gemini API via the official genai SDK.
type GoogleProvider struct {
	client *genai.Client
}

// NewGoogleProvider creates a provider for the Gemini API.
func NewGoogleProvider(ctx context.Context, apiKey string) (*GoogleProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &GoogleProvider{client: client}, nil
}

// Name identifies the provider for logging/metrics.
func (p *GoogleProvider) Name() string { return "google" }

// Complete implements provider.Client.
func (p *GoogleProvider) Complete(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	contents, system := convertGeminiMessages(req.Messages)

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.Params.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Params.MaxTokens)
	}
	if req.Params.Temperature > 0 {
		t := float32(req.Params.Temperature)
		cfg.Temperature = &t
	}
	if len(req.Params.StopSequences) > 0 {
		cfg.StopSequences = req.Params.StopSequences
	}
	if tools := convertGeminiTools(req.Tools); tools != nil {
		cfg.Tools = tools
	}
	if req.ResponseFormat.Kind != "" && req.ResponseFormat.Kind != provider.FormatNull && len(req.Tools) == 0 {
		cfg.ResponseMIMEType = "application/json"
	}

	chunks := make(chan provider.Chunk)
	go func() {
		defer close(chunks)

		sawToolCall := false
		var callSeq int
		for resp, err := range p.client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
			if err != nil {
				chunks <- provider.Chunk{Err: wrapTransport("google", err), Finish: provider.FinishError}
				return
			}
			if resp == nil {
				continue
			}
			for _, candidate := range resp.Candidates {
				if candidate == nil || candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part == nil {
						continue
					}
					if part.Text != "" {
						chunks <- provider.Chunk{TextDelta: part.Text}
					}
					if part.FunctionCall != nil {
						args, jerr := json.Marshal(part.FunctionCall.Args)
						if jerr != nil {
							args = []byte("{}")
						}
						callSeq++
						sawToolCall = true
						chunks <- provider.Chunk{ToolCall: &provider.ToolCall{
							ID:       fmt.Sprintf("%s_%d", part.FunctionCall.Name, callSeq),
							Name:     part.FunctionCall.Name,
							ArgsJSON: args,
						}}
					}
				}
			}
		}
		finish := provider.FinishStop
		if sawToolCall {
			finish = provider.FinishToolCalls
		}
		chunks <- provider.Chunk{Finish: finish}
	}()
	return chunks, nil
}

// convertGeminiMessages maps the neutral message list onto Gemini
// contents, folding system messages into the system instruction and
// tool messages into function responses.
func convertGeminiMessages(messages []provider.Message) ([]*genai.Content, string) {
	var result []*genai.Content
	var system strings.Builder

	for _, m := range messages {
		switch m.Role {
		case "system":
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
		case "assistant":
			content := &genai.Content{Role: genai.RoleModel}
			if m.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(tc.ArgsJSON, &args)
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
				})
			}
			result = append(result, content)
		case "tool":
			var response map[string]any
			if err := json.Unmarshal([]byte(m.Content), &response); err != nil {
				response = map[string]any{"result": m.Content}
			}
			result = append(result, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     functionNameFromCallID(m.ToolCallID),
						Response: response,
					},
				}},
			})
		default:
			result = append(result, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}
	return result, system.String()
}

// functionNameFromCallID recovers the function name from the synthetic
// "<name>_<n>" ids this adapter mints (Gemini has no call ids of its
// own; responses are matched by function name).
func functionNameFromCallID(id string) string {
	if i := strings.LastIndex(id, "_"); i > 0 {
		return id[:i]
	}
	return id
}

func convertGeminiTools(tools []provider.ToolSchema) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(t.ArgsSchema, &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  geminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// geminiSchema converts a JSON-schema map to Gemini's Schema type,
// covering the subset the core's tool schemas use.
func geminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = geminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = geminiSchema(items)
	}
	return schema
}
