package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/haasonsaas/thalamus/internal/provider"
)

// BedrockProvider drives foundation models on AWS Bedrock via the
// ConverseStream API.
type BedrockProvider struct {
	client *bedrockruntime.Client
}

// BedrockConfig holds AWS settings for the Bedrock provider.
// Credentials fall back to the default AWS chain when unset.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// NewBedrockProvider creates a Bedrock provider.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return &BedrockProvider{client: bedrockruntime.NewFromConfig(awsCfg)}, nil
}

// Name identifies the provider for logging/metrics.
func (p *BedrockProvider) Name() string { return "bedrock" }

// Complete implements provider.Client.
func (p *BedrockProvider) Complete(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	messages, system, err := convertBedrockMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(req.Model),
		Messages: messages,
	}
	if system != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: system},
		}
	}
	inference := &types.InferenceConfiguration{}
	configured := false
	if req.Params.MaxTokens > 0 {
		inference.MaxTokens = aws.Int32(int32(req.Params.MaxTokens))
		configured = true
	}
	if req.Params.Temperature > 0 {
		inference.Temperature = aws.Float32(float32(req.Params.Temperature))
		configured = true
	}
	if len(req.Params.StopSequences) > 0 {
		inference.StopSequences = req.Params.StopSequences
		configured = true
	}
	if configured {
		input.InferenceConfig = inference
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = convertBedrockTools(req.Tools)
	}

	stream, err := p.client.ConverseStream(ctx, input)
	if err != nil {
		return nil, wrapTransport("bedrock", err)
	}

	chunks := make(chan provider.Chunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *BedrockProvider) processStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, chunks chan<- provider.Chunk) {
	defer close(chunks)

	eventStream := stream.GetStream()
	defer eventStream.Close()

	var currentTool *provider.ToolCall
	var toolInput strings.Builder
	var usage provider.Usage
	sawToolUse := false

	for {
		select {
		case <-ctx.Done():
			chunks <- provider.Chunk{Err: ctx.Err(), Finish: provider.FinishError}
			return
		case event, ok := <-eventStream.Events():
			if !ok {
				if err := eventStream.Err(); err != nil {
					chunks <- provider.Chunk{Err: wrapTransport("bedrock", err), Finish: provider.FinishError}
					return
				}
				finish := provider.FinishStop
				if sawToolUse {
					finish = provider.FinishToolCalls
				}
				chunks <- provider.Chunk{Finish: finish, Usage: usage}
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentTool = &provider.ToolCall{
						ID:   aws.ToString(toolUse.Value.ToolUseId),
						Name: aws.ToString(toolUse.Value.Name),
					}
					toolInput.Reset()
					sawToolUse = true
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						chunks <- provider.Chunk{TextDelta: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				if currentTool != nil {
					args := toolInput.String()
					if args == "" {
						args = "{}"
					}
					currentTool.ArgsJSON = json.RawMessage(args)
					chunks <- provider.Chunk{ToolCall: currentTool}
					currentTool = nil
					toolInput.Reset()
				}

			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					usage = provider.Usage{
						InputTokens:  int(aws.ToInt32(ev.Value.Usage.InputTokens)),
						OutputTokens: int(aws.ToInt32(ev.Value.Usage.OutputTokens)),
						Reported:     true,
					}
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				finish := provider.FinishStop
				if sawToolUse {
					finish = provider.FinishToolCalls
				}
				chunks <- provider.Chunk{Finish: finish, Usage: usage}
				return
			}
		}
	}
}

func convertBedrockMessages(messages []provider.Message) ([]types.Message, string, error) {
	var result []types.Message
	var system strings.Builder

	for _, m := range messages {
		switch m.Role {
		case "system":
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
		case "tool":
			result = append(result, types.Message{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberToolResult{
						Value: types.ToolResultBlock{
							ToolUseId: aws.String(m.ToolCallID),
							Content: []types.ToolResultContentBlock{
								&types.ToolResultContentBlockMemberText{Value: m.Content},
							},
						},
					},
				},
			})
		case "assistant":
			var content []types.ContentBlock
			if m.Content != "" {
				content = append(content, &types.ContentBlockMemberText{Value: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var parsed any
				if err := json.Unmarshal(tc.ArgsJSON, &parsed); err != nil {
					return nil, "", fmt.Errorf("bedrock: invalid tool call input for %s: %w", tc.Name, err)
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.Name),
						Input:     document.NewLazyDocument(parsed),
					},
				})
			}
			if len(content) > 0 {
				result = append(result, types.Message{Role: types.ConversationRoleAssistant, Content: content})
			}
		default:
			result = append(result, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		}
	}
	return result, system.String(), nil
}

func convertBedrockTools(tools []provider.ToolSchema) *types.ToolConfiguration {
	bedrockTools := make([]types.Tool, len(tools))
	for i, t := range tools {
		var schema any
		if err := json.Unmarshal(t.ArgsSchema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		bedrockTools[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		}
	}
	return &types.ToolConfiguration{Tools: bedrockTools}
}
