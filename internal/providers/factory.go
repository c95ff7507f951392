package providers

import (
	"context"
	"fmt"

	"github.com/haasonsaas/thalamus/internal/provider"
)

// Kind names a concrete transport.
const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
	KindGoogle    = "google"
	KindBedrock   = "bedrock"
)

// New selects and constructs a transport. endpoint is the configured
// provider_endpoint (used by the OpenAI-compatible and Anthropic
// transports as base URL; ignored by Google and Bedrock, whose SDKs
// carry their own endpoints).
func New(ctx context.Context, kind, endpoint, apiKey string) (provider.Client, error) {
	switch kind {
	case KindOpenAI, "":
		return NewOpenAIProvider(endpoint, apiKey), nil
	case KindAnthropic:
		return NewAnthropicProvider(endpoint, apiKey), nil
	case KindGoogle:
		return NewGoogleProvider(ctx, apiKey)
	case KindBedrock:
		return NewBedrockProvider(ctx, BedrockConfig{})
	default:
		return nil, fmt.Errorf("providers: unknown provider kind %q", kind)
	}
}
