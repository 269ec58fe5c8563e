package llm

import (
	"context"
	"errors"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider is the minimal surface of a hosted chat-completion backend.
type Provider interface {
	Generate(ctx context.Context, messages []llms.MessageContent) (string, error)
}

type openAIProvider struct {
	llm *openai.LLM
}

// NewOpenAIProvider builds a Provider against any OpenAI-compatible
// endpoint, such as the DeepSeek API.
func NewOpenAIProvider(baseURL, apiKey, model string) (Provider, error) {
	client, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, err
	}
	return &openAIProvider{llm: client}, nil
}

func (p *openAIProvider) Generate(ctx context.Context, messages []llms.MessageContent) (string, error) {
	resp, err := p.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(0.7),
		llms.WithMaxTokens(2000),
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion response contained no choices")
	}
	return resp.Choices[0].Content, nil
}

type callSiteKey struct{}

// WithCallSite tags ctx so the tracing decorator can attribute a
// completion call to the operation that issued it.
func WithCallSite(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, callSiteKey{}, name)
}

func callSiteFrom(ctx context.Context) string {
	if name, ok := ctx.Value(callSiteKey{}).(string); ok {
		return name
	}
	return "unknown"
}
