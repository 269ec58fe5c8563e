package llm

import (
	"context"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tmc/langchaingo/llms"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TracingProvider decorates a Provider with an OpenTelemetry span per
// completion call. It never alters the wrapped provider's result, and
// without an installed tracer provider the spans are no-ops.
type TracingProvider struct {
	provider  Provider
	project   string
	workspace string
	encoder   *tiktoken.Tiktoken
}

func NewTracingProvider(provider Provider, project, workspace string) *TracingProvider {
	// Token accounting is best effort; a missing encoding just leaves
	// the attribute at zero.
	encoder, _ := tiktoken.GetEncoding("cl100k_base")

	return &TracingProvider{
		provider:  provider,
		project:   project,
		workspace: workspace,
		encoder:   encoder,
	}
}

func (t *TracingProvider) Generate(ctx context.Context, messages []llms.MessageContent) (string, error) {
	ctx, span := startSpan(ctx, "llm.generate")
	defer span.End()

	span.SetAttributes(
		attribute.String("call_site", callSiteFrom(ctx)),
		attribute.String("project", t.project),
		attribute.String("workspace", t.workspace),
		attribute.Int("message_count", len(messages)),
		attribute.Int("prompt_tokens", t.promptTokens(messages)),
	)

	start := time.Now()
	reply, err := t.provider.Generate(ctx, messages)
	if err != nil {
		span.RecordError(err)
		return reply, err
	}

	span.SetAttributes(
		attribute.Float64("completion_time", time.Since(start).Seconds()),
		attribute.Int("reply_chars", len([]rune(reply))),
	)
	return reply, nil
}

func (t *TracingProvider) promptTokens(messages []llms.MessageContent) int {
	if t.encoder == nil {
		return 0
	}
	total := 0
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				total += len(t.encoder.Encode(text.Text, nil, nil))
			}
		}
	}
	return total
}

// startSpan resolves the globally installed tracer provider, so spans
// record whenever cmd/server has initialized tracing and stay no-ops
// otherwise.
func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer("github.com/deepchat-dev/deepchat").Start(ctx, name)
}
