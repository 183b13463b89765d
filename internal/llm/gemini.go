package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
)

// errConsumerStopped aborts a langchaingo stream when the consumer breaks out
// of the fragment sequence.
var errConsumerStopped = errors.New("stream consumer stopped")

type GeminiClient struct {
	model       llms.Model
	name        string
	maxTokens   int
	temperature float64
}

func NewGemini(ctx context.Context, apiKey, model string, maxTokens int, temperature float64) (*GeminiClient, error) {
	m, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini provider: %w", err)
	}
	return &GeminiClient{model: m, name: model, maxTokens: maxTokens, temperature: temperature}, nil
}

func toMessageContent(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}

func (c *GeminiClient) options(extra ...llms.CallOption) []llms.CallOption {
	opts := []llms.CallOption{llms.WithTemperature(c.temperature)}
	if c.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.maxTokens))
	}
	return append(opts, extra...)
}

func (c *GeminiClient) Generate(ctx context.Context, messages []Message) (Response, error) {
	resp, err := c.model.GenerateContent(ctx, toMessageContent(messages), c.options()...)
	if err != nil {
		return Response{}, Classify(fmt.Errorf("gemini generate: %w", err))
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("%w: empty response from gemini", ErrServiceUnavailable)
	}
	return Response{Content: resp.Choices[0].Content, Model: c.name}, nil
}

func (c *GeminiClient) Stream(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stopped := false
		_, err := c.model.GenerateContent(ctx, toMessageContent(messages), c.options(
			llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				if !yield(string(chunk), nil) {
					stopped = true
					return errConsumerStopped
				}
				return nil
			}),
		)...)
		if stopped {
			return
		}
		if err != nil {
			yield("", Classify(fmt.Errorf("gemini stream: %w", err)))
		}
	}
}
