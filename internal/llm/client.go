package llm

import (
	"context"
	"iter"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Client interface {
	Generate(ctx context.Context, messages []Message) (Response, error)
}

// Streamer delivers an answer as ordered text fragments. The sequence is
// single-pass; a non-nil error ends it and no further fragments follow.
type Streamer interface {
	Stream(ctx context.Context, messages []Message) iter.Seq2[string, error]
}

type StreamingClient interface {
	Client
	Streamer
}

// singleFragment adapts a blocking client to the Streamer contract for
// providers without native streaming.
func singleFragment(ctx context.Context, c Client, messages []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := c.Generate(ctx, messages)
		if err != nil {
			yield("", err)
			return
		}
		yield(resp.Content, nil)
	}
}
