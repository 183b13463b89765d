package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"golang.org/x/time/rate"
)

// Limited spaces out upstream calls so a burst of exchanges does not trip the
// provider's rate limit.
type Limited struct {
	next    StreamingClient
	limiter *rate.Limiter
}

func NewLimited(next StreamingClient, perSecond float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limited) wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return fmt.Errorf("%w: rate limiter: %v", ErrTimeout, err)
	}
	return nil
}

func (l *Limited) Generate(ctx context.Context, messages []Message) (Response, error) {
	if err := l.wait(ctx); err != nil {
		return Response{}, err
	}
	return l.next.Generate(ctx, messages)
}

func (l *Limited) Stream(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := l.wait(ctx); err != nil {
			yield("", err)
			return
		}
		for chunk, err := range l.next.Stream(ctx, messages) {
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}
