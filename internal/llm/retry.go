package llm

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrying re-issues transient upstream failures with exponential backoff.
type Retrying struct {
	next       StreamingClient
	maxRetries int
	initial    time.Duration
	logger     *slog.Logger
}

type RetryOptions struct {
	MaxRetries      int
	InitialInterval time.Duration
	Logger          *slog.Logger
}

func NewRetrying(next StreamingClient, opts RetryOptions) *Retrying {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Retrying{next: next, maxRetries: opts.MaxRetries, initial: opts.InitialInterval, logger: opts.Logger}
}

func (r *Retrying) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.maxRetries)), ctx)
}

func (r *Retrying) Generate(ctx context.Context, messages []Message) (Response, error) {
	var resp Response
	op := func() error {
		var err error
		resp, err = r.next.Generate(ctx, messages)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("llm call failed, retrying", "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(op, r.policy(ctx), notify); err != nil {
		return Response{}, Classify(err)
	}
	return resp, nil
}

// Stream retries only while no fragment has been delivered; once the consumer
// has seen output, a failure ends the sequence.
func (r *Retrying) Stream(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		b := r.policy(ctx)
		for {
			delivered := false
			var failure error
			for chunk, err := range r.next.Stream(ctx, messages) {
				if err != nil {
					failure = err
					break
				}
				delivered = true
				if !yield(chunk, nil) {
					return
				}
			}
			if failure == nil {
				return
			}
			if delivered || !IsTransient(failure) {
				yield("", Classify(failure))
				return
			}
			wait := b.NextBackOff()
			if wait == backoff.Stop {
				yield("", Classify(failure))
				return
			}
			r.logger.Warn("llm stream failed before first fragment, retrying", "error", failure, "wait", wait)
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				yield("", Classify(ctx.Err()))
				return
			case <-t.C:
			}
		}
	}
}
