// Package compaction bounds the conversational context sent to the model by
// folding a session's accumulated turns into its rolling summary.
package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"edulearn/internal/llm"
	"edulearn/internal/session"
)

const DefaultThreshold = 10

const (
	systemInstruction = "You are a summarization assistant."
	userInstruction   = "Here is the chat history:\n\n%s\n\n" +
		"Summarize the above chat messages into a single concise message with key details."
)

type Config struct {
	// Threshold is the history length at which compaction triggers.
	Threshold int
}

func (c Config) Validate() error {
	if c.Threshold < 1 {
		return fmt.Errorf("compaction threshold must be at least 1, got %d", c.Threshold)
	}
	return nil
}

// Observer is notified of every compaction attempt.
type Observer interface {
	ObserveCompaction(ok bool)
}

type Compactor struct {
	threshold  int
	summarizer llm.Client
	observer   Observer
	logger     *slog.Logger
}

func New(cfg Config, summarizer llm.Client, observer Observer, logger *slog.Logger) (*Compactor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if summarizer == nil {
		return nil, fmt.Errorf("summarizer is required for compaction")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{threshold: cfg.Threshold, summarizer: summarizer, observer: observer, logger: logger}, nil
}

func (c *Compactor) Threshold() int { return c.threshold }

// Needed reports whether the history has reached the threshold.
func (c *Compactor) Needed(s session.Session) bool {
	return len(s.History) >= c.threshold
}

// Transcript flattens the summary and history into "Label: content" lines.
func Transcript(s session.Session) string {
	var b strings.Builder
	if s.Summary != "" {
		b.WriteString(s.Summary)
	}
	for _, t := range s.History {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(t.Role.Label())
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	return b.String()
}

// Compact summarizes s and returns a copy whose summary replaces every turn.
// s itself is never modified.
func (c *Compactor) Compact(ctx context.Context, s session.Session) (session.Session, error) {
	resp, err := c.summarizer.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemInstruction},
		{Role: llm.RoleUser, Content: fmt.Sprintf(userInstruction, Transcript(s))},
	})
	if err != nil {
		return s, fmt.Errorf("summarize session %s: %w", s.ID, err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return s, fmt.Errorf("summarize session %s: %w: empty summary", s.ID, llm.ErrServiceUnavailable)
	}
	out := s.Clone()
	out.Summary = summary
	out.History = []session.Turn{}
	return out, nil
}

// MaybeCompact compacts s when it has reached the threshold. A failed
// compaction is logged and s is returned unchanged, so the next exchange
// tries again.
func (c *Compactor) MaybeCompact(ctx context.Context, s session.Session) (session.Session, bool) {
	if !c.Needed(s) {
		return s, false
	}
	out, err := c.Compact(ctx, s)
	if c.observer != nil {
		c.observer.ObserveCompaction(err == nil)
	}
	if err != nil {
		c.logger.Warn("compaction failed, keeping full history",
			"session_id", s.ID, "turns", len(s.History), "error", err)
		return s, false
	}
	c.logger.Info("session compacted",
		"session_id", s.ID, "turns", len(s.History), "summary_len", len(out.Summary))
	return out, true
}
