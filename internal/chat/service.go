// Package chat drives question/answer exchanges against persisted sessions:
// it loads the session, compacts its context when needed, asks the model and
// records the new turns.
package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"edulearn/internal/compaction"
	"edulearn/internal/llm"
	"edulearn/internal/metrics"
	"edulearn/internal/prompt"
	"edulearn/internal/retrieval"
	"edulearn/internal/session"
	"edulearn/internal/storage"
)

var (
	// ErrBadInput rejects a request before any session or upstream work.
	ErrBadInput = errors.New("bad input")
	// ErrStreamConsumed is yielded when an answer stream is iterated twice.
	ErrStreamConsumed = errors.New("answer stream already consumed")
)

const (
	ModeBlocking = "blocking"
	ModeStream   = "stream"

	defaultTimeout = 60 * time.Second
	commitTimeout  = 10 * time.Second
	commitAttempts = 3
)

type Answer struct {
	SessionID string `json:"session_id"`
	Text      string `json:"answer"`
	Summary   string `json:"summary"`
	Compacted bool   `json:"compacted"`
}

type Options struct {
	Sessions  *session.Manager
	Compactor *compaction.Compactor
	Generator llm.StreamingClient
	Prompts   *prompt.Catalog
	// Optional collaborators.
	Retriever retrieval.Retriever
	Recorder  storage.Recorder
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	// Timeout bounds the upstream work of one exchange.
	Timeout time.Duration
}

type Service struct {
	sessions  *session.Manager
	compactor *compaction.Compactor
	gen       llm.StreamingClient
	prompts   *prompt.Catalog
	retriever retrieval.Retriever
	recorder  storage.Recorder
	metrics   *metrics.Metrics
	logger    *slog.Logger
	timeout   time.Duration
	now       func() time.Time
}

func New(opts Options) (*Service, error) {
	switch {
	case opts.Sessions == nil:
		return nil, fmt.Errorf("chat: session manager is required")
	case opts.Compactor == nil:
		return nil, fmt.Errorf("chat: compactor is required")
	case opts.Generator == nil:
		return nil, fmt.Errorf("chat: generator is required")
	}
	if opts.Prompts == nil {
		opts.Prompts = prompt.NewCatalog(prompt.General)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Service{
		sessions:  opts.Sessions,
		compactor: opts.Compactor,
		gen:       opts.Generator,
		prompts:   opts.Prompts,
		retriever: opts.Retriever,
		recorder:  opts.Recorder,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		timeout:   opts.Timeout,
		now:       time.Now,
	}, nil
}

// CreateSession opens an empty session for the named prompt kind; an empty
// name selects the configured default.
func (s *Service) CreateSession(ctx context.Context, kind string) (string, error) {
	k, err := s.prompts.Resolve(kind)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadInput, err)
	}
	return s.sessions.Create(ctx, k.String())
}

func (s *Service) History(ctx context.Context, id string) (session.Session, error) {
	if id == "" {
		return session.Session{}, session.ErrNotFound
	}
	return s.sessions.Get(ctx, id)
}

func (s *Service) Sessions(ctx context.Context) ([]string, error) {
	return s.sessions.IDs(ctx)
}

// Ask runs one blocking exchange and returns the full answer.
func (s *Service) Ask(ctx context.Context, id, question string) (Answer, error) {
	q := strings.TrimSpace(question)
	if id == "" {
		s.metrics.ObserveExchange(ModeBlocking, outcome(session.ErrNotFound))
		return Answer{}, session.ErrNotFound
	}

	unlock, err := s.sessions.Lock(ctx, id)
	if err != nil {
		return Answer{}, s.fail(ModeBlocking, id, err)
	}
	defer unlock()

	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return Answer{}, s.fail(ModeBlocking, id, err)
	}
	if q == "" {
		return Answer{}, s.fail(ModeBlocking, id, fmt.Errorf("%w: question cannot be empty", ErrBadInput))
	}

	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sess, msgs, compacted := s.prepare(gctx, sess, q)
	start := time.Now()
	resp, err := s.gen.Generate(gctx, msgs)
	s.metrics.ObserveGeneration(ModeBlocking, time.Since(start))
	if err != nil {
		return Answer{}, s.fail(ModeBlocking, id, llm.Classify(err))
	}

	answer := strings.TrimSpace(resp.Content)
	sess, compacted, err = s.commit(ctx, sess, q, answer, ModeBlocking, compacted)
	if err != nil {
		return Answer{}, s.fail(ModeBlocking, id, err)
	}
	s.logger.Info("exchange completed",
		"session_id", id, "mode", ModeBlocking, "model", resp.Model,
		"prompt_tokens", resp.PromptTokens, "completion_tokens", resp.CompletionTokens)
	return Answer{SessionID: id, Text: answer, Summary: sess.Summary, Compacted: compacted}, nil
}

// Stream validates the request and returns a lazy, single-pass sequence of
// answer fragments. The exchange runs while the sequence is consumed and is
// recorded only if the upstream stream completes and every fragment was
// taken; a failure, cancellation or early break leaves the session as it was.
func (s *Service) Stream(ctx context.Context, id, question string) (iter.Seq2[string, error], error) {
	q := strings.TrimSpace(question)
	if id == "" {
		s.metrics.ObserveExchange(ModeStream, outcome(session.ErrNotFound))
		return nil, session.ErrNotFound
	}
	if _, err := s.sessions.Get(ctx, id); err != nil {
		return nil, s.fail(ModeStream, id, err)
	}
	if q == "" {
		return nil, s.fail(ModeStream, id, fmt.Errorf("%w: question cannot be empty", ErrBadInput))
	}

	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield("", ErrStreamConsumed)
			return
		}

		unlock, err := s.sessions.Lock(ctx, id)
		if err != nil {
			yield("", s.fail(ModeStream, id, err))
			return
		}
		defer unlock()

		sess, err := s.sessions.Get(ctx, id)
		if err != nil {
			yield("", s.fail(ModeStream, id, err))
			return
		}

		gctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		sess, msgs, compacted := s.prepare(gctx, sess, q)
		start := time.Now()
		var full strings.Builder
		for chunk, err := range s.gen.Stream(gctx, msgs) {
			if err != nil {
				s.metrics.ObserveGeneration(ModeStream, time.Since(start))
				yield("", s.fail(ModeStream, id, llm.Classify(err)))
				return
			}
			full.WriteString(chunk)
			if !yield(chunk, nil) {
				s.metrics.ObserveExchange(ModeStream, "abandoned")
				s.logger.Info("answer stream abandoned by consumer, exchange discarded",
					"session_id", id, "received", full.Len())
				return
			}
		}
		s.metrics.ObserveGeneration(ModeStream, time.Since(start))
		if err := gctx.Err(); err != nil {
			yield("", s.fail(ModeStream, id, llm.Classify(err)))
			return
		}

		if _, _, err := s.commit(ctx, sess, q, full.String(), ModeStream, compacted); err != nil {
			yield("", s.fail(ModeStream, id, err))
			return
		}
		s.logger.Info("exchange completed", "session_id", id, "mode", ModeStream, "answer_len", full.Len())
	}, nil
}

// prepare compacts the session if needed and builds the prompt for q. The
// returned session is what commit will persist.
func (s *Service) prepare(ctx context.Context, sess session.Session, q string) (session.Session, []llm.Message, bool) {
	sess, compacted := s.compactor.MaybeCompact(ctx, sess)
	return sess, s.buildPrompt(ctx, sess, q), compacted
}

func (s *Service) buildPrompt(ctx context.Context, sess session.Session, q string) []llm.Message {
	msgs := make([]llm.Message, 0, len(sess.History)+4)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: s.prompts.Instruction(sess.Kind)})
	if sess.Summary != "" {
		msgs = append(msgs, llm.Message{
			Role:    llm.RoleSystem,
			Content: "Summary of the earlier conversation: " + sess.Summary,
		})
	}
	if s.retriever != nil {
		passages, err := s.retriever.Retrieve(ctx, q)
		if err != nil {
			s.logger.Warn("retrieval failed, answering without context", "session_id", sess.ID, "error", err)
		} else if len(passages) > 0 {
			texts := make([]string, 0, len(passages))
			for _, p := range passages {
				texts = append(texts, p.Text)
			}
			msgs = append(msgs, llm.Message{
				Role:    llm.RoleSystem,
				Content: "Retrieved context:\n" + strings.Join(texts, "\n\n"),
			})
		}
	}
	for _, t := range sess.History {
		role := llm.RoleUser
		if t.Role == session.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: q})
}

// commit appends the exchange and persists the session. The answer has been
// fully produced at this point, so the write is detached from the caller's
// cancellation. When another writer saved the session first, the exchange is
// replayed on top of the stored revision; its compaction is dropped then and
// left to the next exchange. The saved session is returned.
func (s *Service) commit(ctx context.Context, sess session.Session, q, answer, mode string, compacted bool) (session.Session, bool, error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	for attempt := 1; ; attempt++ {
		next := sess.Clone()
		next.Append(q, answer)
		next.UpdatedAt = s.now().UTC()
		err := s.sessions.Save(cctx, next)
		if err == nil {
			sess = next
			break
		}
		if !errors.Is(err, session.ErrConflict) || attempt == commitAttempts {
			return session.Session{}, false, err
		}
		s.logger.Warn("session saved by another writer, replaying exchange on the stored revision",
			"session_id", sess.ID, "attempt", attempt)
		if sess, err = s.sessions.Get(cctx, sess.ID); err != nil {
			return session.Session{}, false, err
		}
		compacted = false
	}

	s.metrics.ObserveExchange(mode, "ok")
	if s.recorder != nil {
		ev := storage.Event{
			Timestamp: s.now().UTC(),
			SessionID: sess.ID,
			Mode:      mode,
			Question:  q,
			Answer:    answer,
			Compacted: compacted,
		}
		if err := s.recorder.Record(ev); err != nil {
			s.logger.Warn("failed to record interaction", "session_id", sess.ID, "error", err)
		}
	}
	return sess, compacted, nil
}

func (s *Service) fail(mode, id string, err error) error {
	o := outcome(err)
	s.metrics.ObserveExchange(mode, o)
	switch o {
	case "bad_input", "not_found", "canceled":
		s.logger.Debug("exchange rejected", "session_id", id, "mode", mode, "error", err)
	default:
		s.logger.Error("exchange failed", "session_id", id, "mode", mode, "error", err)
	}
	return err
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrBadInput):
		return "bad_input"
	case errors.Is(err, session.ErrNotFound):
		return "not_found"
	case errors.Is(err, session.ErrConflict):
		return "conflict"
	case errors.Is(err, llm.ErrTimeout):
		return "timeout"
	case errors.Is(err, llm.ErrServiceUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
