package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"edulearn/internal/llm"
	"edulearn/internal/session"
)

type fakeLLM struct {
	resp  llm.Response
	err   error
	calls [][]llm.Message
}

func (f *fakeLLM) Generate(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
	f.calls = append(f.calls, msgs)
	return f.resp, f.err
}

type countingObserver struct{ ok, failed int }

func (o *countingObserver) ObserveCompaction(ok bool) {
	if ok {
		o.ok++
	} else {
		o.failed++
	}
}

func sessionWithTurns(n int) session.Session {
	s := session.Session{ID: "s1", History: []session.Turn{}}
	for i := 0; i < n/2; i++ {
		s.Append(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}
	return s
}

func TestNew_RejectsBadConfig(t *testing.T) {
	if _, err := New(Config{Threshold: 0}, &fakeLLM{}, nil, nil); err == nil {
		t.Fatalf("expected error for zero threshold")
	}
	if _, err := New(Config{Threshold: 10}, nil, nil, nil); err == nil {
		t.Fatalf("expected error for missing summarizer")
	}
}

func TestMaybeCompact_BelowThresholdIsNoop(t *testing.T) {
	f := &fakeLLM{resp: llm.Response{Content: "summary"}}
	c, _ := New(Config{Threshold: 10}, f, nil, nil)
	s := sessionWithTurns(8)

	out, compacted := c.MaybeCompact(context.Background(), s)
	if compacted {
		t.Fatalf("compaction triggered below threshold")
	}
	if len(out.History) != 8 || len(f.calls) != 0 {
		t.Fatalf("history changed or summarizer called: %d turns, %d calls", len(out.History), len(f.calls))
	}
}

func TestMaybeCompact_AtThreshold(t *testing.T) {
	f := &fakeLLM{resp: llm.Response{Content: "  user asked ten things  "}}
	obs := &countingObserver{}
	c, _ := New(Config{Threshold: 10}, f, obs, nil)
	s := sessionWithTurns(10)

	out, compacted := c.MaybeCompact(context.Background(), s)
	if !compacted {
		t.Fatalf("expected compaction at threshold")
	}
	if out.Summary != "user asked ten things" {
		t.Fatalf("unexpected summary %q", out.Summary)
	}
	if len(out.History) != 0 {
		t.Fatalf("history not cleared: %d", len(out.History))
	}
	if len(out.History) >= c.Threshold() {
		t.Fatalf("history still at or above threshold")
	}
	if len(s.History) != 10 {
		t.Fatalf("input session modified")
	}
	if obs.ok != 1 || obs.failed != 0 {
		t.Fatalf("observer: %+v", obs)
	}

	if len(f.calls) != 1 {
		t.Fatalf("want 1 summarizer call, got %d", len(f.calls))
	}
	msgs := f.calls[0]
	if msgs[0].Role != llm.RoleSystem || msgs[0].Content != systemInstruction {
		t.Fatalf("unexpected system message: %+v", msgs[0])
	}
	if !strings.Contains(msgs[1].Content, "User: q0\nAssistant: a0") {
		t.Fatalf("transcript missing from prompt: %q", msgs[1].Content)
	}
}

func TestMaybeCompact_FailureKeepsHistory(t *testing.T) {
	f := &fakeLLM{err: llm.ErrServiceUnavailable}
	obs := &countingObserver{}
	c, _ := New(Config{Threshold: 4}, f, obs, nil)
	s := sessionWithTurns(6)
	s.Summary = "older"

	out, compacted := c.MaybeCompact(context.Background(), s)
	if compacted {
		t.Fatalf("failed compaction reported as done")
	}
	if len(out.History) != 6 || out.Summary != "older" {
		t.Fatalf("failed compaction discarded state: %+v", out)
	}
	if obs.failed != 1 {
		t.Fatalf("failure not observed: %+v", obs)
	}
}

func TestCompact_EmptySummaryIsFailure(t *testing.T) {
	f := &fakeLLM{resp: llm.Response{Content: "   "}}
	c, _ := New(Config{Threshold: 2}, f, nil, nil)
	_, err := c.Compact(context.Background(), sessionWithTurns(2))
	if !errors.Is(err, llm.ErrServiceUnavailable) {
		t.Fatalf("want ErrServiceUnavailable, got %v", err)
	}
}

func TestTranscript(t *testing.T) {
	s := session.Session{Summary: "earlier: greetings"}
	s.Append("What is 2+2?", "4")
	want := "earlier: greetings\nUser: What is 2+2?\nAssistant: 4"
	if got := Transcript(s); got != want {
		t.Fatalf("transcript mismatch:\n got %q\nwant %q", got, want)
	}

	noSummary := session.Session{}
	noSummary.Append("hi", "hello")
	if got := Transcript(noSummary); got != "User: hi\nAssistant: hello" {
		t.Fatalf("unexpected transcript %q", got)
	}
}
