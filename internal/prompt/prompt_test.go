package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEveryKindHasNameAndInstruction(t *testing.T) {
	for k := General; k <= CheckPaper; k++ {
		if _, ok := names[k]; !ok {
			t.Fatalf("kind %d has no name", k)
		}
		if instructions[k] == "" {
			t.Fatalf("kind %s has no instruction", k)
		}
		back, err := ParseKind(k.String())
		if err != nil || back != k {
			t.Fatalf("round trip of %s failed: %v %v", k, back, err)
		}
	}
	if len(Names()) != len(names) {
		t.Fatalf("Names() incomplete")
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("  Quiz_Creation ")
	if err != nil || k != QuizCreation {
		t.Fatalf("got %v %v", k, err)
	}
	if _, err := ParseKind("essay_grading"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestCatalog_ResolveAndFallback(t *testing.T) {
	c := NewCatalog(QuizSolving)
	if k, err := c.Resolve(""); err != nil || k != QuizSolving {
		t.Fatalf("empty name should resolve to default: %v %v", k, err)
	}
	if got := c.Instruction("no_such_kind"); got != instructions[QuizSolving] {
		t.Fatalf("unknown kind should use default instruction, got %q", got)
	}
	if got := c.Instruction("university"); !strings.Contains(got, "university chatbot") {
		t.Fatalf("unexpected university instruction %q", got)
	}
}

func TestCatalog_LoadOverrides(t *testing.T) {
	p := filepath.Join(t.TempDir(), "prompts.yaml")
	data := "general: |\n  You are a patient tutor.\nquiz_solving: Answer every quiz question briefly.\n"
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := NewCatalog(General)
	if err := c.LoadOverrides(p); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := c.Instruction("general"); strings.TrimSpace(got) != "You are a patient tutor." {
		t.Fatalf("override not applied: %q", got)
	}
	if got := c.Instruction("quiz_solving"); got != "Answer every quiz question briefly." {
		t.Fatalf("override not applied: %q", got)
	}
	if got := c.Instruction("paper_solving"); got != instructions[PaperSolving] {
		t.Fatalf("kinds without override must keep built-in text")
	}
}

func TestCatalog_LoadOverridesRejectsUnknownKind(t *testing.T) {
	p := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(p, []byte("homework: do it\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := NewCatalog(General).LoadOverrides(p); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
