// Package prompt maps prompt kinds to the system instruction that opens every
// exchange of a session.
package prompt

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type Kind int

const (
	General Kind = iota
	QuizSolving
	AssignmentSolving
	PaperSolving
	QuizCreation
	AssignmentCreation
	PaperCreation
	University
	CheckQuiz
	CheckAssignment
	CheckPaper
)

var names = map[Kind]string{
	General:            "general",
	QuizSolving:        "quiz_solving",
	AssignmentSolving:  "assignment_solving",
	PaperSolving:       "paper_solving",
	QuizCreation:       "quiz_creation",
	AssignmentCreation: "assignment_creation",
	PaperCreation:      "paper_creation",
	University:         "university",
	CheckQuiz:          "check_quiz",
	CheckAssignment:    "check_assignment",
	CheckPaper:         "check_paper",
}

var instructions = map[Kind]string{
	General: "You are a helpful assistant which helps people in their tasks.",
	QuizSolving: "You are EduLearnAI, an AI assistant specialized in solving quizzes with accuracy and structured formatting. " +
		"Provide accurate, concise and contextually relevant answers, numbered to match the questions. " +
		"If the available context lacks sufficient information, respond with \"I don't know.\" Do not make up answers.",
	AssignmentSolving: "You are EduLearnAI, an expert in solving academic assignments with clarity, precision, and structured explanations. " +
		"Provide a step-by-step solution with proper numbering: an introduction, the step-by-step solution, and the final answer.",
	PaperSolving: "You are EduLearnAI, an AI assistant specializing in solving academic papers with precision and structured explanations. " +
		"Provide a detailed, well-structured answer with headings for introduction, main analysis and conclusion.",
	QuizCreation: "You are EduLearnAI, an expert in designing engaging and educational quizzes with a structured format. " +
		"Generate a quiz on the given topic with a title and numbered multiple-choice questions, each with options a) to d).",
	AssignmentCreation: "You are EduLearnAI, an AI assistant specializing in designing structured academic assignments. " +
		"Create an assignment on the given topic with a title, instructions and numbered questions.",
	PaperCreation: "You are EduLearnAI, an AI assistant specializing in creating structured and well-researched academic papers. " +
		"Generate a paper outline or full paper with introduction, literature review, methodology, findings and discussion, and conclusion with references.",
	University: "You are EduLearnAI, a university chatbot designed to assist with admissions, programs, campus life, and academic services. " +
		"Structure each response as relevant information, next steps and additional resources. If you don't know the answer, say so.",
	CheckQuiz: "You are EduLearnAI, an AI evaluator specializing in assessing quiz answers. " +
		"Compare the student's answer with the answer key the user provides and give numbered feedback on accuracy, strengths and areas for improvement.",
	CheckAssignment: "You are EduLearnAI, an AI evaluator specializing in assessing academic assignments. " +
		"Compare the student's answer with the answer key the user provides and give structured feedback on correctness, explanation and clarity, and suggested improvements.",
	CheckPaper: "You are EduLearnAI, an AI evaluator specializing in reviewing academic papers. " +
		"Compare the student's response with the answer key the user provides and give structured feedback on strengths, areas for improvement and a final score where applicable.",
}

func (k Kind) String() string {
	if n, ok := names[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind resolves a kind name. Unknown names return an error.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, n := range names {
		if n == s {
			return k, nil
		}
	}
	return General, fmt.Errorf("unknown prompt kind %q", s)
}

// Names lists every known kind name in sorted order.
func Names() []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Catalog resolves kind names to instructions, with a default kind for
// sessions that carry none.
type Catalog struct {
	fallback  Kind
	overrides map[Kind]string
}

func NewCatalog(fallback Kind) *Catalog {
	return &Catalog{fallback: fallback, overrides: make(map[Kind]string)}
}

// LoadOverrides reads a YAML mapping of kind name to instruction text and
// replaces the built-in instructions for the kinds it names.
func (c *Catalog) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read prompt templates: %w", err)
	}
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse prompt templates: %w", err)
	}
	for name, text := range raw {
		k, err := ParseKind(name)
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("prompt template %q is empty", name)
		}
		c.overrides[k] = text
	}
	return nil
}

func (c *Catalog) Default() Kind { return c.fallback }

// Resolve returns the kind named by s, the default for an empty name.
func (c *Catalog) Resolve(s string) (Kind, error) {
	if strings.TrimSpace(s) == "" {
		return c.fallback, nil
	}
	return ParseKind(s)
}

// Instruction returns the system instruction for the kind named by s. Names
// that no longer resolve fall back to the default kind.
func (c *Catalog) Instruction(s string) string {
	k, err := c.Resolve(s)
	if err != nil {
		k = c.fallback
	}
	if text, ok := c.overrides[k]; ok {
		return text
	}
	return instructions[k]
}
