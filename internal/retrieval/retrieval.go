// Package retrieval supplies reference passages that are added to the prompt
// of an exchange.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// ErrEmptyDocument rejects an uploaded document without any text.
var ErrEmptyDocument = errors.New("document has no text")

type Passage struct {
	Text  string
	Score float64
}

type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Passage, error)
}

// FileRetriever ranks the paragraphs of a context document by how many
// distinct query terms they contain. Documents added at runtime are appended
// to the backing file.
type FileRetriever struct {
	mu         sync.RWMutex
	path       string
	paragraphs []string
	terms      []map[string]struct{}
	limit      int
}

// NewFileRetriever loads path. A missing file yields an empty retriever; the
// file is created by the first AddDocument.
func NewFileRetriever(path string, limit int) (*FileRetriever, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read context file: %w", err)
	}
	r := NewTextRetriever(string(data), limit)
	r.path = path
	return r, nil
}

func NewTextRetriever(text string, limit int) *FileRetriever {
	if limit < 1 {
		limit = 3
	}
	r := &FileRetriever{limit: limit}
	r.index(splitParagraphs(text))
	return r
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r *FileRetriever) index(paragraphs []string) {
	for _, p := range paragraphs {
		r.paragraphs = append(r.paragraphs, p)
		r.terms = append(r.terms, termSet(p))
	}
}

func termSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) > 2 {
			set[w] = struct{}{}
		}
	}
	return set
}

// Len reports how many paragraphs are indexed.
func (r *FileRetriever) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.paragraphs)
}

// AddDocument indexes the paragraphs of text and returns how many were added.
func (r *FileRetriever) AddDocument(ctx context.Context, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return 0, ErrEmptyDocument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.path != "" {
		if err := appendParagraphs(r.path, paragraphs); err != nil {
			return 0, err
		}
	}
	r.index(paragraphs)
	return len(paragraphs), nil
}

func appendParagraphs(path string, paragraphs []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure context dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open context file: %w", err)
	}
	// leading blank line keeps the document apart from the previous one
	if _, err := f.WriteString("\n\n" + strings.Join(paragraphs, "\n\n") + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("append context document: %w", err)
	}
	return f.Close()
}

func (r *FileRetriever) Retrieve(ctx context.Context, query string) ([]Passage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := termSet(query)
	if len(q) == 0 {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Passage
	for i, terms := range r.terms {
		hits := 0
		for w := range q {
			if _, ok := terms[w]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		out = append(out, Passage{Text: r.paragraphs[i], Score: float64(hits) / float64(len(q))})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > r.limit {
		out = out[:r.limit]
	}
	return out, nil
}
