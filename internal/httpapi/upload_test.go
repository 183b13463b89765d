package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"edulearn/internal/chat"
	"edulearn/internal/compaction"
	"edulearn/internal/llm"
	"edulearn/internal/retrieval"
	"edulearn/internal/session"
)

func newUploadServer(t *testing.T) (*httptest.Server, *retrieval.FileRetriever) {
	t.Helper()
	docs, err := retrieval.NewFileRetriever(filepath.Join(t.TempDir(), "context.txt"), 3)
	if err != nil {
		t.Fatalf("retriever: %v", err)
	}
	gen := &fakeGen{chunks: []string{"ok"}}
	comp, err := compaction.New(compaction.Config{Threshold: 10}, summarizer{}, nil, nil)
	if err != nil {
		t.Fatalf("compactor: %v", err)
	}
	svc, err := chat.New(chat.Options{
		Sessions:  session.NewManager(session.NewMemoryRepository(), session.PolicyStrict, nil),
		Compactor: comp,
		Generator: gen,
		Retriever: docs,
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	srv := httptest.NewServer(New(svc, nil, nil).WithDocuments(docs).Handler())
	t.Cleanup(srv.Close)
	return srv, docs
}

func upload(t *testing.T, url, field, name string, content []byte) (int, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(content)
	_ = mw.Close()
	resp, err := http.Post(url+"/upload_document", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestUploadDocument(t *testing.T) {
	srv, docs := newUploadServer(t)

	code, body := upload(t, srv.URL, "file", "syllabus.txt",
		[]byte("Week one covers limits.\n\nWeek two covers derivatives."))
	if code != http.StatusOK || decode[uploadResponse](t, body).Paragraphs != 2 {
		t.Fatalf("upload: %d %s", code, body)
	}
	got, _ := docs.Retrieve(context.Background(), "when are derivatives covered?")
	if len(got) == 0 || !strings.Contains(got[0].Text, "derivatives") {
		t.Fatalf("uploaded document not retrievable: %+v", got)
	}

	cases := []struct {
		name, field, file string
		content           []byte
	}{
		{"binary", "file", "scan.pdf", []byte("%PDF-1.7\x00\x01\x02")},
		{"empty", "file", "empty.txt", []byte("   \n\n  ")},
		{"wrong field", "document", "notes.txt", []byte("text")},
	}
	for _, tc := range cases {
		code, body := upload(t, srv.URL, tc.field, tc.file, tc.content)
		if code != http.StatusBadRequest {
			t.Fatalf("%s: want 400, got %d %s", tc.name, code, body)
		}
	}
	if docs.Len() != 2 {
		t.Fatalf("rejected uploads were indexed: %d paragraphs", docs.Len())
	}
}

func TestUploadDocument_DisabledWithoutIndex(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPost, "/upload_document", "")
	if resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("upload route must not exist, got %d", resp.StatusCode)
	}
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: blank", chat.ErrBadInput), http.StatusBadRequest},
		{session.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("save session x: %w", session.ErrConflict), http.StatusConflict},
		{llm.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{llm.ErrTimeout, http.StatusGatewayTimeout},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusOf(tc.err); got != tc.want {
			t.Fatalf("statusOf(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
