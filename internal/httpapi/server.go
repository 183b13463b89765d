// Package httpapi serves the chat service over HTTP.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edulearn/internal/chat"
	"edulearn/internal/llm"
	"edulearn/internal/retrieval"
	"edulearn/internal/session"
)

const (
	maxBodyBytes   = 1 << 20
	maxUploadBytes = 10 << 20
)

// DocumentIndex accepts reference documents that later exchanges retrieve
// from.
type DocumentIndex interface {
	AddDocument(ctx context.Context, text string) (int, error)
}

type Server struct {
	chat      *chat.Service
	docs      DocumentIndex
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	startTime time.Time
}

// New builds the HTTP surface. A nil gatherer leaves /metrics unregistered.
func New(svc *chat.Service, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{chat: svc, gatherer: gatherer, logger: logger, startTime: time.Now()}
}

// WithDocuments enables POST /upload_document.
func (s *Server) WithDocuments(d DocumentIndex) *Server {
	s.docs = d
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /chat", s.handleCreateChat)
	mux.HandleFunc("POST /chat/{chat_id}/message", s.handleMessage)
	mux.HandleFunc("GET /chat/{chat_id}/history", s.handleHistory)
	mux.HandleFunc("POST /norag/session", s.handleCreateSession)
	mux.HandleFunc("POST /norag/chat", s.handleNoRAGChat)
	mux.HandleFunc("GET /sessions", s.handleSessions)
	if s.docs != nil {
		mux.HandleFunc("POST /upload_document", s.handleUploadDocument)
	}
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return s.logRequests(mux)
}

// NewHTTPServer wraps h with the server timeouts. There is no write timeout
// because answers are streamed for as long as generation takes.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type createChatResponse struct {
	ChatID string `json:"chat_id"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type messageRequest struct {
	Question string `json:"question"`
}

type noRAGRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

type noRAGResponse struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
	Summary   string `json:"summary"`
}

type historyResponse struct {
	ChatID  string         `json:"chat_id"`
	Kind    string         `json:"prompt_type,omitempty"`
	Summary string         `json:"summary"`
	History []session.Turn `json:"history"`
}

type uploadResponse struct {
	Message    string `json:"message"`
	Paragraphs int    `json:"paragraphs"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Welcome to the EduLearnAI API",
		"status":  "healthy",
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	id, err := s.chat.CreateSession(r.Context(), r.URL.Query().Get("prompt_type"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createChatResponse{ChatID: id})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := s.chat.CreateSession(r.Context(), "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createSessionResponse{SessionID: id})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	seq, err := s.chat.Stream(r.Context(), r.PathValue("chat_id"), req.Question)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	flusher, _ := w.(http.Flusher)
	started := false
	for chunk, err := range seq {
		if err != nil {
			if !started {
				s.writeError(w, r, err)
				return
			}
			// Headers are gone; dropping the connection tells the client the
			// answer is incomplete.
			s.logger.Warn("answer stream failed mid-response", "chat_id", r.PathValue("chat_id"), "error", err)
			panic(http.ErrAbortHandler)
		}
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := w.Write([]byte(chunk)); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if !started {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := s.chat.History(r.Context(), r.PathValue("chat_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	history := sess.History
	if history == nil {
		history = []session.Turn{}
	}
	writeJSON(w, http.StatusOK, historyResponse{
		ChatID:  sess.ID,
		Kind:    sess.Kind,
		Summary: sess.Summary,
		History: history,
	})
}

func (s *Server) handleNoRAGChat(w http.ResponseWriter, r *http.Request) {
	var req noRAGRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ans, err := s.chat.Ask(r.Context(), req.SessionID, req.Question)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, noRAGResponse{SessionID: ans.SessionID, Answer: ans.Text, Summary: ans.Summary})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.chat.Sessions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids, "total_sessions": len(ids)})
}

// handleUploadDocument takes a text document from the multipart field "file".
// Binary formats such as PDF need their text extracted beforehand.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: multipart field \"file\" is required: %v", chat.ErrBadInput, err))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: read upload: %v", chat.ErrBadInput, err))
		return
	}
	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		s.writeError(w, r, fmt.Errorf("%w: %s is not a plain text document", chat.ErrBadInput, header.Filename))
		return
	}

	n, err := s.docs.AddDocument(r.Context(), string(data))
	if errors.Is(err, retrieval.ErrEmptyDocument) {
		err = fmt.Errorf("%w: %v", chat.ErrBadInput, err)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("context document added", "file", header.Filename, "paragraphs", n)
	writeJSON(w, http.StatusOK, uploadResponse{Message: "Document uploaded and added successfully.", Paragraphs: n})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON request: %v", chat.ErrBadInput, err)
	}
	return nil
}

// statusOf maps the service error taxonomy to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, chat.ErrBadInput):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, llm.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, llm.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	detail := err.Error()
	switch code {
	case http.StatusNotFound:
		detail = "Chat session not found"
	case http.StatusConflict:
		detail = "Chat session was modified concurrently, please retry"
	case http.StatusInternalServerError:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		detail = "Internal server error"
	}
	writeJSON(w, code, errorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

// Shutdown stops srv, waiting up to timeout for in-flight exchanges.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
