// Package mcpserver exposes the chat service as Model Context Protocol tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"edulearn/internal/chat"
)

type CreateSessionParams struct {
	PromptType string `json:"prompt_type,omitempty" mcp:"prompt kind of the session, e.g. quiz_solving (optional)"`
}

type AskParams struct {
	SessionID string `json:"session_id" mcp:"id returned by create_session"`
	Question  string `json:"question" mcp:"the question to ask"`
}

type HistoryParams struct {
	SessionID string `json:"session_id" mcp:"id returned by create_session"`
}

type Tools struct {
	chat   *chat.Service
	logger *slog.Logger
}

func NewTools(svc *chat.Service, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{chat: svc, logger: logger}
}

// NewServer registers the session tools on a new MCP server.
func NewServer(svc *chat.Service, version string, logger *slog.Logger) *mcp.Server {
	t := NewTools(svc, logger)
	server := mcp.NewServer(&mcp.Implementation{Name: "edulearn", Version: version}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_session",
		Description: "Creates a new tutoring session and returns its id",
	}, t.CreateSession)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask",
		Description: "Asks a question within a session and returns the answer together with the rolling summary",
	}, t.Ask)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_history",
		Description: "Returns the summary and recent turns of a session",
	}, t.History)
	return server
}

// Run serves the tools over stdio until ctx is done.
func Run(ctx context.Context, svc *chat.Service, version string, logger *slog.Logger) error {
	return NewServer(svc, version, logger).Run(ctx, mcp.NewStdioTransport())
}

func (t *Tools) CreateSession(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[CreateSessionParams]) (*mcp.CallToolResultFor[any], error) {
	id, err := t.chat.CreateSession(ctx, params.Arguments.PromptType)
	if err != nil {
		return t.failure("create_session", err), nil
	}
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: id}},
		Meta:    map[string]any{"session_id": id},
	}, nil
}

func (t *Tools) Ask(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[AskParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	ans, err := t.chat.Ask(ctx, args.SessionID, args.Question)
	if err != nil {
		return t.failure("ask", err), nil
	}
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: ans.Text}},
		Meta: map[string]any{
			"session_id": ans.SessionID,
			"summary":    ans.Summary,
			"compacted":  ans.Compacted,
		},
	}, nil
}

func (t *Tools) History(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[HistoryParams]) (*mcp.CallToolResultFor[any], error) {
	s, err := t.chat.History(ctx, params.Arguments.SessionID)
	if err != nil {
		return t.failure("get_history", err), nil
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return t.failure("get_history", err), nil
	}
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func (t *Tools) failure(tool string, err error) *mcp.CallToolResultFor[any] {
	t.logger.Warn("mcp tool failed", "tool", tool, "error", err)
	return &mcp.CallToolResultFor[any]{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%s failed: %v", tool, err)}},
	}
}
