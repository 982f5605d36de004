// Package mcp exposes stored chat transcripts as read-only MCP tools,
// so agents can search and quote past conversations.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/parley-dev/parley/internal/models"
	"github.com/parley-dev/parley/internal/store"
)

// Server wraps the session store and exposes it as MCP tools.
type Server struct {
	store store.Store
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store) *Server {
	return &Server{store: s}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("parley", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listSessionsTool())
	srv.AddTool(s.getSessionTool())
	srv.AddTool(s.searchSessionsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// parley_list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("parley_list_sessions",
		mcp.WithDescription("List chat sessions, most recently updated first. Returns a JSON array with id, name, preview, message count, and timestamps."),
	)
	return tool, s.handleListSessions
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.store.ListSessions()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}

	type sessionOut struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		Preview      string `json:"preview"`
		MessageCount int    `json:"message_count"`
		CreatedAt    string `json:"created_at"`
		UpdatedAt    string `json:"updated_at"`
	}

	out := make([]sessionOut, len(items))
	for i, item := range items {
		out[i] = sessionOut{
			ID:           item.ID,
			Name:         item.Name,
			Preview:      item.Preview,
			MessageCount: item.MessageCount,
			CreatedAt:    item.CreatedAt.Format(time.RFC3339),
			UpdatedAt:    item.UpdatedAt.Format(time.RFC3339),
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// parley_get_session
func (s *Server) getSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("parley_get_session",
		mcp.WithDescription("Get a full session transcript by id: metadata plus every message in order."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	)
	return tool, s.handleGetSession
}

func (s *Server) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	sess, err := s.store.LoadSession(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", id)), nil
	}

	result := map[string]any{
		"id":         sess.ID,
		"name":       sess.Name,
		"created_at": sess.CreatedAt.Format(time.RFC3339),
		"updated_at": sess.UpdatedAt.Format(time.RFC3339),
		"messages":   transcriptOut(sess.Messages),
	}
	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal session: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func transcriptOut(messages []models.Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		entry := map[string]any{
			"role":      string(m.Role),
			"content":   m.Content,
			"timestamp": m.Timestamp.Format(time.RFC3339),
		}
		if m.ToolName != "" {
			entry["tool_name"] = m.ToolName
		}
		out = append(out, entry)
	}
	return out
}

// parley_search_sessions
func (s *Server) searchSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("parley_search_sessions",
		mcp.WithDescription("Search message content across all sessions (case-insensitive substring match). Returns matching messages with their session id and name."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Text to search for")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of matches to return (default 20)")),
	)
	return tool, s.handleSearchSessions
}

func (s *Server) handleSearchSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	limit := request.GetInt("limit", 20)
	if limit <= 0 {
		limit = 20
	}

	items, err := s.store.ListSessions()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}

	type matchOut struct {
		SessionID   string `json:"session_id"`
		SessionName string `json:"session_name"`
		Role        string `json:"role"`
		Content     string `json:"content"`
		Timestamp   string `json:"timestamp"`
	}

	needle := strings.ToLower(query)
	var matches []matchOut
	for _, item := range items {
		if len(matches) >= limit {
			break
		}
		sess, err := s.store.LoadSession(item.ID)
		if err != nil {
			continue
		}
		for _, m := range sess.Messages {
			if !strings.Contains(strings.ToLower(m.Content), needle) {
				continue
			}
			matches = append(matches, matchOut{
				SessionID:   sess.ID,
				SessionName: sess.Name,
				Role:        string(m.Role),
				Content:     m.Content,
				Timestamp:   m.Timestamp.Format(time.RFC3339),
			})
			if len(matches) >= limit {
				break
			}
		}
	}

	data, err := json.Marshal(matches)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal matches: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
