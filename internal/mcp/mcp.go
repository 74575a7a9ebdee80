// Package mcp implements the Model Context Protocol server for Kiroku.
//
// The MCP server exposes the decision journal to MCP-compatible AI agents:
// recording decisions, listing them, and searching past outcomes.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kiroku/internal/service/decisions"
)

// Server wraps the MCP server with Kiroku's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	svc       *decisions.Service
	// defaultUserID scopes MCP calls; MCP transports carry no user header.
	defaultUserID uuid.UUID
	logger        *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
func New(svc *decisions.Service, defaultUserID uuid.UUID, logger *slog.Logger) *Server {
	s := &Server{
		svc:           svc,
		defaultUserID: defaultUserID,
		logger:        logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kiroku",
		"0.1.0",
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("record_decision",
			mcplib.WithDescription("Record a new decision to journal. A plan is drafted asynchronously."),
			mcplib.WithString("subject", mcplib.Description("What is being decided"), mcplib.Required()),
			mcplib.WithString("context", mcplib.Description("Situation surrounding the decision"), mcplib.Required()),
			mcplib.WithString("expected_outcome", mcplib.Description("What success looks like"), mcplib.Required()),
			mcplib.WithString("rationale", mcplib.Description("Why this choice"), mcplib.Required()),
		),
		s.handleRecordDecision,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("list_decisions",
			mcplib.WithDescription("List the user's decisions, newest first"),
		),
		s.handleListDecisions,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("find_similar_decisions",
			mcplib.WithDescription("Search completed decisions by semantic and lexical similarity"),
			mcplib.WithString("query", mcplib.Description("Free-text description of the decision being considered"), mcplib.Required()),
			mcplib.WithNumber("limit", mcplib.Description("Maximum results to return")),
		),
		s.handleFindSimilar,
	)
}

func (s *Server) handleRecordDecision(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	in := decisions.CreateInput{
		Subject:         request.GetString("subject", ""),
		Context:         request.GetString("context", ""),
		ExpectedOutcome: request.GetString("expected_outcome", ""),
		Rationale:       request.GetString("rationale", ""),
	}

	d, err := s.svc.Create(ctx, s.defaultUserID, in)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"decision_id": d.ID,
		"status":      d.Status,
		"message":     "Decision recorded. A plan is being drafted; fetch the decision to see it.",
	})
}

func (s *Server) handleListDecisions(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	list, err := s.svc.List(ctx, s.defaultUserID)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(list)
}

func (s *Server) handleFindSimilar(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query := request.GetString("query", "")
	limit := int(request.GetFloat("limit", 5))

	matches, err := s.svc.FindSimilar(ctx, s.defaultUserID, query, limit)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(matches)
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
