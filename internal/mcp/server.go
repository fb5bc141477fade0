// Package mcp exposes quill notebooks to AI agents over the Model Context
// Protocol. Every tool call authenticates with a quill API key and passes
// through the same gateway pipeline as the HTTP API, so scopes, rate limits,
// and ownership apply identically.
package mcp

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/quillworks/quill/internal/gateway"
	"github.com/quillworks/quill/internal/store"
)

// MCPServer wraps the mcp-go server with quill-specific tool registrations.
type MCPServer struct {
	store  *store.Store
	gw     *gateway.Gateway
	token  string
	logger *slog.Logger
	server *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with the quill tools. The
// token is the API key the server presents to the gateway on every tool
// call; its scopes bound what the connected agent can do.
func NewMCPServer(st *store.Store, gw *gateway.Gateway, token string, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		store:  st,
		gw:     gw,
		token:  token,
		logger: logger,
	}

	mcpServer := server.NewMCPServer(
		"Quill Notebooks",
		"0.1.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance. Useful for
// advanced configuration or testing.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode. This is the primary
// integration path for MCP clients that launch the server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on
// the given address (e.g. ":3001"). This is suitable for remote MCP clients.
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

// authorize runs the gateway pipeline for one tool call and returns the
// verdict. The caller owns mapping a refusal into a tool error.
func (s *MCPServer) authorize(ctx context.Context, op gateway.Operation, ref *gateway.ResourceRef) (*gateway.Verdict, error) {
	return s.gw.Authorize(ctx, gateway.Request{
		Token:     s.token,
		Operation: op,
		Resource:  ref,
	})
}

// meter records one successful tool dispatch against the key. Tool calls are
// metered like HTTP requests; each call gets a fresh request id.
func (s *MCPServer) meter(ctx context.Context, verdict *gateway.Verdict, tool string) {
	_, err := s.gw.Accountant().Record(context.WithoutCancel(ctx), verdict.Key.ID, gateway.Usage{
		RequestID: uuid.Must(uuid.NewV7()).String(),
		Endpoint:  "mcp/" + tool,
		Method:    "TOOL",
	})
	if err != nil {
		s.logger.Error("usage recording failed", "tool", tool, "error", err)
	}
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(false),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
