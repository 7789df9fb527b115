// Package mcpserver exposes the ember query surface as MCP (Model Context
// Protocol) tools over stdio JSON-RPC, so an agent can search, record and
// curate memories directly.
package mcpserver

import (
	"context"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/lazypower/ember/internal/engine"
)

// Server holds the MCP tool handlers.
type Server struct {
	engine *engine.Engine
}

// NewServer creates an MCP server backed by the given engine.
func NewServer(e *engine.Engine) *Server {
	return &Server{engine: e}
}

// Tools returns every tool with its handler.
func (s *Server) Tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: searchTool(), Handler: s.handleSearch},
		{Tool: addTool(), Handler: s.handleAdd},
		{Tool: getTool(), Handler: s.handleGet},
		{Tool: pinTool(), Handler: s.handlePin},
		{Tool: unpinTool(), Handler: s.handleUnpin},
		{Tool: hotTool(), Handler: s.handleHot},
		{Tool: coldTool(), Handler: s.handleCold},
		{Tool: statsTool(), Handler: s.handleStats},
	}
}

// Run serves the tools over stdio. It blocks until ctx is cancelled or in
// is closed.
func Run(ctx context.Context, e *engine.Engine, version string, in io.Reader, out io.Writer) error {
	mcpServer := server.NewMCPServer(
		"ember",
		version,
		server.WithToolCapabilities(true),
	)
	mcpServer.AddTools(NewServer(e).Tools()...)

	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelError))

	return stdio.Listen(ctx, in, out)
}
