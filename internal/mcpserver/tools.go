package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lazypower/ember/internal/engine"
)

// --- Tool Definitions ---

func searchTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"memory_search",
		"Search memories by meaning. Results are ranked by relevance blended with heat, and returned memories count as accessed.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {
					"type": "string",
					"description": "Natural language query"
				},
				"limit": {
					"type": "integer",
					"description": "Maximum results (default 10)"
				},
				"client": {
					"type": "string",
					"description": "Only memories recorded by this client"
				},
				"project": {
					"type": "string",
					"description": "Only memories from this project"
				},
				"source": {
					"type": "string",
					"description": "Only memories from this source"
				}
			},
			"required": ["query"]
		}`),
	)
}

func addTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"memory_add",
		"Record a new memory. It starts at neutral heat, or at maximum heat when pinned.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"content": {
					"type": "string",
					"description": "The memory text"
				},
				"source": {
					"type": "string",
					"description": "Where the memory came from"
				},
				"client": {
					"type": "string",
					"description": "Client recording the memory"
				},
				"project": {
					"type": "string",
					"description": "Project the memory belongs to"
				},
				"pinned": {
					"type": "boolean",
					"description": "Pin the memory so it never cools"
				},
				"mentions": {
					"type": "array",
					"items": {"type": "string"},
					"description": "Ids of existing memories this one references"
				}
			},
			"required": ["content"]
		}`),
	)
}

func idSchema(verb string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"type": "object",
		"properties": {
			"id": {
				"type": "string",
				"description": "Id of the memory to %s"
			}
		},
		"required": ["id"]
	}`, verb))
}

func getTool() mcp.Tool {
	return mcp.NewToolWithRawSchema("memory_get", "Fetch one memory with its current heat.", idSchema("fetch"))
}

func pinTool() mcp.Tool {
	return mcp.NewToolWithRawSchema("memory_pin", "Pin a memory at maximum heat so it never decays.", idSchema("pin"))
}

func unpinTool() mcp.Tool {
	return mcp.NewToolWithRawSchema("memory_unpin", "Unpin a memory. Decay resumes from now.", idSchema("unpin"))
}

func hotTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"memory_hot",
		"List the hottest memories.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"limit": {
					"type": "integer",
					"description": "Maximum results (default 10)"
				}
			}
		}`),
	)
}

func coldTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"memory_cold",
		"List the coldest unpinned memories, candidates for review or archival.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"limit": {
					"type": "integer",
					"description": "Maximum results (default 10)"
				},
				"min_age_days": {
					"type": "number",
					"description": "Only memories at least this many days old (default 7)"
				}
			}
		}`),
	)
}

func statsTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"memory_stats",
		"Summarize the memory store by heat band.",
		json.RawMessage(`{"type": "object", "properties": {}}`),
	)
}

// --- Tool Handlers ---

type searchArgs struct {
	Query   string `json:"query"`
	Limit   int    `json:"limit"`
	Client  string `json:"client"`
	Project string `json:"project"`
	Source  string `json:"source"`
}

type searchResult struct {
	Query   string          `json:"query"`
	Count   int             `json:"count"`
	Results []engine.Result `json:"results"`
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args searchArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	results, err := s.engine.Search(ctx, args.Query, args.Limit, engine.Filters{
		Client:  args.Client,
		Project: args.Project,
		Source:  args.Source,
	})
	if err != nil {
		return toolError("memory_search", err), nil
	}
	return resultJSON(searchResult{Query: args.Query, Count: len(results), Results: results})
}

type addArgs struct {
	Content  string   `json:"content"`
	Source   string   `json:"source"`
	Client   string   `json:"client"`
	Project  string   `json:"project"`
	Pinned   bool     `json:"pinned"`
	Mentions []string `json:"mentions"`
}

func (s *Server) handleAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args addArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Client == "" {
		args.Client = "mcp"
	}

	m, err := s.engine.Add(ctx, engine.AddRequest{
		Content:  args.Content,
		Source:   args.Source,
		Client:   args.Client,
		Project:  args.Project,
		Pinned:   args.Pinned,
		Mentions: args.Mentions,
	})
	if err != nil {
		return toolError("memory_add", err), nil
	}
	slog.Debug("memory recorded over mcp", "id", m.ID)
	return resultJSON(m)
}

type idArgs struct {
	ID string `json:"id"`
}

func (s *Server) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.byID(ctx, req, "memory_get", s.engine.Get)
}

func (s *Server) handlePin(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.byID(ctx, req, "memory_pin", s.engine.Pin)
}

func (s *Server) handleUnpin(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.byID(ctx, req, "memory_unpin", s.engine.Unpin)
}

func (s *Server) byID(ctx context.Context, req mcp.CallToolRequest, tool string, op func(context.Context, string) (*engine.MemoryView, error)) (*mcp.CallToolResult, error) {
	var args idArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.ID == "" {
		return mcp.NewToolResultError("id is required"), nil
	}

	m, err := op(ctx, args.ID)
	if err != nil {
		return toolError(tool, err), nil
	}
	return resultJSON(m)
}

type listArgs struct {
	Limit      int      `json:"limit"`
	MinAgeDays *float64 `json:"min_age_days"`
}

type listResult struct {
	Count    int                 `json:"count"`
	Memories []engine.MemoryView `json:"memories"`
}

func (s *Server) handleHot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args listArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	memories, err := s.engine.WhatsHot(ctx, args.Limit)
	if err != nil {
		return toolError("memory_hot", err), nil
	}
	return resultJSON(listResult{Count: len(memories), Memories: memories})
}

func (s *Server) handleCold(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args listArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	minAge := s.engine.Options().ColdMinAgeDays
	if args.MinAgeDays != nil {
		minAge = *args.MinAgeDays
	}

	memories, err := s.engine.WhatsCold(ctx, args.Limit, minAge)
	if err != nil {
		return toolError("memory_cold", err), nil
	}
	return resultJSON(listResult{Count: len(memories), Memories: memories})
}

func (s *Server) handleStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.engine.Stats(ctx)
	if err != nil {
		return toolError("memory_stats", err), nil
	}
	return resultJSON(stats)
}

// toolError reports a failed call as a tool error prefixed with its kind,
// e.g. "not_found: get: memory not found".
func toolError(tool string, err error) *mcp.CallToolResult {
	kind := engine.KindOf(err)
	if kind == "" {
		kind = engine.KindUpstreamUnavailable
	}
	if kind == engine.KindUpstreamUnavailable {
		slog.Warn("mcp tool failed", "tool", tool, "error", err)
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", kind, err))
}

func resultJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
