// Package mcpserver exposes a store as Model Context Protocol tools over
// stdio, so agents can read and layer documents.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang/glog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentic-research/strata/internal/doc"
	"github.com/agentic-research/strata/internal/store"
)

const serverName = "strata"

type Server struct {
	store *store.Store
	mcp   *server.MCPServer
}

// New registers the read, query, upsert, remove and stats tools for s.
func New(s *store.Store, version string) *Server {
	srv := &Server{
		store: s,
		mcp:   server.NewMCPServer(serverName, version, server.WithToolCapabilities(false)),
	}

	srv.mcp.AddTool(mcp.NewTool("read",
		mcp.WithDescription("Return the merged JSON document at a path"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path, e.g. /render")),
	), srv.handleRead)

	srv.mcp.AddTool(mcp.NewTool("query",
		mcp.WithDescription("Evaluate a JSONPath selector against the merged document at a path"),
		mcp.WithString("path", mcp.Description("Absolute path, defaults to /")),
		mcp.WithString("selector", mcp.Required(), mcp.Description("JSONPath, e.g. $.targets[*].name")),
	), srv.handleQuery)

	srv.mcp.AddTool(mcp.NewTool("upsert",
		mcp.WithDescription("Register a JSON fragment at a path and priority, replacing any fragment at the same pair"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path")),
		mcp.WithNumber("priority", mcp.Description("Overlay priority, higher wins (default 0)")),
		mcp.WithString("document", mcp.Required(), mcp.Description("Fragment as JSON text")),
	), srv.handleUpsert)

	srv.mcp.AddTool(mcp.NewTool("remove",
		mcp.WithDescription("Remove fragments at a path, or only the one at the given priority"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path")),
		mcp.WithNumber("priority", mcp.Description("Only remove this priority")),
	), srv.handleRemove)

	srv.mcp.AddTool(mcp.NewTool("stats",
		mcp.WithDescription("Report fragment, cache and subscriber counts"),
	), srv.handleStats)

	return srv
}

// ServeStdio blocks serving requests on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) handleRead(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.store.Read(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if n == nil {
		return mcp.NewToolResultError(fmt.Sprintf("nothing at %s", path)), nil
	}
	return mcp.NewToolResultText(string(doc.Marshal(n, 2))), nil
}

func (s *Server) handleQuery(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	selector, err := req.RequireString("selector")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path := req.GetString("path", "/")

	matches, err := s.store.Query(path, selector)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(doc.Marshal(doc.Array(matches), 2))), nil
}

func (s *Server) handleUpsert(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	payload, err := doc.Parse([]byte(text))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	priority := req.GetInt("priority", 0)

	if err := s.store.Upsert(path, priority, payload); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	glog.V(1).Infof("mcp upsert %s@%d", path, priority)
	return mcp.NewToolResultText(fmt.Sprintf("upserted %s@%d", path, priority)), nil
}

func (s *Server) handleRemove(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if _, ok := req.GetArguments()["priority"]; ok {
		priority := req.GetInt("priority", 0)
		if err := s.store.RemovePriority(path, priority); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("removed %s@%d", path, priority)), nil
	}

	if err := s.store.Remove(path); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("removed %s", path)), nil
}

func (s *Server) handleStats(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.store.Stats()
	out, err := json.Marshal(map[string]int{
		"fragments":     st.Fragments,
		"paths":         st.Paths,
		"cache_entries": st.CacheEntries,
		"subscribers":   st.Subscribers,
	})
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

