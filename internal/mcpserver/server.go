// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the local conventions tree to LLM agents via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/convsync/internal/apperr"
	"github.com/starford/convsync/internal/freshness"
	"github.com/starford/convsync/internal/index"
	"github.com/starford/convsync/internal/project"
	"github.com/starford/convsync/internal/storage"
)

const templateURI = "convsync://template"

// FreshnessChecker compares the local manifest with the remote catalog.
type FreshnessChecker interface {
	Status(ctx context.Context) (freshness.Report, error)
}

// Server wraps the MCP server with convention tools.
type Server struct {
	mcp     *server.MCPServer
	store   storage.Provider
	db      index.ConventionIndex
	checker FreshnessChecker
}

// New creates a new MCP server with all tools registered. checker may be
// nil, in which case check_freshness reports that no remote is configured.
func New(store storage.Provider, db index.ConventionIndex, checker FreshnessChecker, version string) *Server {
	s := &Server{store: store, db: db, checker: checker}

	s.mcp = server.NewMCPServer(
		"convsync",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_conventions",
		mcp.WithDescription("Full-text search through downloaded conventions and platform guides."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of hits (default 20)")),
	), s.searchConventions)

	s.mcp.AddTool(mcp.NewTool("read_convention",
		mcp.WithDescription("Read the full Markdown of a convention file."),
		mcp.WithString("path", mcp.Required(),
			mcp.Description("Path under .conventions (e.g. backend/errors.md or .conventions/backend/errors.md)")),
	), s.readConvention)

	s.mcp.AddTool(mcp.NewTool("list_conventions",
		mcp.WithDescription("List indexed conventions with their titles, tags and remote ids."),
		mcp.WithString("category", mcp.Description("Optional category directory to list (empty for all)")),
	), s.listConventions)

	s.mcp.AddTool(mcp.NewTool("check_freshness",
		mcp.WithDescription("Compare the local manifest with the remote catalog and report new, updated and deleted conventions."),
	), s.checkFreshness)

	s.mcp.AddResource(
		mcp.NewResource(templateURI, "Convention Template",
			mcp.WithResourceDescription("Template that new conventions should follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readTemplateResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) searchConventions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", 20)
	results, err := s.db.Search(query, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no matches"), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readConvention(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rel, err := conventionPath(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.store.Read(rel)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", rel)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) listConventions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rows, err := s.db.List(req.GetString("category", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(rows) == 0 {
		return mcp.NewToolResultText("no conventions indexed"), nil
	}
	out, _ := json.MarshalIndent(rows, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) checkFreshness(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.checker == nil {
		return mcp.NewToolResultError("no remote convention service configured"), nil
	}
	report, err := s.checker.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(struct {
		Stale   bool   `json:"stale"`
		Summary string `json:"summary"`
		freshness.Report
	}{report.Stale(), report.String(), report}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readTemplateResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := s.store.Read(project.RelPath(project.TemplateFile))
	if err != nil {
		return nil, fmt.Errorf("template not downloaded (run `convsync download`): %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      templateURI,
			MIMEType: "text/markdown",
			Text:     string(data),
		},
	}, nil
}

// conventionPath maps a tool argument onto a root-relative path that stays
// inside .conventions.
func conventionPath(p string) (string, error) {
	p = strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "/")
	if !strings.HasPrefix(p, project.ConventionsDir+"/") {
		p = project.ConventionsDir + "/" + p
	}
	clean := path.Clean(p)
	if !strings.HasPrefix(clean, project.ConventionsDir+"/") {
		return "", fmt.Errorf("%w: %s is outside %s", apperr.ErrValidation, p, project.ConventionsDir)
	}
	if !strings.HasSuffix(clean, ".md") {
		return "", errors.New("only .md files can be read")
	}
	return clean, nil
}
