// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes package editing tools for LLM integration via stdio transport.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/session"
)

// ProfileURI is the resource holding the session's domain profile.
const ProfileURI = "ipm://profile"

// GuideURI is the resource holding the editing guide.
const GuideURI = "ipm://guide"

// Server wraps the MCP server with package editing tools.
type Server struct {
	mcp  *server.MCPServer
	sess *session.Session
}

// New creates a new MCP server with all tools registered against sess.
func New(sess *session.Session, version string) *Server {
	s := &Server{sess: sess}

	s.mcp = server.NewMCPServer(
		"IPM",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_tree",
		mcp.WithDescription("List every node of the package tree in pre-order as JSON. "+
			"Each node carries its id, type, file location and children."),
	), s.getTree)

	s.mcp.AddTool(mcp.NewTool("get_node",
		mcp.WithDescription("Read one node with its properties, valid types and executable transforms."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Node identifier")),
	), s.getNode)

	s.mcp.AddTool(mcp.NewTool("valid_types",
		mcp.WithDescription("List the node types the node could be changed to without breaking its parent or children."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Node identifier")),
	), s.validTypes)

	s.mcp.AddTool(mcp.NewTool("change_type",
		mcp.WithDescription("Change the type of a node. Call valid_types first; an illegal change is rejected."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Node identifier")),
		mcp.WithString("type", mcp.Required(), mcp.Description("Target node type IRI")),
	), s.changeType)

	s.mcp.AddTool(mcp.NewTool("transform",
		mcp.WithDescription("Apply a named node transform listed by get_node."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Node identifier")),
		mcp.WithString("transform", mcp.Required(), mcp.Description("Transform identifier")),
	), s.transform)

	s.mcp.AddTool(mcp.NewTool("validate",
		mcp.WithDescription("Report every node whose properties violate its type's constraints."),
	), s.validate)

	s.mcp.AddTool(mcp.NewTool("refresh",
		mcp.WithDescription("Rescan the package directory and merge changes into the tree."),
	), s.refresh)

	s.mcp.AddTool(mcp.NewTool("export_graph",
		mcp.WithDescription("Serialise the tree and its domain objects as N-Triples."),
	), s.exportGraph)

	s.mcp.AddResource(
		mcp.NewResource(ProfileURI, "Domain Profile",
			mcp.WithResourceDescription("The domain profile the package is typed against."),
			mcp.WithMIMEType("application/json"),
		),
		s.readProfileResource,
	)

	s.mcp.AddResource(
		mcp.NewResource(GuideURI, "Editing Guide",
			mcp.WithResourceDescription("How to inspect and edit the package tree."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuideResource,
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

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) getTree(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tr := s.sess.Snapshot()
	return jsonResult(map[string]any{
		"root":    tr.Root().ID,
		"profile": s.sess.Profile().ID,
		"typed":   s.sess.Typed(),
		"nodes":   tr.Nodes(),
	}), nil
}

func (s *Server) getNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	v, err := s.sess.Node(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(v), nil
}

func (s *Server) validTypes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	types, err := s.sess.ValidTypes(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(types) == 0 {
		return mcp.NewToolResultText("no valid types"), nil
	}
	lines := make([]string, 0, len(types))
	for _, nt := range types {
		lines = append(lines, fmt.Sprintf("%s\t%s", nt.ID, nt.Label))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) changeType(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	typeID, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.sess.ChangeType(id, typeID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("changed: %s -> %s", id, typeID)), nil
}

func (s *Server) transform(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tid, err := req.RequireString("transform")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.sess.Transform(id, tid); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("transformed: %s by %s", id, tid)), nil
}

func (s *Server) validate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vs := s.sess.Validate()
	if len(vs) == 0 {
		return mcp.NewToolResultText("valid"), nil
	}
	lines := make([]string, 0, len(vs))
	for _, v := range vs {
		lines = append(lines, v.String())
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) refresh(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := s.sess.Refresh()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if c.Len() == 0 {
		return mcp.NewToolResultText("no changes"), nil
	}
	lines := make([]string, 0, c.Len())
	for _, loc := range c.Locations() {
		lines = append(lines, fmt.Sprintf("%s\t%s", c.Results[loc].Status, loc))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) exportGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var buf bytes.Buffer
	if err := s.sess.Export(&buf); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(buf.String()), nil
}

func (s *Server) readProfileResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(s.sess.Profile(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcpserver: profile: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ProfileURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) readGuideResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      GuideURI,
			MIMEType: "text/markdown",
			Text:     EditingGuide,
		},
	}, nil
}
