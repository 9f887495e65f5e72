// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes rollcall tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/rollcall/internal/service"
)

// Server wraps the MCP server with rollcall tools.
type Server struct {
	mcp *server.MCPServer
	svc *service.Service
}

// New creates a new MCP server with all rollcall tools registered.
func New(svc *service.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"rollcall",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("start_recognition",
		mcp.WithDescription("Start the camera recognition loop. Each recognised person is logged once per session. "+
			"Starting while already running does nothing."),
	), s.startRecognition)

	s.mcp.AddTool(mcp.NewTool("stop_recognition",
		mcp.WithDescription("Ask the recognition loop to stop. Returns immediately."),
	), s.stopRecognition)

	s.mcp.AddTool(mcp.NewTool("pipeline_status",
		mcp.WithDescription("Current recognition state (IDLE, RUNNING, STOPPING) with session counters."),
	), s.pipelineStatus)

	s.mcp.AddTool(mcp.NewTool("list_persons",
		mcp.WithDescription("List every enrolled person in enrollment order."),
	), s.listPersons)

	s.mcp.AddTool(mcp.NewTool("list_attendance",
		mcp.WithDescription("List attendance entries, newest first."),
		mcp.WithString("label", mcp.Description(`Exact label, e.g. "007 - Bond"`)),
		mcp.WithString("session", mcp.Description("Restrict to one recognition session id")),
		mcp.WithString("since", mcp.Description("RFC 3339 lower bound on the entry timestamp")),
		mcp.WithNumber("limit", mcp.Description("Maximum entries to return (default 100)")),
	), s.listAttendance)

	s.mcp.AddTool(mcp.NewTool("enroll_person",
		mcp.WithDescription("Enroll a person from a face photo. "+
			"The photo is a base64 data URI or an http(s) URL pointing at a JPEG or PNG. "+
			"See the rollcall://file-formats resource for how the registry is stored."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Registration number")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Display name")),
		mcp.WithString("image", mcp.Required(), mcp.Description("data:image/...;base64,... or http(s) URL")),
	), s.enrollPerson)

	// Resource: on-disk file formats.
	s.mcp.AddResource(
		mcp.NewResource(formatsURI, "File Formats",
			mcp.WithResourceDescription("Formats of the enrollment registry and attendance log."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatsResource,
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
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func (s *Server) startRecognition(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.svc.StartPipeline(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(st), nil
}

func (s *Server) stopRecognition(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.StopPipeline(ctx)), nil
}

func (s *Server) pipelineStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.PipelineStatus(ctx)), nil
}

func (s *Server) listPersons(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	persons, err := s.svc.ListPersons(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(persons) == 0 {
		return mcp.NewToolResultText("no persons enrolled"), nil
	}
	return jsonResult(persons), nil
}

func (s *Server) listAttendance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := service.AttendanceQuery{
		Label:     req.GetString("label", ""),
		SessionID: req.GetString("session", ""),
		Limit:     req.GetInt("limit", 100),
	}
	if since := req.GetString("since", ""); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("since must be RFC 3339: %v", err)), nil
		}
		q.Since = t
	}

	entries, total, err := s.svc.ListAttendance(ctx, q)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"entries": entries, "total": total}), nil
}

func (s *Server) readFormatsResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatsURI,
			MIMEType: "text/markdown",
			Text:     FileFormats,
		},
	}, nil
}
