// Package mcp provides the Model Context Protocol server for trophysync.
//
// The server lets an MCP client start syncs, follow and cancel jobs, and read
// a user's statistics and notifications. Jobs run on the same engine as the
// CLI and the HTTP server.
package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/asteroid-belt/trophysync/internal/engine"
	"github.com/asteroid-belt/trophysync/internal/telemetry"
	"github.com/asteroid-belt/trophysync/pkg/version"
)

// Server wraps the MCP server with trophysync-specific functionality.
type Server struct {
	engine    *engine.Engine
	server    *server.MCPServer
	telemetry telemetry.Client
}

// NewServer creates a new MCP server instance.
func NewServer(eng *engine.Engine, tc telemetry.Client) *Server {
	if tc == nil {
		tc = telemetry.Noop()
	}
	s := &Server{
		engine:    eng,
		telemetry: tc,
	}

	s.server = server.NewMCPServer(
		"trophysync",
		version.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
	)

	s.registerTools()
	s.registerResources()

	return s
}

// Serve runs the job workers and serves MCP over stdio until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	if _, err := s.engine.Start(ctx); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}
	return server.ServeStdio(s.server)
}

func (s *Server) registerTools() {
	s.server.AddTool(startSyncTool(), s.handleStartSync)
	s.server.AddTool(jobStatusTool(), s.handleJobStatus)
	s.server.AddTool(jobSummaryTool(), s.handleJobSummary)
	s.server.AddTool(cancelJobTool(), s.handleCancelJob)
	s.server.AddTool(activeJobsTool(), s.handleActiveJobs)
	s.server.AddTool(userStatsTool(), s.handleUserStats)
}

func (s *Server) registerResources() {
	s.server.AddResourceTemplate(
		mcp.NewResourceTemplate(
			resourcePrefix+"user/{id}/notifications",
			"Unread notifications",
			mcp.WithTemplateDescription("Undismissed notifications of a user, newest first"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleNotificationsResource,
	)

	s.server.AddResourceTemplate(
		mcp.NewResourceTemplate(
			resourcePrefix+"user/{id}/games",
			"Synced games",
			mcp.WithTemplateDescription("Games of a user with achievement counts and completion"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleGamesResource,
	)
}
