// Package mcp exposes read-mostly operator tools over the Model Context
// Protocol so an assistant can inspect and manage admission state.
package mcp

import (
	"context"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/chatgate/internal/gate"
)

// Config holds MCP server configuration.
type Config struct {
	Engine       *gate.Engine
	AuditLogPath string
	Version      string
	Logger       *slog.Logger
}

// Server wraps the MCP SDK server with chatgate operator tools.
type Server struct {
	mcpServer    *mcpsdk.Server
	engine       *gate.Engine
	auditLogPath string
	logger       *slog.Logger
}

// New creates an MCP server over cfg.Engine.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		engine:       cfg.Engine,
		auditLogPath: cfg.AuditLogPath,
		logger:       logger,
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "chatgate",
			Version: version,
		},
		nil,
	)

	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all chatgate tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "chatgate_lookup",
		Description: "Show the ban and session state of one client, by raw address or fingerprint. Does not count as a request.",
	}, s.handleLookup)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "chatgate_bans",
		Description: "List all banned fingerprints with their reasons, oldest first.",
	}, s.handleBans)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "chatgate_unban",
		Description: "Lift the permanent ban on a fingerprint.",
	}, s.handleUnban)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "chatgate_audit",
		Description: "Query recent admission decisions from the audit log, optionally filtered by fingerprint or decision.",
	}, s.handleAudit)
}
