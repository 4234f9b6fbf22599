package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	gatemcp "github.com/ppiankov/chatgate/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for operator assistants",
	Long:  "Runs chatgate as an MCP (Model Context Protocol) server over stdio.\nExposes tools: lookup, bans, unban, audit.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the protocol; logs go to stderr.
	logger := cfg.Log.NewLogger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, backend, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	srv := gatemcp.New(gatemcp.Config{
		Engine:       engine,
		AuditLogPath: cfg.AuditLog,
		Version:      version,
		Logger:       logger,
	})

	fmt.Fprintln(os.Stderr, "chatgate MCP server running on stdio")
	return srv.Run(ctx)
}
