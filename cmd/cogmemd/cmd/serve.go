package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cogmemd/cogmemd/internal/config"
	"github.com/cogmemd/cogmemd/internal/logging"
	"github.com/cogmemd/cogmemd/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var (
		transport string
		addr      string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cogmemd MCP server",
		Long: `Start the cogmemd memory server and dispatch MCP tool calls over the
configured transport.

Only stdio transport is implemented; an MCP client (Claude Code, an
opencode agent, etc.) spawns this process and talks JSON-RPC over its
stdin/stdout, so all logging is redirected to a file.`,
		Example: `  # Run with an MCP client managing the process
  cogmemd serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, transport, addr)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport to serve on (stdio)")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (unused for stdio)")

	return cmd
}

func runServe(cmd *cobra.Command, transport, addr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanupLogging, err := logging.SetupMCPMode()
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer cleanupLogging()

	logger := slog.Default()

	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		logger.Warn("falling back to default configuration", slog.String("error", err.Error()))
		cfg = config.NewConfig()
	}
	if transport != "" {
		cfg.Server.Transport = transport
	}

	deps, closeDeps, err := openDeps(ctx, cfg, dir, logger)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer func() {
		if closeErr := closeDeps(); closeErr != nil {
			logger.Error("error flushing stores on shutdown", slog.String("error", closeErr.Error()))
		}
	}()

	server, err := mcp.NewServer(deps)
	if err != nil {
		return fmt.Errorf("build MCP server: %w", err)
	}
	defer server.Close()

	return server.Serve(ctx, cfg.Server.Transport, addr)
}
