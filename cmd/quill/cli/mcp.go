package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quillworks/quill/internal/gateway"
	qmcp "github.com/quillworks/quill/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
		apiKey    string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes notebooks as tools
for AI agents. Supports stdio (default) and HTTP transports.

The server authenticates with a Quill API key; the key's scopes and rate
limits bound everything the connected agent can do.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for direct integration with Claude Desktop or other MCP clients.`,
		Example: `  QUILL_API_KEY=nb_live_... quill mcp        # stdio mode
  quill mcp --api-key nb_live_... --transport http --port 3001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(transport, port, apiKey)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Quill API key (default: QUILL_API_KEY env var)")

	return cmd
}

func runMCP(transport string, port int, apiKey string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if apiKey == "" {
		apiKey = os.Getenv("QUILL_API_KEY")
	}
	if apiKey == "" {
		return fmt.Errorf("an API key is required: pass --api-key or set QUILL_API_KEY")
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	gw := gateway.New(st)
	mcpSrv := qmcp.NewMCPServer(st, gw, apiKey, logger)

	switch transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		return mcpSrv.ServeHTTP(fmt.Sprintf(":%d", port))
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}
