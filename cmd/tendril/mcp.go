package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Exposes every demo query and mutation as an MCP tool, and the generated
bindings as resources.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		mcpSrv := srv.MCP()

		transport, _ := cmd.Flags().GetString("transport")
		switch transport {
		case "stdio":
			// Logs go to stderr so they cannot corrupt JSON-RPC on stdout.
			logger.Info("starting MCP server (stdio)", "tools", len(mcpSrv.Tools()))
			return mcpSrv.ServeStdio()
		case "sse":
			addr, _ := cmd.Flags().GetString("addr")
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := mcpSrv.ServeSSE(ctx, addr); err != nil {
				return err
			}
			logger.Info("MCP server stopped gracefully")
			return nil
		default:
			return fmt.Errorf("unknown transport: %s. Supported: stdio, sse", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().String("addr", ":8081", "Address to listen on (only for SSE)")
}
