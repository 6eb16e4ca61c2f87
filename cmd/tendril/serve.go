package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the JSON-RPC server",
	Long: `Serves the demo operations over HTTP (POST /rpc, GET /rpc/{method}),
SSE (GET /rpc/{method}/events) and WebSocket (GET /ws). The TypeScript bindings
and the OpenAPI document are published to the manifest store on start.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.Addr, _ = cmd.Flags().GetString("addr")
		}
		logger := newLogger(cfg)

		if tui.IsTerminal(os.Stderr) {
			tui.PrintBanner(os.Stderr, "v"+tendril.Version)
		}

		srv, err := newServer(cfg, logger)
		if err != nil {
			return err
		}

		// Create a context that cancels on interrupt signal
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := srv.Publish(ctx); err != nil {
			return fmt.Errorf("publish manifest: %w", err)
		}
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", ":8080", "Address to listen on")
}
