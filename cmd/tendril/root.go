package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/demo"
	"github.com/aretw0/tendril/internal/logging"
	"github.com/spf13/cobra"
)

// devSecret signs demo tokens when auth.secret is unset.
const devSecret = "tendril-dev-secret"

var rootCmd = &cobra.Command{
	Use:           "tendril",
	Short:         "Tendril serves typed Go operations as a JSON-RPC API",
	Long:          `Tendril exposes a tree of queries, mutations and subscriptions over HTTP, SSE, WebSocket and MCP, and generates TypeScript bindings for them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json")
}

// loadConfig reads the config file and lets explicit flags win over it.
func loadConfig(cmd *cobra.Command) (*tendril.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := tendril.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format, _ = cmd.Flags().GetString("log-format")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *tendril.Config) *slog.Logger {
	level, _ := logging.ParseLevel(cfg.Log.Level)
	if cfg.Log.Format == "json" {
		return logging.NewJSON(level)
	}
	return logging.New(level)
}

func secret(cfg *tendril.Config, logger *slog.Logger) []byte {
	if cfg.Auth.Secret == "" {
		logger.Warn("auth.secret is unset, using the development secret")
		return []byte(devSecret)
	}
	return []byte(cfg.Auth.Secret)
}

// newServer builds the demo service under cfg.
func newServer(cfg *tendril.Config, logger *slog.Logger) (*tendril.Server, error) {
	r, err := demo.Router(secret(cfg, logger))
	if err != nil {
		return nil, fmt.Errorf("build demo router: %w", err)
	}
	return tendril.New(r, demo.NewApp(), tendril.WithConfig(cfg), tendril.WithLogger(logger))
}

// setup is loadConfig, newLogger and newServer in one step.
func setup(cmd *cobra.Command) (*tendril.Server, *slog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg)
	srv, err := newServer(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return srv, logger, nil
}
