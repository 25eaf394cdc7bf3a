// Package main provides the CLI entry point for the orchestrator service.
//
// The orchestrator exposes an OpenAI-compatible chat-completions endpoint
// backed by a three-tier router (pattern precheck, fast classifier, planner)
// over a shared memory, tool, and retrieval stack (§1, §6.1).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nexus-orchestrator/orchestrator/internal/config"
)

var (
	version = "dev"
	commit  = "none"

	configPath string
	debug      bool
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "orchestrator",
		Short:        "Conversational AI orchestrator: router, tools, memory, and retrieval over one execution graph",
		Version:      fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the orchestrator config file (YAML/JSON/JSON5)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug-level logging")

	rootCmd.AddCommand(buildServeCmd(), buildStatusCmd())
	return rootCmd
}

func buildStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Load the configuration and report whether it parses",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: server=%s:%d classifier_model=%s planner_model=%s\n",
				cfg.Server.Host, cfg.Server.Port, cfg.Models.ClassifierModel, cfg.Models.PlannerModel)
			return nil
		},
	}
}

func buildServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	return cmd
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}
