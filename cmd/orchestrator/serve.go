package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexus-orchestrator/orchestrator/internal/config"
	"github.com/nexus-orchestrator/orchestrator/internal/events"
	"github.com/nexus-orchestrator/orchestrator/internal/heartbeat"
	"github.com/nexus-orchestrator/orchestrator/internal/memory"
	"github.com/nexus-orchestrator/orchestrator/internal/observability"
	"github.com/nexus-orchestrator/orchestrator/internal/orchestrator"
	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/internal/store/bedrock"
	"github.com/nexus-orchestrator/orchestrator/internal/store/postgres"
	"github.com/nexus-orchestrator/orchestrator/internal/store/qdrant"
	"github.com/nexus-orchestrator/orchestrator/internal/store/rediskv"
	"github.com/nexus-orchestrator/orchestrator/internal/tools"
	"github.com/nexus-orchestrator/orchestrator/internal/tools/exec"
	"github.com/nexus-orchestrator/orchestrator/internal/tools/knowledge"
	"github.com/nexus-orchestrator/orchestrator/internal/tools/websearch"
	"github.com/nexus-orchestrator/orchestrator/internal/vector"
)

// runServe loads configuration, wires every collaborator behind the ports
// interfaces, starts the HTTP server and heartbeat runner, and blocks until a
// shutdown signal arrives (§6.1, §4.8).
func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.Log.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format})
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	kv, err := rediskv.New(ctx, rediskv.Config(cfg.Providers.Redis))
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer kv.Close()

	pool, err := pgxpool.New(ctx, cfg.Providers.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	docStore := postgres.New(pool)
	if err := docStore.Init(ctx); err != nil {
		return fmt.Errorf("init postgres schema: %w", err)
	}

	vectorStore, err := qdrant.New(qdrant.Config(cfg.Providers.Qdrant))
	if err != nil {
		return fmt.Errorf("connect qdrant: %w", err)
	}
	defer vectorStore.Close()

	llm, err := bedrock.New(ctx, bedrock.Config{
		Region:         cfg.Providers.Bedrock.Region,
		EmbeddingModel: cfg.Providers.Bedrock.EmbeddingModel,
	})
	if err != nil {
		return fmt.Errorf("connect bedrock: %w", err)
	}

	memManager := memory.NewManager(docStore, tokenCounter{}, llm, memory.Config{
		DefaultContextTokens:   cfg.Memory.DefaultContextTokens,
		SummarizeAfterMessages: cfg.Memory.SummarizeAfterMessages,
	}, slog.Default())
	summarizer := memory.NewSummarizer(memManager, memory.SummarizeConfig{
		Model:    cfg.Models.SummarizerModel,
		PollCron: cfg.Memory.SummarizePollCron,
	})
	summarizer.Start(ctx)
	defer summarizer.Stop()

	publisher := events.NewPublisher(kv)
	registry := tools.NewRegistry(publisher, metrics, logger, 30*time.Second)

	vectorService := vector.NewService(vectorStore, llm, vector.Config{
		ChunkSize:    cfg.Vector.ChunkSize,
		ChunkOverlap: cfg.Vector.ChunkOverlap,
		TopK:         cfg.Vector.TopK,
	})

	toolServers := []ports.ToolServer{
		exec.NewServer(exec.Config{Timeout: time.Duration(cfg.Tools.ShellTimeoutSeconds) * time.Second, MaxOutputBytes: cfg.Tools.ShellOutputMaxBytes}),
		websearch.NewServer(websearch.Config{
			SearchTimeout: time.Duration(cfg.Tools.SearchTimeoutSeconds) * time.Second,
			FetchTimeout:  time.Duration(cfg.Tools.FetchTimeoutSeconds) * time.Second,
		}, logger),
		knowledge.NewServer(vectorService),
	}
	for _, server := range toolServers {
		if err := registry.RegisterServer(ctx, server); err != nil {
			return fmt.Errorf("register tool server %s: %w", server.Name(), err)
		}
	}

	orc := orchestrator.New(orchestrator.Deps{
		Memory:     memManager,
		Summarizer: summarizer,
		Registry:   registry,
		LLM:        llm,
		Logger:     logger,
		Config:     *cfg,
	})
	if err := orc.RefreshPatterns(ctx, toolServers); err != nil {
		return fmt.Errorf("load precheck patterns: %w", err)
	}
	if err := orc.StartPatternWatch(ctx); err != nil {
		return fmt.Errorf("watch precheck patterns: %w", err)
	}
	defer func() {
		_ = orc.StopPatternWatch()
	}()

	nodeID := uuid.New().String()
	hbRunner := heartbeat.NewRunner(kv, logger, nodeID, heartbeat.Config{
		TTLSeconds:     cfg.Heartbeat.TTLSeconds,
		RefreshSeconds: cfg.Heartbeat.RefreshSeconds,
		RefreshCron:    cfg.Heartbeat.RefreshCron,
	})
	if err := hbRunner.Start(ctx); err != nil {
		return fmt.Errorf("start heartbeat: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		hbRunner.Stop(stopCtx)
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handleHealthz(nodeID))
	mux.Handle("/chat/completions", newChatHandler(orc, logger))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
			return
		}
		errCh <- nil
	}()

	logger.Info(ctx, "orchestrator listening", "addr", addr, "nodeId", nodeID)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info(ctx, "shutdown signal received", "nodeId", nodeID)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

type tokenCounter struct{}

// Count approximates token count at four characters per token, matching the
// teacher's memory budget heuristic for providers with no tokenizer exposed
// locally.
func (tokenCounter) Count(text string) int {
	return (len(text) + 3) / 4
}

func handleHealthz(nodeID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","node_id":%q}`, nodeID)
	}
}
