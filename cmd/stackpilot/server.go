package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/stackpilot/internal/agent"
	"github.com/kalambet/stackpilot/internal/api"
	"github.com/kalambet/stackpilot/internal/auth"
	"github.com/kalambet/stackpilot/internal/config"
	"github.com/kalambet/stackpilot/internal/ingest"
	"github.com/kalambet/stackpilot/internal/intent"
	"github.com/kalambet/stackpilot/internal/llm"
	"github.com/kalambet/stackpilot/internal/metrics"
	"github.com/kalambet/stackpilot/internal/ollama"
	"github.com/kalambet/stackpilot/internal/ratelimit"
	"github.com/kalambet/stackpilot/internal/reranking"
	"github.com/kalambet/stackpilot/internal/retrieval"
	"github.com/kalambet/stackpilot/internal/storage"
	"github.com/kalambet/stackpilot/internal/tools"
)

const (
	shutdownTimeout = 5 * time.Second
	toolTimeout     = 15 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the stackpilot server and indexing worker (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running stackpilot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stackpilot system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "stackpilot.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// app holds the wired collaborators shared by serve and mcp.
type app struct {
	deps   api.Deps
	store  *storage.Store
	worker *ingest.Worker
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("closing storage", "error", err)
	}
}

// buildApp opens storage and wires the completion client, embedder, search,
// agent service and auth. Progress is written to w.
func buildApp(ctx context.Context, cfg config.Config, w io.Writer) (*app, error) {
	completion := llm.New(cfg.Completion.APIKey, cfg.Completion.BaseURL)

	var backend retrieval.Backend
	switch cfg.Embedding.Provider {
	case "ollama":
		oc := ollama.New(cfg.Embedding.OllamaURL)
		if err := ollama.EnsureReady(ctx, oc, cfg.Embedding.Model, w); err != nil {
			return nil, err
		}
		backend = oc
	default:
		backend = retrieval.LLMBackend(completion)
	}
	embedder := retrieval.NewEmbedder(backend, cfg.Embedding.Model)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	tokens, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating token issuer: %w", err)
	}

	m := metrics.New()
	searcher := retrieval.NewSearcher(store, embedder)
	knowledge := retrieval.NewKnowledge(searcher)
	if cfg.Knowledge.Rerank {
		knowledge.WithReranker(reranking.New(completion, cfg.Completion.Model, true,
			cfg.Knowledge.RerankTimeout, cfg.Knowledge.RerankThreshold))
	}
	files := ingest.NewFiles(filepath.Join(cfg.Storage.DataDir, "files"))
	toolOpts := tools.Options{HTTP: tools.NewHTTPClient(toolTimeout), Logger: slog.Default()}

	agents := agent.NewService(agent.Deps{
		Store:     store,
		LLM:       completion,
		Tools:     toolOpts,
		Knowledge: knowledge,
		Extractor: intent.NewExtractor(completion, cfg.Completion.Model),
		Metrics:   m,
		Settings: agent.Settings{
			Model:       cfg.Completion.Model,
			Temperature: cfg.Completion.Temperature,
			MaxTokens:   cfg.Completion.MaxTokens,
			MaxSteps:    cfg.Completion.MaxSteps,
		},
		Logger: slog.Default(),
	})

	return &app{
		deps: api.Deps{
			Store:       store,
			Agents:      agents,
			Searcher:    searcher,
			Knowledge:   knowledge,
			Tokens:      tokens,
			Limiter:     ratelimit.New(),
			Metrics:     m,
			Files:       files,
			Tools:       toolOpts,
			PublicURL:   strings.TrimRight(cfg.Server.PublicURL, "/"),
			CORSOrigins: cfg.Server.Origins(),
		},
		store:  store,
		worker: ingest.NewWorker(store, files, embedder, cfg.Ingest.PollInterval, m),
	}, nil
}

func runServer() error {
	fmt.Fprintln(os.Stderr, versionString())

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	// Refuse to start twice.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("stackpilot is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("stackpilot is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(a.deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go a.worker.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("stackpilot listening", "addr", addr, "public_url", a.deps.PublicURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.LoadPublic()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("stackpilot is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("could not stop stackpilot (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to stackpilot (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.LoadPublic()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	base := serverURL
	if base == "" {
		base = fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	}

	running := false
	resp, err := client.Get(base + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running at %s", base)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}
	if pid, err := readPIDFile(pidFilePath(cfg.Storage.DataDir)); err == nil {
		printStatus("PID", "%d", pid)
	}

	printStatus("Public URL", "%s", cfg.Server.PublicURL)
	printStatus("Completion", "%s (%s)", cfg.Completion.Model, cfg.Completion.BaseURL)
	printStatus("Embedding", "%s via %s", cfg.Embedding.Model, cfg.Embedding.Provider)
	if cfg.Embedding.Provider == "ollama" {
		if ollama.New(cfg.Embedding.OllamaURL).IsRunning(context.Background()) {
			printStatus("Ollama", "running at %s", cfg.Embedding.OllamaURL)
		} else {
			printStatus("Ollama", "not running")
		}
	}

	if running && (tokenFlag != "" || os.Getenv("STACKPILOT_TOKEN") != "") {
		if c, err := newAPIClient(); err == nil {
			printCount(c, "Products", "/api/products")
			printCount(c, "Agents", "/api/agents")
			printCount(c, "Collections", "/api/collections")
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func printCount(c *apiClient, label, path string) {
	resp, err := c.get(context.Background(), path)
	if err != nil {
		return
	}
	var items []map[string]any
	if decodeJSON(resp, &items) == nil {
		printStatus(label, "%d", len(items))
	}
}
