package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/paperlens/paperlens/internal/analysis"
	"github.com/paperlens/paperlens/internal/api"
	"github.com/paperlens/paperlens/internal/cache"
	"github.com/paperlens/paperlens/internal/chat"
	"github.com/paperlens/paperlens/internal/config"
	"github.com/paperlens/paperlens/internal/index"
	"github.com/paperlens/paperlens/internal/llm"
	"github.com/paperlens/paperlens/internal/paper"
	"github.com/paperlens/paperlens/internal/provider"
	"github.com/paperlens/paperlens/internal/review"
	"github.com/paperlens/paperlens/internal/storage"
	"github.com/paperlens/paperlens/internal/task"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Start the paperlens server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running paperlens server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show paperlens system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "paperlens.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "paperlens version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to start twice; the health check catches a live server whose
	// PID file was lost.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("paperlens is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("paperlens is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	deps, err := buildPipeline(ctx, cfg, store)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
	}

	// MCP over stdio, alongside HTTP.
	stdioSrv := server.NewStdioServer(api.NewMCPServer(deps))
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "paperlens listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildPipeline wires the full analysis pipeline from config.
func buildPipeline(ctx context.Context, cfg config.Config, store *storage.Store) (api.Deps, error) {
	if err := cfg.ValidateProvider(); err != nil {
		return api.Deps{}, err
	}
	ttl, err := cfg.CacheTTL()
	if err != nil {
		return api.Deps{}, err
	}
	// Short-lived cache entries in dev so prompt changes show up quickly.
	if os.Getenv("PAPERLENS_ENV") == "dev" {
		ttl = time.Hour
	}

	var cacheStore cache.Store
	switch cfg.Storage.CacheBackend {
	case "memory":
		cacheStore, err = cache.NewMemory(0)
		if err != nil {
			return api.Deps{}, fmt.Errorf("creating memory cache: %w", err)
		}
	default:
		cacheStore = cache.NewSQLite(store.DB())
	}

	var (
		prov     provider.LLM
		embedder provider.Embedder
	)
	if cfg.Provider.Kind == "mock" {
		mock := provider.NewMock(0)
		prov, embedder = mock, mock
		slog.Warn("using mock model provider; responses are canned")
	} else {
		gemini, err := provider.NewGemini(ctx, cfg.Provider.GeminiAPIKey, cfg.Provider.EmbedModel)
		if err != nil {
			return api.Deps{}, fmt.Errorf("creating Gemini client: %w", err)
		}
		prov, embedder = gemini, gemini
	}

	fastTier := llm.FastTier(cfg.Provider.FastModel)
	deepTier := llm.DeepTier(cfg.Provider.DeepModel)

	indexes := index.NewManager(
		embedder,
		index.NewSQLiteChunkStore(store.DB()),
		cfg.Index.ChunkSize,
		cfg.Index.ChunkOverlap,
	)

	uploadDir := cfg.Storage.UploadDir
	if uploadDir == "" {
		uploadDir = filepath.Join(cfg.Storage.DataDir, "uploads")
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return api.Deps{}, fmt.Errorf("creating upload dir: %w", err)
	}

	return api.Deps{
		Source:   paper.NewDirSource(uploadDir),
		Analyses: analysis.New(cacheStore, prov, fastTier, deepTier, cfg.Analysis.SchemaVersion, ttl),
		Chat:     chat.NewStreamer(indexes, prov, fastTier, cfg.Index.TopK, 0),
		Reviews:  review.NewSynthesizer(indexes, prov, deepTier, cacheStore, cfg.Analysis.SchemaVersion, ttl, cfg.Review.MaxParallel),
		Tasks:    task.NewTracker(ctx),
		Logger:   slog.Default(),
	}, nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("paperlens is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop paperlens (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to paperlens (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		statusLine("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			statusLine("Server", "running on port %d", cfg.Server.Port)
		} else {
			statusLine("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	statusLine("Provider", "%s", cfg.Provider.Kind)
	statusLine("Fast model", "%s", cfg.Provider.FastModel)
	statusLine("Deep model", "%s", cfg.Provider.DeepModel)
	statusLine("Embed model", "%s", cfg.Provider.EmbedModel)
	statusLine("Cache", "%s (TTL %s)", cfg.Storage.CacheBackend, cfg.Storage.CacheTTL)
	statusLine("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
