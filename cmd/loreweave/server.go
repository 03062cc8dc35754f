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
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/loreweave/loreweave/internal/api"
	"github.com/loreweave/loreweave/internal/cache"
	"github.com/loreweave/loreweave/internal/config"
	"github.com/loreweave/loreweave/internal/conflict"
	"github.com/loreweave/loreweave/internal/content"
	"github.com/loreweave/loreweave/internal/dispatch"
	"github.com/loreweave/loreweave/internal/prompt"
	"github.com/loreweave/loreweave/internal/provider"
	"github.com/loreweave/loreweave/internal/resilience"
	"github.com/loreweave/loreweave/internal/story"
	"github.com/loreweave/loreweave/internal/world"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the loreweave server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running loreweave server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show loreweave system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "loreweave.pid")
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
	fmt.Fprintf(os.Stderr, "loreweave version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(os.Getenv("LOREWEAVE_LOG_LEVEL"), "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// Refuse a second instance: health probe first, PID file second.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("loreweave is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("loreweave is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the world store.
	worldStore, err := world.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening world store: %w", err)
	}
	defer func() {
		if err := worldStore.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing world store: %v\n", err)
		}
	}()

	// Response cache: Redis when configured, in-memory otherwise.
	var store cache.Store
	if cfg.Cache.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
		})
		store = cache.NewRedisStore(client)
		slog.Info("using Redis cache", "addr", cfg.Cache.RedisAddr)
	} else {
		mem := cache.New(cfg.Cache.Capacity)
		mem.StartJanitor(ctx, cfg.Cache.SweepInterval)
		store = mem
	}
	ttl := cache.DefaultTTLPolicy()

	// Resilience plumbing shared by every provider call.
	monitor := resilience.NewMonitor(0, 0)
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.Dispatch.MaxRetries
	breakerCfg := resilience.DefaultBreakerConfig()
	breakerCfg.FailureThreshold = cfg.Dispatch.FailureThreshold
	breakerCfg.ResetTimeout = cfg.Dispatch.ResetTimeout

	dispatcher := dispatch.New(dispatch.Config{
		Cache:   store,
		TTL:     ttl,
		Retry:   retryCfg,
		Breaker: breakerCfg,
		Monitor: monitor,
		Timeout: cfg.Dispatch.RequestTimeout,
	})
	registerProviders(ctx, dispatcher, cfg.Providers)
	if len(dispatcher.Providers()) == 0 {
		printWarning("no providers configured; generation requests will fail until one is")
	}

	registry := prompt.NewRegistry(store, ttl)
	generator := content.NewGenerator(dispatcher, registry, store, ttl, logger)
	resolver := conflict.NewResolver(dispatcher, registry, worldStore, logger)
	agent := story.NewAgent(dispatcher, registry, generator, worldStore, logger)

	deps := api.Deps{
		Dispatcher: dispatcher,
		Registry:   registry,
		Content:    generator,
		Resolver:   resolver,
		Story:      agent,
		Monitor:    monitor,
		Cache:      store,
		AuthToken:  cfg.Server.AuthToken,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
	}

	// MCP server on stdio for agent clients.
	mcpSrv := api.NewMCPServer(deps)
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "loreweave listening on %s\n", addr)
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

// registerProviders adds every provider with credentials, then applies the
// configured primary and fallback order.
func registerProviders(ctx context.Context, d *dispatch.Dispatcher, cfg config.ProvidersConfig) {
	var names []string

	if cfg.OpenAIKey != "" {
		d.Register(provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:  cfg.OpenAIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		}))
		names = append(names, "openai")
	}
	if cfg.AnthropicKey != "" {
		d.Register(provider.NewAnthropic(provider.AnthropicConfig{
			APIKey: cfg.AnthropicKey,
			Model:  cfg.AnthropicModel,
		}))
		names = append(names, "anthropic")
	}
	if cfg.GeminiKey != "" {
		g, err := provider.NewGemini(ctx, provider.GeminiConfig{
			APIKey: cfg.GeminiKey,
			Model:  cfg.GeminiModel,
		})
		if err != nil {
			slog.Warn("skipping Gemini provider", "error", err)
		} else {
			d.Register(g)
			names = append(names, "gemini")
		}
	}
	// Local Ollama needs no credentials; availability is probed at dispatch.
	d.Register(provider.NewOllama(provider.OllamaConfig{
		BaseURL: cfg.OllamaBaseURL,
		Model:   cfg.OllamaModel,
	}))
	names = append(names, "ollama")

	if err := d.SetPrimary(cfg.Primary); err != nil {
		slog.Warn("configured primary not registered, keeping first registered", "primary", cfg.Primary)
	}
	var fallbacks []string
	for _, name := range names {
		if name != cfg.Primary {
			fallbacks = append(fallbacks, name)
		}
	}
	if len(cfg.Fallbacks) > 0 {
		fallbacks = cfg.Fallbacks
	}
	d.SetFallbacks(fallbacks...)
	slog.Info("providers registered", "providers", names, "primary", cfg.Primary)
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
		printError("loreweave is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop loreweave (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to loreweave (PID %d)", pid)
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
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Primary provider", "%s", cfg.Providers.Primary)
	for name, key := range map[string]string{
		"OpenAI":    cfg.Providers.OpenAIKey,
		"Anthropic": cfg.Providers.AnthropicKey,
		"Gemini":    cfg.Providers.GeminiKey,
	} {
		if key != "" {
			printStatus(name, "configured")
		} else {
			printStatus(name, "no API key")
		}
	}
	printStatus("Ollama", "%s (%s)", cfg.Providers.OllamaBaseURL, cfg.Providers.OllamaModel)

	if cfg.Cache.RedisAddr != "" {
		printStatus("Cache", "redis at %s", cfg.Cache.RedisAddr)
	} else {
		printStatus("Cache", "in-memory, capacity %d", cfg.Cache.Capacity)
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
