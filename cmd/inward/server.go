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

	"github.com/inward-app/inward/internal/api"
	"github.com/inward-app/inward/internal/catalog"
	"github.com/inward-app/inward/internal/coaching"
	"github.com/inward-app/inward/internal/config"
	"github.com/inward-app/inward/internal/effectiveness"
	"github.com/inward-app/inward/internal/profile"
	"github.com/inward-app/inward/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the inward server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running inward server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show inward system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "inward.pid")
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
	fmt.Fprintf(os.Stderr, "inward version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	apiToken, err := config.GetAPIToken()
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("inward is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("inward is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Wire the coaching engine.
	cat := catalog.New(store)
	profiles := profile.NewManager(store)
	recorder := effectiveness.NewRecorder(store)
	coach := coaching.NewCoach(cat, profiles, recorder)

	// Seed the catalog if configured.
	if cfg.Catalog.SeedFile != "" {
		f, err := os.Open(cfg.Catalog.SeedFile)
		if err != nil {
			return fmt.Errorf("opening catalog seed file: %w", err)
		}
		result, err := cat.Import(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("importing catalog seed: %w", err)
		}
		slog.Info("catalog seeded", "protocols", result.Protocols, "rules", result.Rules)
	}

	appHandler := api.NewAppHandler(api.AppDeps{
		Coach:         coach,
		Catalog:       cat,
		Profiles:      profiles,
		Effectiveness: store,
		Token:         apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// Start rollup worker and repair success rates from the log.
	worker := effectiveness.NewWorker(store, profiles, time.Duration(cfg.Worker.PollIntervalMS)*time.Millisecond)
	go worker.Run(ctx)
	go func() {
		if err := worker.RecomputeAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("startup success-rate recompute failed", "error", err)
		}
	}()

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Coach:    coach,
		Profiles: profiles,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "inward listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
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
		printError("inward is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop inward (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to inward (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	fmt.Fprintln(os.Stderr, colorize(colorBold, "inward status"))

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := healthClient.Get(healthURL)
	if err != nil {
		printStatus("server", "not running")
		return nil
	}
	resp.Body.Close()
	printStatus("server", "running on port %d", cfg.Server.Port)

	if pid, err := readPIDFile(pidFilePath(cfg.Storage.DataDir)); err == nil {
		printStatus("pid", "%d", pid)
	}
	printStatus("data dir", "%s", cfg.Storage.DataDir)

	client, err := newAPIClient()
	if err != nil {
		return nil
	}
	protoResp, err := client.get(context.Background(), "/v1/catalog/protocols")
	if err != nil {
		return nil
	}
	var protos struct {
		Protocols []any `json:"protocols"`
	}
	if err := decodeJSON(protoResp, &protos); err == nil {
		printStatus("protocols", "%d", len(protos.Protocols))
	}
	return nil
}
