// ABOUTME: Entry point for the zapflow console server
// ABOUTME: Subcommands: serve, init, seed, health

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/zapflow/zapflow/internal/config"
	"github.com/zapflow/zapflow/internal/gateway"
	"github.com/zapflow/zapflow/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                   __ _
 ______ _ _ __    / _| | _____      __
|_  / _' | '_ \  | |_| |/ _ \ \ /\ / /
 / / (_| | |_) | |  _| | (_) \ V  V /
/___\__,_| .__/  |_| |_|\___/ \_/\_/
         |_|
`

const defaultConfig = `server:
  http_addr: "127.0.0.1:8080"

database:
  path: "zapflow.db"

auth:
  jwt_secret: "${ZAPFLOW_JWT_SECRET}"
  token_ttl: "24h"

simulator:
  enabled: true
  min_delay: "2s"
  max_delay: "4s"

gemini:
  api_key: "${GEMINI_API_KEY}"
  model: "gemini-2.5-flash"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
  path: "/metrics"
`

// getConfigPath returns the path to the config file.
// Priority: ZAPFLOW_CONFIG env var > XDG_CONFIG_HOME/zapflow/zapflow.yaml > ~/.config/zapflow/zapflow.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ZAPFLOW_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "zapflow.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "zapflow", "zapflow.yaml")
}

func main() {
	// Optional .env for local development; absence is fine
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: zapflow <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve   Start the console server")
		fmt.Println("  init    Create a new config file")
		fmt.Println("  seed    Reset all collections to seed data")
		fmt.Println("  health  Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "seed":
		err = runSeed(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	color.New(color.FgCyan).Print(banner)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Simulator.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Simulator: %s–%s delay\n", cfg.Simulator.MinDelay, cfg.Simulator.MaxDelay)
	}
	fmt.Println()

	logger.Info("starting zapflow",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runInit() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(defaultConfig), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Created %s\n", configPath)
	return nil
}

// runSeed overwrites every persisted collection with seed data.
func runSeed(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	blobs, err := store.NewSQLiteBlobs(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}
	defer blobs.Close()

	logger := slog.Default()
	store.SaveCollection(blobs, store.KeyUsers, store.SeedUsers(), logger)
	store.SaveCollection(blobs, store.KeyCompanies, store.SeedCompanies(), logger)
	store.SaveCollection(blobs, store.KeyChats, store.SeedChats(), logger)
	store.SaveCollection(blobs, store.KeyScheduledMessages, store.SeedScheduledMessages(), logger)

	fmt.Println("Collections reset to seed data")
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&colorHandler{level: level})
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu    sync.Mutex
	level slog.Level
	attrs []slog.Attr
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString(color.CyanString("INF "))
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{level: h.level, attrs: newAttrs}
}

func (h *colorHandler) WithGroup(string) slog.Handler {
	return h
}
