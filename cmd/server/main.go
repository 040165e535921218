package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/accessd/internal/app"
	"github.com/charlesng35/accessd/pkg/logger"
)

const defaultShutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "accessd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	return runWithOutput(ctx, args, os.Stdout)
}

func runWithOutput(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("accessd", flag.ContinueOnError)
	fs.SetOutput(out)

	configPath := fs.String("config", "", "path to a config directory or config.yaml")
	checkOnly := fs.Bool("check", false, "validate the configuration and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(*configPath)
	if err != nil {
		return err
	}
	generated, err := app.ApplyRuntimeDefaults(cfg)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if *checkOnly {
		fmt.Fprintf(out, "configuration ok (database=%s, rate_limit=%s)\n", cfg.Database.Driver, rateLimitSummary(cfg.Server.RateLimit))
		return nil
	}

	if err := app.ConfigureLogging(cfg.Server); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync()

	log := logger.WithModule("bootstrap")
	for _, key := range generated {
		log.Warn("setting generated at startup", zap.String("key", key))
	}

	stack, err := bootstrapRuntime(cfg, log)
	if err != nil {
		return err
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           stack.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return serve(ctx, server, stack, timeout, log)
}

// serve runs server until ctx is cancelled or it fails, then drains HTTP traffic,
// background jobs and pending notifications within timeout.
func serve(ctx context.Context, server *http.Server, stack *runtimeStack, timeout time.Duration, log *zap.Logger) error {
	listenErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		listenErr <- server.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-listenErr:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if serveErr == nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			serveErr = fmt.Errorf("graceful shutdown: %w", err)
		}
	}
	stack.Shutdown(shutdownCtx, log)

	if serveErr == nil {
		log.Info("server stopped")
	}
	return serveErr
}

func rateLimitSummary(cfg app.RateLimitConfig) string {
	if !cfg.Enabled {
		return "off"
	}
	backend := strings.TrimSpace(cfg.Backend)
	if backend == "" {
		backend = "memory"
	}
	return fmt.Sprintf("%d/%s via %s", cfg.Requests, cfg.Window, backend)
}

// loadApplicationConfig accepts either a directory holding config.yaml or the file
// itself. An empty path searches ./config.
func loadApplicationConfig(path string) (*app.Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return app.LoadConfig()
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config path %q does not exist", path)
	case err != nil:
		return nil, fmt.Errorf("stat config path: %w", err)
	case info.IsDir():
		return app.LoadConfig(path)
	default:
		return app.LoadConfig(filepath.Dir(path))
	}
}
