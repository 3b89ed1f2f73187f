// Command rcactl runs indexing and analysis from the terminal without the
// HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"logrca/internal/app"
	"logrca/internal/config"
	"logrca/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(loadApp).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadApp builds the application from the environment. Logs go to stderr so
// command output stays parseable.
func loadApp(ctx context.Context, level string) (*app.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if level == "" {
		level = cfg.LogLevel
	}
	slog.SetDefault(logger.New(os.Stderr, level))

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cfg, deps)
	if err != nil {
		_ = deps.Close()
		return nil, nil, err
	}
	return a, func() {
		_ = a.Close()
		_ = deps.Close()
	}, nil
}
