package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matiasleandrokruk/lightspeed/internal/api"
	"github.com/matiasleandrokruk/lightspeed/internal/server"
)

const shutdownTimeout = 30 * time.Second

func runServe(args []string, out io.Writer) int {
	fs, common := newFlagSet("serve")
	if code, done := parseFlags(fs, common, args, out); done {
		return code
	}

	cfg, logger, err := loadConfig(*common.configPath)
	if err != nil {
		fmt.Fprintf(out, "serve: %v\n", err) //nolint:errcheck
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		return 1
	}
	// The index loads in the background; /readiness reports when it is done.
	go a.index.Load(ctx)

	srv := server.NewServer(api.NewRouter(cfg.Service, a.routerDeps()), server.ConfigFrom(cfg), logger, a.shutdownOrder()...)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	code := 0
	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
			code = 1
		}
	case <-ctx.Done():
		logger.Info("signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", slog.String("error", err.Error()))
		code = 1
	}
	return code
}
