package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"katalog/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	lg, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Fatal("Server failed", zap.Error(err))
	}
	lg.Info("Server gracefully stopped")
}

func run(ctx context.Context, cfg *config.Config, lg *zap.Logger) error {
	app, err := NewApp(cfg, lg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			lg.Warn("Failed to release resources", zap.Error(err))
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Starting server", zap.String("addr", cfg.AppPort), zap.String("env", cfg.AppEnv))
		return app.Fiber.Listen(cfg.AppPort)
	})
	g.Go(func() error {
		<-ctx.Done()
		lg.Info("Shutting down server", zap.Duration("timeout", cfg.ShutdownTimeout))
		return app.Fiber.ShutdownWithTimeout(cfg.ShutdownTimeout)
	})
	return g.Wait()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}
