package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/acme/click-to-call-bridge/internal/api"
	"github.com/acme/click-to-call-bridge/internal/api/handlers"
	"github.com/acme/click-to-call-bridge/internal/app"
	"github.com/acme/click-to-call-bridge/internal/telemetry"
)

func main() {
	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("bridge terminated: %v", err)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	container, err := app.Build(ctx, configPath)
	if err != nil {
		return fmt.Errorf("bootstrap application: %w", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		return fmt.Errorf("ensure kafka topics: %w", err)
	}
	if err := container.Init(); err != nil {
		return fmt.Errorf("initialize components: %w", err)
	}

	lg := container.Logger
	g, gctx := errgroup.WithContext(ctx)

	if sip := container.Signaling(); sip != nil {
		g.Go(func() error { return sip.ListenAndServe(gctx) })
	} else {
		lg.Warn("sip listener disabled; only the mock provider can deliver callbacks")
	}

	if reaper := container.Reaper(); reaper != nil {
		g.Go(func() error { return reaper.Run(gctx) })
	}

	server := api.NewServer(container.Config.HTTP, handlers.NewHandlerSet(container))
	g.Go(func() error {
		lg.Info("http server starting", zap.Int("port", container.Config.HTTP.Port))
		return server.Start(gctx)
	})

	return g.Wait()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
