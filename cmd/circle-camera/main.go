package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/pion/mediadevices/pkg/driver/camera"

	"github.com/mikeyg42/circlecam/internal/applog"
	"github.com/mikeyg42/circlecam/internal/config"
	"github.com/mikeyg42/circlecam/internal/validate"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML or JSON config file (default $CONFIG_FILE)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	backend := flag.String("backend", "", "Vision backend: auto, opencv or native (overrides config)")
	window := flag.Bool("window", false, "Open the UI in a Chrome app window")
	flag.Parse()

	cfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.ListenAddr = *addr
	}
	if *backend != "" {
		cfg.Vision.Backend = *backend
	}
	if *window {
		cfg.Window.Enabled = true
	}
	if err := validate.ValidateConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, _, err := applog.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	restore := applog.Install(logger)
	defer restore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApplication(ctx, cfg, logger)
	if err != nil {
		logger.Sugar().Errorf("Failed to create application: %v", err)
		os.Exit(1)
	}
	defer app.Cleanup()

	if err := app.Run(ctx); err != nil {
		logger.Sugar().Errorf("Application stopped with error: %v", err)
		os.Exit(1)
	}
}
