package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/circlecam/internal/acquire"
	"github.com/mikeyg42/circlecam/internal/api"
	"github.com/mikeyg42/circlecam/internal/config"
	"github.com/mikeyg42/circlecam/internal/fault"
	"github.com/mikeyg42/circlecam/internal/framestream"
	"github.com/mikeyg42/circlecam/internal/gui"
	"github.com/mikeyg42/circlecam/internal/loop"
	"github.com/mikeyg42/circlecam/internal/render"
	"github.com/mikeyg42/circlecam/internal/state"
	"github.com/mikeyg42/circlecam/internal/vision"
)

// Application struct that holds all components
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	state    *state.AppState
	loader   *vision.Loader
	sink     *framestream.Sink
	surface  *render.Surface
	acquirer *acquire.Acquirer
	loop     *loop.Loop
	server   *api.Server
	wg       sync.WaitGroup
}

func NewApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	backend, open, err := resolveBackend(cfg.Vision.Backend)
	if err != nil {
		return nil, err
	}

	appState := state.New(cfg.Detection.Params())
	surface := render.NewSurface()
	surface.Resize(cfg.Camera.Width, cfg.Camera.Height)
	sink := framestream.NewSink(logger.Named("sink"))

	app := &Application{
		config:  cfg,
		logger:  logger,
		state:   appState,
		sink:    sink,
		surface: surface,
	}

	logger.Info("Loading vision library", zap.String("backend", backend))
	app.loader = vision.Load(ctx, open,
		func(lib vision.Library) {
			appState.Telemetry.SetBackend(lib.Name())
			appState.SetVisionReady()
		},
		func(err error) {
			appState.Telemetry.SetStatus(fault.Message(fault.VisionLibraryError), fault.VisionLibraryError)
		},
		logger.Named("vision"))

	app.acquirer = acquire.New(acquire.NewMediaDevices(), sink, appState, surface, cfg.Camera.Constraints(),
		acquire.WithMetadataTimeout(cfg.Camera.MetadataTimeout),
		acquire.WithLogger(logger.Named("acquire")))

	app.loop = loop.New(appState, sink, app.loader, surface,
		loop.WithScheduler(loop.NewTicker(cfg.Loop.Interval)),
		loop.WithLogger(logger.Named("loop")))

	app.server = api.NewServer(ctx, cfg.Server, appState, app.acquirer, surface, logger.Named("api"))
	return app, nil
}

// Run starts every component and blocks until ctx is cancelled or the UI
// window is closed.
func (app *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := net.Listen("tcp", app.config.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.config.Server.ListenAddr, err)
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- app.server.Serve(ln)
	}()

	app.wg.Add(2)
	go func() {
		defer app.wg.Done()
		if err := app.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			app.logger.Error("Frame loop stopped", zap.Error(err))
		}
	}()
	go func() {
		defer app.wg.Done()
		// Failures are already on the status line; the UI offers retry.
		if err := app.acquirer.Start(ctx); err != nil {
			app.logger.Warn("Initial camera acquisition failed", zap.Error(err))
		}
	}()

	url := app.uiURL()
	app.logger.Info("Circle camera ready", zap.String("url", url))

	if app.config.Window.Enabled {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.runWindow(ctx, cancel, url)
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server failed: %w", err)
		}
	}
	return nil
}

func (app *Application) runWindow(ctx context.Context, cancel context.CancelFunc, url string) {
	if err := waitForServer(ctx, url+"api/health", 10*time.Second); err != nil {
		app.logger.Error("API server did not become ready", zap.Error(err))
		return
	}
	w, err := gui.Open(url, app.config.Window.Width, app.config.Window.Height, app.logger.Named("gui"))
	if err != nil {
		app.logger.Warn("Could not open UI window, use a browser instead", zap.String("url", url), zap.Error(err))
		return
	}
	if w.Wait(ctx) {
		cancel()
	}
}

func (app *Application) uiURL() string {
	scheme := "http"
	if app.config.Server.TLSEnabled() {
		scheme = "https"
	}
	host, port, err := net.SplitHostPort(app.config.Server.ListenAddr)
	if err != nil {
		return fmt.Sprintf("%s://%s/", scheme, app.config.Server.ListenAddr)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("%s://%s/", scheme, net.JoinHostPort(host, port))
}

// Cleanup stops the server, the camera and the vision library in that order.
func (app *Application) Cleanup() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		app.logger.Warn("API server shutdown failed", zap.Error(err))
	}

	app.acquirer.Close()
	app.wg.Wait()
	if err := app.loader.Close(); err != nil {
		app.logger.Warn("Vision library close failed", zap.Error(err))
	}
	app.logger.Info("Shutdown complete",
		zap.Int64("frames_processed", app.loop.Frames()),
		zap.Int64("frames_received", app.sink.Stats().TotalFrames))
}
