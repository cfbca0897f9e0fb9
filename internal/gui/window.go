// Package gui opens the web UI in a chromeless Chrome window via lorca.
package gui

import (
	"context"
	"errors"
	"fmt"

	"github.com/zserge/lorca"
	"go.uber.org/zap"
)

// ErrNoChrome is returned when no Chrome or Chromium install can be found.
var ErrNoChrome = errors.New("gui: Chrome/Chromium not found")

// launcher creates the browser window. Tests replace it.
var launcher = func(url string, width, height int) (lorca.UI, error) {
	if lorca.LocateChrome() == "" {
		return nil, ErrNoChrome
	}
	return lorca.New(url, "", width, height)
}

// Window is an open UI window.
type Window struct {
	ui     lorca.UI
	logger *zap.Logger
}

// Open shows url in an app window of the given size.
func Open(url string, width, height int, logger *zap.Logger) (*Window, error) {
	if logger == nil {
		logger = zap.L().Named("gui")
	}
	ui, err := launcher(url, width, height)
	if err != nil {
		return nil, fmt.Errorf("failed to create GUI window: %w", err)
	}
	w := &Window{ui: ui, logger: logger}

	// The page calls closeWindow() from its own close control.
	if err := ui.Bind("closeWindow", func() { w.ui.Close() }); err != nil {
		ui.Close()
		return nil, fmt.Errorf("failed to bind GUI functions: %w", err)
	}
	logger.Info("UI window opened", zap.String("url", url), zap.Int("width", width), zap.Int("height", height))
	return w, nil
}

// Wait blocks until the window is closed or ctx is done, and reports
// whether the user closed it.
func (w *Window) Wait(ctx context.Context) bool {
	select {
	case <-w.ui.Done():
		w.logger.Info("UI window closed by user")
		return true
	case <-ctx.Done():
		w.Close()
		return false
	}
}

// Close closes the window.
func (w *Window) Close() error {
	return w.ui.Close()
}
