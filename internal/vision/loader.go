package vision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotLoaded is returned when the library is used before it is ready.
var ErrNotLoaded = errors.New("vision library not loaded")

// Loader initialises a backend on its own goroutine and reports readiness
// through a callback, the way the page learned that OpenCV had finished
// loading.
type Loader struct {
	logger *zap.Logger

	mu   sync.RWMutex
	lib  Library
	err  error
	done chan struct{}
}

// Load starts initialising the backend. onReady is called once, from the
// loader goroutine, after the library is usable. onError is called instead
// if initialisation fails. Either callback may be nil.
func Load(ctx context.Context, open Opener, onReady func(Library), onError func(error), logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.L().Named("vision")
	}
	l := &Loader{logger: logger, done: make(chan struct{})}

	go func() {
		defer close(l.done)
		start := time.Now()

		lib, err := safeOpen(ctx, open)
		l.mu.Lock()
		l.lib, l.err = lib, err
		l.mu.Unlock()

		if err != nil {
			l.logger.Error("Vision library failed to load", zap.Error(err))
			if onError != nil {
				onError(err)
			}
			return
		}
		l.logger.Info("Vision library ready",
			zap.String("backend", lib.Name()),
			zap.Duration("elapsed", time.Since(start)))
		if onReady != nil {
			onReady(lib)
		}
	}()
	return l
}

// safeOpen turns a panic inside a backend's initialisation into an error.
func safeOpen(ctx context.Context, open Opener) (lib Library, err error) {
	defer func() {
		if r := recover(); r != nil {
			lib, err = nil, fmt.Errorf("vision backend panicked during init: %v", r)
		}
	}()
	lib, err = open(ctx)
	if err == nil && lib == nil {
		err = errors.New("vision backend returned no library")
	}
	return lib, err
}

// Library returns the loaded library, or false while loading or on failure.
func (l *Loader) Library() (Library, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lib, l.lib != nil
}

// Done is closed when loading has finished, successfully or not.
func (l *Loader) Done() <-chan struct{} { return l.done }

// Err returns the initialisation error, if any.
func (l *Loader) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// Close waits for loading to finish and releases the library.
func (l *Loader) Close() error {
	<-l.done
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lib == nil {
		return nil
	}
	err := l.lib.Close()
	l.lib = nil
	return err
}
