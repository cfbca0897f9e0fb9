// Package vision defines the boundary to the computer-vision library used
// for circle detection. The library itself is opaque: callers hand it
// frame-scoped buffers and get circle geometry back.
package vision

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"
)

// Circle is one detection in capture-surface pixel coordinates.
type Circle struct {
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Radius float32 `json:"radius"`
}

// Method selects the Hough variant. Values match OpenCV's HOUGH_* constants.
type Method int

const (
	HoughGradient    Method = 3
	HoughGradientAlt Method = 4
)

// Buffer is an image resource valid for one loop iteration. It must be
// closed by its owner on every path.
type Buffer interface {
	Width() int
	Height() int
	// Image returns a Go copy of the buffer contents.
	Image() (image.Image, error)
	Close() error
}

// Library is a circle-detection backend. Buffers returned by one call are
// owned by the caller.
type Library interface {
	Name() string
	FromImage(img image.Image) (Buffer, error)
	Grayscale(src Buffer) (Buffer, error)
	MedianBlur(src Buffer, ksize int) (Buffer, error)
	GaussianBlur(src Buffer, ksize int) (Buffer, error)
	DetectCircles(gray Buffer, method Method, dp, minDist, param1, param2 float64, minRadius, maxRadius int) ([]Circle, error)
	Close() error
}

// Opener initialises a backend. It may block for as long as the library
// needs to load.
type Opener func(ctx context.Context) (Library, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Opener)
)

// Register makes a backend available by name. Backends call it from init.
func Register(name string, open Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if open == nil {
		panic("vision: Register opener is nil")
	}
	if _, dup := registry[name]; dup {
		panic("vision: Register called twice for backend " + name)
	}
	registry[name] = open
}

// Lookup returns the opener registered under name.
func Lookup(name string) (Opener, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	open, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("vision: unknown backend %q (available: %v)", name, backendsLocked())
	}
	return open, nil
}

// Backends lists the registered backend names.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return backendsLocked()
}

func backendsLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
