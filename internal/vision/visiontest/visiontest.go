// Package visiontest provides a resource-counting vision.Library for tests.
package visiontest

import (
	"errors"
	"image"
	"image/draw"
	"sync"

	"github.com/mikeyg42/circlecam/internal/vision"
)

// Call records the arguments of one DetectCircles invocation.
type Call struct {
	Method               vision.Method
	DP, MinDist          float64
	Param1, Param2       float64
	MinRadius, MaxRadius int
	Width, Height        int
}

// Library returns scripted circles and counts every buffer it hands out.
type Library struct {
	mu       sync.Mutex
	circles  []vision.Circle
	failNext error
	panicMsg string
	open     int
	acquired int
	released int
	calls    []Call
	blurs    []string
}

// NewLibrary returns a library that detects the given circles on every frame.
func NewLibrary(circles ...vision.Circle) *Library {
	return &Library{circles: circles}
}

func (l *Library) Name() string { return "visiontest" }

// SetCircles changes the detections returned from now on.
func (l *Library) SetCircles(circles ...vision.Circle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.circles = circles
}

// FailNext makes the next DetectCircles call return err.
func (l *Library) FailNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

// PanicNext makes the next DetectCircles call panic.
func (l *Library) PanicNext(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.panicMsg = msg
}

// Outstanding is the number of buffers handed out and not yet closed.
func (l *Library) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// Acquired is the total number of buffers handed out.
func (l *Library) Acquired() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquired
}

// Released is the total number of buffers closed.
func (l *Library) Released() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

// Calls returns the recorded DetectCircles invocations.
func (l *Library) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Call(nil), l.calls...)
}

// Blurs returns the filters applied, in order.
func (l *Library) Blurs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.blurs...)
}

func (l *Library) newBuffer(img image.Image) *buffer {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open++
	l.acquired++
	return &buffer{lib: l, img: img}
}

func (l *Library) FromImage(img image.Image) (vision.Buffer, error) {
	if img == nil {
		return nil, errors.New("visiontest: nil image")
	}
	return l.newBuffer(img), nil
}

func (l *Library) Grayscale(src vision.Buffer) (vision.Buffer, error) {
	b := src.(*buffer)
	gray := image.NewGray(b.img.Bounds())
	draw.Draw(gray, gray.Bounds(), b.img, b.img.Bounds().Min, draw.Src)
	return l.newBuffer(gray), nil
}

func (l *Library) MedianBlur(src vision.Buffer, ksize int) (vision.Buffer, error) {
	l.mu.Lock()
	l.blurs = append(l.blurs, "median")
	l.mu.Unlock()
	return l.newBuffer(src.(*buffer).img), nil
}

func (l *Library) GaussianBlur(src vision.Buffer, ksize int) (vision.Buffer, error) {
	l.mu.Lock()
	l.blurs = append(l.blurs, "gaussian")
	l.mu.Unlock()
	return l.newBuffer(src.(*buffer).img), nil
}

func (l *Library) DetectCircles(gray vision.Buffer, method vision.Method, dp, minDist, param1, param2 float64, minRadius, maxRadius int) ([]vision.Circle, error) {
	l.mu.Lock()
	l.calls = append(l.calls, Call{
		Method: method, DP: dp, MinDist: minDist,
		Param1: param1, Param2: param2,
		MinRadius: minRadius, MaxRadius: maxRadius,
		Width: gray.Width(), Height: gray.Height(),
	})
	err := l.failNext
	l.failNext = nil
	msg := l.panicMsg
	l.panicMsg = ""
	circles := append([]vision.Circle(nil), l.circles...)
	l.mu.Unlock()

	if msg != "" {
		panic(msg)
	}
	if err != nil {
		return nil, err
	}
	return circles, nil
}

func (l *Library) Close() error { return nil }

type buffer struct {
	lib    *Library
	img    image.Image
	closed bool
}

func (b *buffer) Width() int  { return b.img.Bounds().Dx() }
func (b *buffer) Height() int { return b.img.Bounds().Dy() }

func (b *buffer) Image() (image.Image, error) { return b.img, nil }

func (b *buffer) Close() error {
	b.lib.mu.Lock()
	defer b.lib.mu.Unlock()
	if b.closed {
		return errors.New("visiontest: buffer closed twice")
	}
	b.closed = true
	b.lib.open--
	b.lib.released++
	return nil
}
