// Package native is a pure-Go circle-detection backend for hosts without
// OpenCV. Filtering is done with bild; detection is a gradient Hough
// transform that takes the same parameters as cv::HoughCircles.
package native

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"

	"github.com/mikeyg42/circlecam/internal/vision"
)

// Name is the registry name of this backend.
const Name = "native"

func init() {
	vision.Register(Name, Open)
}

// Library implements vision.Library on image.Image buffers.
type Library struct{}

// Open returns the native backend. It has nothing to load.
func Open(ctx context.Context) (vision.Library, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Library{}, nil
}

func (l *Library) Name() string { return Name }

func (l *Library) FromImage(img image.Image) (vision.Buffer, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errors.New("native: empty frame")
	}
	return &buffer{img: imaging.Clone(img)}, nil
}

func (l *Library) Grayscale(src vision.Buffer) (vision.Buffer, error) {
	img, err := asImage(src)
	if err != nil {
		return nil, err
	}
	return &buffer{img: toGray(effect.Grayscale(img))}, nil
}

func (l *Library) MedianBlur(src vision.Buffer, ksize int) (vision.Buffer, error) {
	img, err := asImage(src)
	if err != nil {
		return nil, err
	}
	return &buffer{img: toGray(effect.Median(img, float64(ksize/2)))}, nil
}

func (l *Library) GaussianBlur(src vision.Buffer, ksize int) (vision.Buffer, error) {
	img, err := asImage(src)
	if err != nil {
		return nil, err
	}
	return &buffer{img: toGray(blur.Gaussian(img, float64(ksize)/3))}, nil
}

func (l *Library) DetectCircles(gray vision.Buffer, method vision.Method, dp, minDist, param1, param2 float64, minRadius, maxRadius int) ([]vision.Circle, error) {
	img, err := asImage(gray)
	if err != nil {
		return nil, err
	}
	g, ok := img.(*image.Gray)
	if !ok {
		return nil, fmt.Errorf("native: circle detection needs a grayscale buffer, got %T", img)
	}
	if method != vision.HoughGradient {
		return nil, fmt.Errorf("native: unsupported detection method %d", method)
	}
	return houghCircles(g, dp, minDist, param1, param2, minRadius, maxRadius), nil
}

func (l *Library) Close() error { return nil }

type buffer struct {
	img    image.Image
	closed bool
}

func (b *buffer) Width() int  { return b.img.Bounds().Dx() }
func (b *buffer) Height() int { return b.img.Bounds().Dy() }

func (b *buffer) Image() (image.Image, error) {
	if b.closed {
		return nil, errors.New("native: buffer already closed")
	}
	return b.img, nil
}

func (b *buffer) Close() error {
	b.closed = true
	return nil
}

// toGray returns img as a single-channel image with its origin at (0, 0).
// bild filters hand back RGBA even for gray input.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Rect, img, b.Min, draw.Src)
	return g
}

func asImage(buf vision.Buffer) (image.Image, error) {
	b, ok := buf.(*buffer)
	if !ok {
		return nil, fmt.Errorf("native: foreign buffer type %T", buf)
	}
	if b.closed {
		return nil, errors.New("native: buffer already closed")
	}
	return b.img, nil
}
