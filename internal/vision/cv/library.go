// Package cv is the OpenCV circle-detection backend, built on gocv. Build
// with the nocv tag to leave it out of binaries on hosts without OpenCV.
package cv

import (
	"context"
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/mikeyg42/circlecam/internal/vision"
)

// Name is the registry name of this backend.
const Name = "opencv"

func init() {
	vision.Register(Name, Open)
}

// Library implements vision.Library with gocv Mats as buffers.
type Library struct {
	version string
}

// Open checks the linked OpenCV build by running one detection on a blank
// frame, so a broken install fails here rather than on the first camera
// frame.
func Open(ctx context.Context) (vision.Library, error) {
	lib := &Library{version: gocv.Version()}
	if lib.version == "" {
		return nil, errors.New("cv: OpenCV version unavailable")
	}

	blank := gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC1)
	defer blank.Close()
	warm := &matBuffer{mat: blank}
	if _, err := lib.detect(warm, vision.HoughGradient, 1, 8, 100, 30, 1, 20); err != nil {
		return nil, fmt.Errorf("cv: warm-up detection failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return lib, nil
}

func (l *Library) Name() string { return Name + " " + l.version }

func (l *Library) FromImage(img image.Image) (vision.Buffer, error) {
	mat, err := toMat(img)
	if err != nil {
		mat.Close()
		return nil, err
	}
	return &matBuffer{mat: mat}, nil
}

func (l *Library) Grayscale(src vision.Buffer) (vision.Buffer, error) {
	in, err := asMat(src)
	if err != nil {
		return nil, err
	}
	gray := gocv.NewMat()
	if in.Channels() > 1 {
		gocv.CvtColor(in, &gray, gocv.ColorBGRToGray)
	} else {
		in.CopyTo(&gray)
	}
	return checked(gray, "grayscale")
}

func (l *Library) MedianBlur(src vision.Buffer, ksize int) (vision.Buffer, error) {
	in, err := asMat(src)
	if err != nil {
		return nil, err
	}
	dst := gocv.NewMat()
	gocv.MedianBlur(in, &dst, ksize)
	return checked(dst, "median blur")
}

func (l *Library) GaussianBlur(src vision.Buffer, ksize int) (vision.Buffer, error) {
	in, err := asMat(src)
	if err != nil {
		return nil, err
	}
	dst := gocv.NewMat()
	gocv.GaussianBlur(in, &dst, image.Point{X: ksize, Y: ksize}, 0, 0, gocv.BorderDefault)
	return checked(dst, "gaussian blur")
}

func (l *Library) DetectCircles(gray vision.Buffer, method vision.Method, dp, minDist, param1, param2 float64, minRadius, maxRadius int) ([]vision.Circle, error) {
	return l.detect(gray, method, dp, minDist, param1, param2, minRadius, maxRadius)
}

func (l *Library) detect(gray vision.Buffer, method vision.Method, dp, minDist, param1, param2 float64, minRadius, maxRadius int) ([]vision.Circle, error) {
	in, err := asMat(gray)
	if err != nil {
		return nil, err
	}
	if in.Channels() != 1 {
		return nil, fmt.Errorf("cv: circle detection needs a single-channel image, got %d channels", in.Channels())
	}

	// The result Mat is the detection-result buffer; it never leaves here.
	result := gocv.NewMat()
	defer result.Close()

	gocv.HoughCirclesWithParams(in, &result, gocv.HoughMode(method), dp, minDist, param1, param2, minRadius, maxRadius)

	if result.Empty() || result.Cols() == 0 {
		return nil, nil
	}
	circles := make([]vision.Circle, result.Cols())
	for i := range circles {
		circles[i] = vision.Circle{
			X:      result.GetFloatAt(0, i*3),
			Y:      result.GetFloatAt(0, i*3+1),
			Radius: result.GetFloatAt(0, i*3+2),
		}
	}
	return circles, nil
}

func (l *Library) Close() error { return nil }

type matBuffer struct {
	mat    gocv.Mat
	closed bool
}

func (b *matBuffer) Width() int  { return b.mat.Cols() }
func (b *matBuffer) Height() int { return b.mat.Rows() }

func (b *matBuffer) Image() (image.Image, error) {
	if b.closed {
		return nil, errors.New("cv: buffer already closed")
	}
	return b.mat.ToImage()
}

func (b *matBuffer) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.mat.Close()
}

func asMat(buf vision.Buffer) (gocv.Mat, error) {
	mb, ok := buf.(*matBuffer)
	if !ok {
		return gocv.Mat{}, fmt.Errorf("cv: foreign buffer type %T", buf)
	}
	if mb.closed {
		return gocv.Mat{}, errors.New("cv: buffer already closed")
	}
	if mb.mat.Empty() {
		return gocv.Mat{}, errors.New("cv: empty buffer")
	}
	return mb.mat, nil
}

// checked wraps dst as a buffer, or releases it and reports the failed step
// when OpenCV left it empty.
func checked(dst gocv.Mat, step string) (vision.Buffer, error) {
	if dst.Empty() {
		dst.Close()
		return nil, fmt.Errorf("cv: %s produced an empty Mat", step)
	}
	return &matBuffer{mat: dst}, nil
}
