package render

import (
	"errors"
	"image"
	"io"
	"sync"

	"github.com/disintegration/imaging"
)

// ErrNoFrame is returned before anything has been rendered.
var ErrNoFrame = errors.New("render: no frame rendered yet")

// Surface is the fixed-size render target. Its size follows the negotiated
// stream dimensions; the API serves its latest image.
type Surface struct {
	mu     sync.RWMutex
	width  int
	height int
	latest *image.NRGBA
	seq    int64
}

func NewSurface() *Surface { return &Surface{} }

// Resize sets the surface size and drops the previous image.
func (s *Surface) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width, s.height = width, height
	s.latest = nil
}

// Size returns the surface dimensions; zero before the first stream.
func (s *Surface) Size() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height
}

// Fit returns img scaled to the surface size. Images already matching, or
// any image while the surface has no size, are returned unchanged.
func (s *Surface) Fit(img image.Image) image.Image {
	w, h := s.Size()
	b := img.Bounds()
	if w == 0 || h == 0 || (b.Dx() == w && b.Dy() == h) {
		return img
	}
	return imaging.Resize(img, w, h, imaging.Linear)
}

// Present publishes a rendered frame. The surface takes ownership of img.
func (s *Surface) Present(img *image.NRGBA) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = img
	s.seq++
}

// Latest returns the last presented image and its sequence number.
func (s *Surface) Latest() (*image.NRGBA, int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.seq, s.latest != nil
}

// EncodeJPEG writes the latest image as JPEG.
func (s *Surface) EncodeJPEG(w io.Writer, quality int) error {
	img, _, ok := s.Latest()
	if !ok {
		return ErrNoFrame
	}
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
}
