package state

import (
	"fmt"
	"math"
	"sync"
)

// BlurKind selects the smoothing filter applied before detection.
type BlurKind string

const (
	BlurMedian   BlurKind = "median"
	BlurGaussian BlurKind = "gaussian"
)

// radiusGap is the distance kept between MinRadius and MaxRadius when one
// side is pushed past the other.
const radiusGap = 10

// MaxRadiusLimit caps both radii; it matches the largest accepted frame side.
const MaxRadiusLimit = 4096

// Params holds the tunable detection knobs.
type Params struct {
	EdgeThreshold        float64  `json:"edgeThreshold"`        // Canny upper threshold (param1)
	AccumulatorThreshold float64  `json:"accumulatorThreshold"` // accumulator votes (param2)
	MinRadius            int      `json:"minRadius"`
	MaxRadius            int      `json:"maxRadius"`
	BlurKernel           int      `json:"blurKernel"`
	Blur                 BlurKind `json:"blur"`
	DP                   float64  `json:"dp"`
	Debug                bool     `json:"debug"`
}

// DefaultParams returns the parameters the UI sliders start at.
func DefaultParams() Params {
	return Params{
		EdgeThreshold:        100,
		AccumulatorThreshold: 30,
		MinRadius:            10,
		MaxRadius:            100,
		BlurKernel:           5,
		Blur:                 BlurMedian,
		DP:                   1,
	}
}

// MinDist is the minimum distance between detected centres for a frame of
// the given height.
func (p Params) MinDist(frameHeight int) float64 {
	return math.Max(float64(frameHeight)/16, 2*float64(p.MinRadius))
}

// Update is a partial parameter change; nil fields are left untouched.
type Update struct {
	EdgeThreshold        *float64  `json:"edgeThreshold,omitempty"`
	AccumulatorThreshold *float64  `json:"accumulatorThreshold,omitempty"`
	MinRadius            *int      `json:"minRadius,omitempty"`
	MaxRadius            *int      `json:"maxRadius,omitempty"`
	BlurKernel           *int      `json:"blurKernel,omitempty"`
	Blur                 *BlurKind `json:"blur,omitempty"`
	DP                   *float64  `json:"dp,omitempty"`
	Debug                *bool     `json:"debug,omitempty"`
}

// ParamStore guards Params for concurrent UI writers and the frame loop.
type ParamStore struct {
	mu sync.RWMutex
	p  Params
}

func NewParamStore(p Params) *ParamStore {
	s := &ParamStore{p: p}
	s.p.BlurKernel = oddKernel(p.BlurKernel)
	s.setMaxRadius(p.MaxRadius)
	s.setMinRadius(p.MinRadius)
	return s
}

// Snapshot returns a copy of the current parameters.
func (s *ParamStore) Snapshot() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p
}

// SetMinRadius sets the minimum radius. A value at or above MaxRadius raises
// MaxRadius to MinRadius+10.
func (s *ParamStore) SetMinRadius(v int) Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setMinRadius(v)
	return s.p
}

// SetMaxRadius sets the maximum radius. A value at or below MinRadius lowers
// MinRadius to MaxRadius-10, floored at zero.
func (s *ParamStore) SetMaxRadius(v int) Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setMaxRadius(v)
	return s.p
}

func (s *ParamStore) setMinRadius(v int) {
	v = min(max(v, 0), MaxRadiusLimit-radiusGap)
	s.p.MinRadius = v
	if s.p.MinRadius >= s.p.MaxRadius {
		s.p.MaxRadius = s.p.MinRadius + radiusGap
	}
}

func (s *ParamStore) setMaxRadius(v int) {
	v = min(max(v, 1), MaxRadiusLimit)
	s.p.MaxRadius = v
	if s.p.MaxRadius <= s.p.MinRadius {
		s.p.MinRadius = max(0, s.p.MaxRadius-radiusGap)
	}
}

// Apply merges u into the current parameters and returns the result.
func (s *ParamStore) Apply(u Update) (Params, error) {
	if u.Blur != nil && *u.Blur != BlurMedian && *u.Blur != BlurGaussian {
		return s.Snapshot(), fmt.Errorf("unknown blur filter %q", *u.Blur)
	}
	if u.DP != nil && *u.DP < 1 {
		return s.Snapshot(), fmt.Errorf("dp must be >= 1, got %v", *u.DP)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if u.EdgeThreshold != nil {
		s.p.EdgeThreshold = math.Max(1, *u.EdgeThreshold)
	}
	if u.AccumulatorThreshold != nil {
		s.p.AccumulatorThreshold = math.Max(1, *u.AccumulatorThreshold)
	}
	if u.MinRadius != nil {
		s.setMinRadius(*u.MinRadius)
	}
	if u.MaxRadius != nil {
		s.setMaxRadius(*u.MaxRadius)
	}
	if u.BlurKernel != nil {
		s.p.BlurKernel = oddKernel(*u.BlurKernel)
	}
	if u.Blur != nil {
		s.p.Blur = *u.Blur
	}
	if u.DP != nil {
		s.p.DP = *u.DP
	}
	if u.Debug != nil {
		s.p.Debug = *u.Debug
	}
	return s.p, nil
}

// oddKernel forces a blur aperture to an odd size of at least 3.
func oddKernel(k int) int {
	if k < 3 {
		return 3
	}
	if k%2 == 0 {
		return k + 1
	}
	return k
}
