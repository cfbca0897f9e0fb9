package native

import (
	"image"
	"math"
	"sort"

	"github.com/mikeyg42/circlecam/internal/vision"
)

type edgePoint struct {
	x, y   int
	dx, dy float64 // unit gradient direction
}

// houghCircles runs a two-stage gradient Hough transform:
//
//  1. Sobel gradients, thinned by non-maximum suppression, keep edge pixels
//     whose magnitude reaches param1. Directions come from a smoothed copy
//     so staircase edges still point at the true centre.
//  2. Every edge pixel votes for centres along its gradient line, both
//     directions, for each radius in range. Accumulator cells are dp pixels
//     wide.
//  3. Votes are summed over each cell's 3x3 neighbourhood. Local maxima of
//     that sum with at least param2 votes become centre candidates,
//     strongest first, dropping any closer than minDist to a kept centre.
//  4. Each centre's radius is the best-supported edge distance.
//
// Circles are returned in accumulator order, strongest first.
func houghCircles(g *image.Gray, dp, minDist, param1, param2 float64, minRadius, maxRadius int) []vision.Circle {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w < 5 || h < 5 {
		return nil
	}
	if dp < 1 {
		dp = 1
	}
	if minRadius < 1 {
		minRadius = 1
	}
	if limit := max(w, h); maxRadius <= 0 || maxRadius > limit {
		maxRadius = limit
	}
	if maxRadius < minRadius {
		return nil
	}

	edges := detectEdges(g, param1)
	if len(edges) == 0 {
		return nil
	}

	aw, ah := int(float64(w)/dp)+2, int(float64(h)/dp)+2
	acc := make([]int32, aw*ah)
	for _, e := range edges {
		for _, sign := range [2]float64{1, -1} {
			for r := minRadius; r <= maxRadius; r++ {
				cx := float64(e.x) + sign*e.dx*float64(r)
				cy := float64(e.y) + sign*e.dy*float64(r)
				if cx < 0 || cy < 0 || cx >= float64(w) || cy >= float64(h) {
					break
				}
				acc[int(cy/dp+0.5)*aw+int(cx/dp+0.5)]++
			}
		}
	}
	support := neighbourhoodSums(acc, aw, ah)

	type candidate struct {
		ax, ay int
		votes  int32
	}
	var candidates []candidate
	threshold := int32(math.Max(1, param2))
	for ay := 2; ay < ah-2; ay++ {
		for ax := 2; ax < aw-2; ax++ {
			v := support[ay*aw+ax]
			if v < threshold {
				continue
			}
			if isLocalMax(support, aw, ax, ay) {
				candidates = append(candidates, candidate{ax, ay, v})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].votes > candidates[j].votes })

	var circles []vision.Circle
	minDist2 := minDist * minDist
	for _, c := range candidates {
		cx, cy, ok := refineCentre(acc, aw, c.ax, c.ay, dp)
		if !ok {
			continue
		}

		tooClose := false
		for _, kept := range circles {
			dx, dy := float64(kept.X)-cx, float64(kept.Y)-cy
			if dx*dx+dy*dy < minDist2 {
				tooClose = true
				break
			}
		}
		if tooClose {
			continue
		}

		r, ok := estimateRadius(edges, cx, cy, minRadius, maxRadius)
		if !ok {
			continue
		}
		circles = append(circles, vision.Circle{X: float32(cx), Y: float32(cy), Radius: float32(r)})
	}
	return circles
}

// neighbourhoodSums returns the 3x3 box sum of acc. Border cells stay zero.
func neighbourhoodSums(acc []int32, aw, ah int) []int32 {
	out := make([]int32, len(acc))
	for ay := 1; ay < ah-1; ay++ {
		for ax := 1; ax < aw-1; ax++ {
			var s int32
			for dy := -1; dy <= 1; dy++ {
				row := (ay+dy)*aw + ax
				s += acc[row-1] + acc[row] + acc[row+1]
			}
			out[ay*aw+ax] = s
		}
	}
	return out
}

// detectEdges returns edge pixels after Sobel filtering and non-maximum
// suppression along the gradient direction.
func detectEdges(g *image.Gray, threshold float64) []edgePoint {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	raw := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			raw[y*w+x] = float64(g.Pix[y*g.Stride+x])
		}
	}
	smooth := binomial5(raw, w, h)

	mag := make([]float64, w*h)
	gxs := make([]float64, w*h)
	gys := make([]float64, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx, gy := sobel(raw, w, x, y)
			i := y*w + x
			mag[i] = math.Hypot(gx, gy)
			gxs[i], gys[i] = gx, gy
		}
	}

	var edges []edgePoint
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			m := mag[i]
			if m < threshold || m == 0 {
				continue
			}
			ox, oy := quantise(gxs[i], gys[i])
			if m < mag[(y+oy)*w+x+ox] || m < mag[(y-oy)*w+x-ox] {
				continue
			}
			sx, sy := sobel(smooth, w, x, y)
			sm := math.Hypot(sx, sy)
			if sm == 0 {
				continue
			}
			edges = append(edges, edgePoint{x: x, y: y, dx: sx / sm, dy: sy / sm})
		}
	}
	return edges
}

func sobel(p []float64, w, x, y int) (float64, float64) {
	at := func(x, y int) float64 { return p[y*w+x] }
	gx := (at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1)) - (at(x-1, y-1) + 2*at(x-1, y) + at(x-1, y+1))
	gy := (at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)) - (at(x-1, y-1) + 2*at(x, y-1) + at(x+1, y-1))
	return gx, gy
}

// binomial5 is a separable 5-tap [1 4 6 4 1]/16 blur with clamped borders.
func binomial5(p []float64, w, h int) []float64 {
	kernel := [5]float64{1, 4, 6, 4, 1}
	tmp := make([]float64, len(p))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var s float64
			for k, kv := range kernel {
				xx := min(max(x+k-2, 0), w-1)
				s += kv * p[y*w+xx]
			}
			tmp[y*w+x] = s / 16
		}
	}
	out := make([]float64, len(p))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var s float64
			for k, kv := range kernel {
				yy := min(max(y+k-2, 0), h-1)
				s += kv * tmp[yy*w+x]
			}
			out[y*w+x] = s / 16
		}
	}
	return out
}

// quantise maps a gradient to the neighbour offset closest to its direction.
func quantise(gx, gy float64) (int, int) {
	angle := math.Atan2(gy, gx) * 180 / math.Pi
	if angle < 0 {
		angle += 180
	}
	switch {
	case angle < 22.5 || angle >= 157.5:
		return 1, 0
	case angle < 67.5:
		return 1, 1
	case angle < 112.5:
		return 0, 1
	default:
		return -1, 1
	}
}

func isLocalMax(acc []int32, aw, ax, ay int) bool {
	v := acc[ay*aw+ax]
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			if acc[(ay+dy)*aw+ax+dx] > v {
				return false
			}
		}
	}
	return true
}

// refineCentre returns the vote-weighted centroid of the 3x3 neighbourhood
// in image pixels. Cell (ax, ay) is centred on pixel (ax*dp, ay*dp).
func refineCentre(acc []int32, aw, ax, ay int, dp float64) (float64, float64, bool) {
	var sum, sx, sy float64
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			v := float64(acc[(ay+dy)*aw+ax+dx])
			sum += v
			sx += v * float64(ax+dx)
			sy += v * float64(ay+dy)
		}
	}
	if sum == 0 {
		return 0, 0, false
	}
	return sx / sum * dp, sy / sum * dp, true
}

// estimateRadius picks the radius with the most edge support around
// (cx, cy). At least a fifth of the circumference must be present.
func estimateRadius(edges []edgePoint, cx, cy float64, minRadius, maxRadius int) (float64, bool) {
	hist := make([]int, maxRadius+2)
	for _, e := range edges {
		d := math.Hypot(float64(e.x)-cx, float64(e.y)-cy)
		r := int(d + 0.5)
		if r < minRadius || r > maxRadius {
			continue
		}
		hist[r]++
	}

	best, bestScore := 0, 0
	for r := minRadius; r <= maxRadius; r++ {
		score := hist[r] + hist[r-1] + hist[r+1]
		if score > bestScore {
			best, bestScore = r, score
		}
	}
	if best == 0 || float64(bestScore) < 0.2*2*math.Pi*float64(best) {
		return 0, false
	}

	var sum float64
	var n int
	for _, e := range edges {
		d := math.Hypot(float64(e.x)-cx, float64(e.y)-cy)
		if math.Abs(d-float64(best)) <= 1.5 {
			sum += d
			n++
		}
	}
	return sum / float64(n), true
}
