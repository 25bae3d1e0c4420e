package kernels

import "math"

// LaplacianVariance returns the sample variance of the 4-neighbor
// Laplacian response over the interior of g, computed with a running
// Welford accumulator to avoid a second pass (spec §4.1). Degenerate
// (< 3x3) input returns 0.
func LaplacianVariance(g *Gray) float64 {
	if g.W < 3 || g.H < 3 {
		return 0
	}

	var mean, m2 float64
	var n float64

	for y := 1; y < g.H-1; y++ {
		for x := 1; x < g.W-1; x++ {
			center := float64(g.At(x, y))
			lap := float64(g.At(x-1, y)) + float64(g.At(x+1, y)) +
				float64(g.At(x, y-1)) + float64(g.At(x, y+1)) - 4*center

			n++
			delta := lap - mean
			mean += delta / n
			delta2 := lap - mean
			m2 += delta * delta2
		}
	}

	if n < 2 {
		return 0
	}
	variance := m2 / (n - 1)
	if math.IsNaN(variance) || math.IsInf(variance, 0) {
		return 0
	}
	return variance
}
