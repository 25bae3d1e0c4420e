package kernels

// distInf is a large sentinel standing in for the distance-transform's
// "infinity" initializer; kept well under int overflow for any W*H this
// pipeline will see.
const distInf = 1 << 28

// DistanceTransform computes the city-block (4-neighbor) chamfer distance
// transform of m: background pixels are distance 0, foreground pixels
// hold their integer distance to the nearest background pixel. Uses the
// standard two-pass (forward, then backward) chamfer per spec §4.1.
// Degenerate input (all-foreground or all-background) does not panic;
// an all-foreground mask yields every pixel at distInf, which callers
// must treat as "no background reachable".
func DistanceTransform(m *Mask) []int {
	w, h := m.W, m.H
	dist := make([]int, w*h)
	for i, v := range m.Pix {
		if v == 0 {
			dist[i] = 0
		} else {
			dist[i] = distInf
		}
	}

	// Forward pass: top-left -> bottom-right.
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if dist[idx] == 0 {
				continue
			}
			if x > 0 {
				if v := dist[idx-1] + 1; v < dist[idx] {
					dist[idx] = v
				}
			}
			if y > 0 {
				if v := dist[idx-w] + 1; v < dist[idx] {
					dist[idx] = v
				}
			}
		}
	}

	// Backward pass: bottom-right -> top-left.
	for y := h - 1; y >= 0; y-- {
		for x := w - 1; x >= 0; x-- {
			idx := y*w + x
			if dist[idx] == 0 {
				continue
			}
			if x < w-1 {
				if v := dist[idx+1] + 1; v < dist[idx] {
					dist[idx] = v
				}
			}
			if y < h-1 {
				if v := dist[idx+w] + 1; v < dist[idx] {
					dist[idx] = v
				}
			}
		}
	}

	return dist
}

// MaxFinite returns the largest value in dist that is below distInf, or 0
// if every value is distInf (an all-foreground mask with no background).
func MaxFinite(dist []int) int {
	best := 0
	for _, v := range dist {
		if v < distInf && v > best {
			best = v
		}
	}
	return best
}
