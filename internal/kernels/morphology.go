package kernels

import "sort"

// MedianFilter applies a square median filter of the given odd kernel
// size (radius = kernelSize/2) to g.
func MedianFilter(g *Gray, kernelSize int) *Gray {
	if kernelSize < 3 {
		return g.Clone()
	}
	r := kernelSize / 2
	out := NewGray(g.W, g.H)
	window := make([]uint8, 0, kernelSize*kernelSize)
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			window = window[:0]
			for dy := -r; dy <= r; dy++ {
				for dx := -r; dx <= r; dx++ {
					window = append(window, g.At(x+dx, y+dy))
				}
			}
			sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
			out.Set(x, y, window[len(window)/2])
		}
	}
	return out
}

// MaxFilter (grayscale dilation) replaces every pixel with the max value
// in its (2r+1)x(2r+1) neighborhood.
func MaxFilter(g *Gray, radius int) *Gray {
	if radius <= 0 {
		return g.Clone()
	}
	out := NewGray(g.W, g.H)
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			var best uint8
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					if v := g.At(x+dx, y+dy); v > best {
						best = v
					}
				}
			}
			out.Set(x, y, best)
		}
	}
	return out
}

// MinFilter (grayscale erosion) replaces every pixel with the min value
// in its (2r+1)x(2r+1) neighborhood. Out-of-bounds neighbors read as 0 via
// Gray.At, which would wrongly pull every border pixel toward 0; MinFilter
// instead clamps the window to the image bounds so erosion only looks at
// real pixels.
func MinFilter(g *Gray, radius int) *Gray {
	if radius <= 0 {
		return g.Clone()
	}
	out := NewGray(g.W, g.H)
	for y := 0; y < g.H; y++ {
		y0, y1 := clampWindow(y, radius, g.H)
		for x := 0; x < g.W; x++ {
			x0, x1 := clampWindow(x, radius, g.W)
			best := uint8(255)
			for yy := y0; yy < y1; yy++ {
				for xx := x0; xx < x1; xx++ {
					if v := g.At(xx, yy); v < best {
						best = v
					}
				}
			}
			out.Set(x, y, best)
		}
	}
	return out
}

func clampWindow(c, radius, limit int) (int, int) {
	lo := c - radius
	hi := c + radius + 1
	if lo < 0 {
		lo = 0
	}
	if hi > limit {
		hi = limit
	}
	return lo, hi
}

// MaskMaxFilter (binary dilation) returns the mask where any pixel in the
// (2r+1)x(2r+1) neighborhood is foreground.
func MaskMaxFilter(m *Mask, radius int) *Mask {
	if radius <= 0 {
		return m.Clone()
	}
	out := NewMask(m.W, m.H)
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			fg := false
			for dy := -radius; dy <= radius && !fg; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					if m.At(x+dx, y+dy) {
						fg = true
						break
					}
				}
			}
			out.Set(x, y, fg)
		}
	}
	return out
}

// MaskMinFilter (binary erosion) returns the mask where every pixel in the
// (2r+1)x(2r+1) neighborhood (clamped to image bounds) is foreground.
func MaskMinFilter(m *Mask, radius int) *Mask {
	if radius <= 0 {
		return m.Clone()
	}
	out := NewMask(m.W, m.H)
	for y := 0; y < m.H; y++ {
		y0, y1 := clampWindow(y, radius, m.H)
		for x := 0; x < m.W; x++ {
			x0, x1 := clampWindow(x, radius, m.W)
			all := true
			for yy := y0; yy < y1 && all; yy++ {
				for xx := x0; xx < x1; xx++ {
					if !m.At(xx, yy) {
						all = false
						break
					}
				}
			}
			out.Set(x, y, all)
		}
	}
	return out
}

// BinaryClosing performs MAX-then-MIN (dilate then erode) over a
// (2*radius+1) square kernel, per spec §4.4 S7.
func BinaryClosing(m *Mask, radius int) *Mask {
	if radius <= 0 {
		return m.Clone()
	}
	return MaskMinFilter(MaskMaxFilter(m, radius), radius)
}
