package kernels

// ResizeGray resamples g to w×h using bilinear interpolation. Used by the
// preview renderers to downscale before running an algorithm and upscale
// the result back (spec §4.5 "Preview renderers").
func ResizeGray(g *Gray, w, h int) *Gray {
	if w <= 0 || h <= 0 {
		return NewGray(0, 0)
	}
	if w == g.W && h == g.H {
		return g.Clone()
	}
	out := NewGray(w, h)
	if g.W == 0 || g.H == 0 {
		return out
	}
	sx := float64(g.W) / float64(w)
	sy := float64(g.H) / float64(h)
	for y := 0; y < h; y++ {
		fy := (float64(y)+0.5)*sy - 0.5
		y0 := clampCoord(int(fy), g.H)
		y1 := clampCoord(y0+1, g.H)
		ty := fy - float64(y0)
		if ty < 0 {
			ty = 0
		}
		for x := 0; x < w; x++ {
			fx := (float64(x)+0.5)*sx - 0.5
			x0 := clampCoord(int(fx), g.W)
			x1 := clampCoord(x0+1, g.W)
			tx := fx - float64(x0)
			if tx < 0 {
				tx = 0
			}
			v00 := float64(g.At(x0, y0))
			v10 := float64(g.At(x1, y0))
			v01 := float64(g.At(x0, y1))
			v11 := float64(g.At(x1, y1))
			top := v00 + (v10-v00)*tx
			bot := v01 + (v11-v01)*tx
			v := top + (bot-top)*ty
			out.Set(x, y, uint8(clampFloat01(v)))
		}
	}
	return out
}

func clampFloat01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

// ResizeMask resamples m to w×h using nearest-neighbor sampling, which
// preserves the binary {0, foreground} contract that bilinear
// interpolation would blur.
func ResizeMask(m *Mask, w, h int) *Mask {
	if w <= 0 || h <= 0 {
		return NewMask(0, 0)
	}
	if w == m.W && h == m.H {
		return m.Clone()
	}
	out := NewMask(w, h)
	if m.W == 0 || m.H == 0 {
		return out
	}
	sx := float64(m.W) / float64(w)
	sy := float64(m.H) / float64(h)
	for y := 0; y < h; y++ {
		sy2 := clampCoord(int((float64(y)+0.5)*sy), m.H)
		for x := 0; x < w; x++ {
			sx2 := clampCoord(int((float64(x)+0.5)*sx), m.W)
			out.Set(x, y, m.At(sx2, sy2))
		}
	}
	return out
}

// ScaledDims returns the dimensions w×h should take so its longest edge
// equals maxEdge, preserving aspect ratio. If w×h is already within
// budget, it is returned unchanged.
func ScaledDims(w, h, maxEdge int) (int, int) {
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxEdge || longest == 0 {
		return w, h
	}
	scale := float64(maxEdge) / float64(longest)
	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}
