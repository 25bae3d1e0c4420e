// Package kernels implements C1: the deterministic, side-effect-free
// pixel kernels shared by every stage executor — Otsu threshold, Sobel
// magnitude, Laplacian variance, CLAHE approximation, grayscale LUTs,
// morphological filters, connected components, geodesic reconstruction,
// distance transform, thinning, contour tracing, polygon simplification,
// Bresenham lines, Dijkstra, and priority-flood watershed.
//
// All kernels operate on row-major 8-bit buffers (Gray) or boolean masks
// (Mask) of identical shape, reject NaN/Inf by falling back to a
// documented default, and never panic on degenerate input.
package kernels

import "image"

// Gray is a row-major 8-bit grayscale buffer, stride == W.
type Gray struct {
	W, H int
	Pix  []uint8
}

// NewGray allocates a zeroed W×H buffer.
func NewGray(w, h int) *Gray {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return &Gray{W: w, H: h, Pix: make([]uint8, w*h)}
}

// At returns the pixel at (x, y), or 0 if out of bounds.
func (g *Gray) At(x, y int) uint8 {
	if x < 0 || y < 0 || x >= g.W || y >= g.H {
		return 0
	}
	return g.Pix[y*g.W+x]
}

// Set writes the pixel at (x, y) if in bounds; otherwise a no-op.
func (g *Gray) Set(x, y int, v uint8) {
	if x < 0 || y < 0 || x >= g.W || y >= g.H {
		return
	}
	g.Pix[y*g.W+x] = v
}

// Clone returns a deep copy.
func (g *Gray) Clone() *Gray {
	out := &Gray{W: g.W, H: g.H, Pix: make([]uint8, len(g.Pix))}
	copy(out.Pix, g.Pix)
	return out
}

// FromImage converts a standard library image.Image to a Gray buffer via
// the Rec. 601 luma transform image.Gray already applies when the source
// model differs.
func FromImage(src image.Image) *Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	out := NewGray(w, h)
	if gray, ok := src.(*image.Gray); ok {
		for y := 0; y < h; y++ {
			srcRow := gray.Pix[(y)*gray.Stride : (y)*gray.Stride+w]
			copy(out.Pix[y*w:y*w+w], srcRow)
		}
		return out
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g2, bl, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			lum := (299*r + 587*g2 + 114*bl + 500) / 1000
			out.Pix[y*w+x] = uint8(lum >> 8)
		}
	}
	return out
}

// ToImage converts a Gray buffer to a standard library *image.Gray.
func (g *Gray) ToImage() *image.Gray {
	out := image.NewGray(image.Rect(0, 0, g.W, g.H))
	for y := 0; y < g.H; y++ {
		copy(out.Pix[y*out.Stride:y*out.Stride+g.W], g.Pix[y*g.W:y*g.W+g.W])
	}
	return out
}

// Mask is a row-major boolean foreground/background buffer of the same
// shape contract as Gray. Pix[i] != 0 means foreground.
type Mask struct {
	W, H int
	Pix  []uint8
}

// NewMask allocates a zeroed (all-background) W×H mask.
func NewMask(w, h int) *Mask {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return &Mask{W: w, H: h, Pix: make([]uint8, w*h)}
}

// At reports whether (x, y) is foreground; out-of-bounds reads as background.
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.W || y >= m.H {
		return false
	}
	return m.Pix[y*m.W+x] != 0
}

// Set writes the foreground flag at (x, y) if in bounds.
func (m *Mask) Set(x, y int, fg bool) {
	if x < 0 || y < 0 || x >= m.W || y >= m.H {
		return
	}
	if fg {
		m.Pix[y*m.W+x] = 1
	} else {
		m.Pix[y*m.W+x] = 0
	}
}

// Clone returns a deep copy.
func (m *Mask) Clone() *Mask {
	out := &Mask{W: m.W, H: m.H, Pix: make([]uint8, len(m.Pix))}
	copy(out.Pix, m.Pix)
	return out
}

// CountForeground returns the number of foreground pixels.
func (m *Mask) CountForeground() int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// MaskFromGray reads a binary mask PNG per the §9 "Mask serialization"
// contract: any value >= 128 is read as foreground (1).
func MaskFromGray(g *Gray) *Mask {
	out := NewMask(g.W, g.H)
	for i, v := range g.Pix {
		if v >= 128 {
			out.Pix[i] = 1
		}
	}
	return out
}

// ToGray writes a binary mask as an 8-bit buffer with values strictly
// {0, 255}, normalizing any foreground flag to 255 on write.
func (m *Mask) ToGray() *Gray {
	out := NewGray(m.W, m.H)
	for i, v := range m.Pix {
		if v != 0 {
			out.Pix[i] = 255
		}
	}
	return out
}

// Union returns the pixelwise OR of m and other (same shape assumed).
func (m *Mask) Union(other *Mask) *Mask {
	out := NewMask(m.W, m.H)
	for i := range out.Pix {
		if m.Pix[i] != 0 || other.Pix[i] != 0 {
			out.Pix[i] = 1
		}
	}
	return out
}

// AndNot returns m AND NOT other (same shape assumed).
func (m *Mask) AndNot(other *Mask) *Mask {
	out := NewMask(m.W, m.H)
	for i := range out.Pix {
		if m.Pix[i] != 0 && other.Pix[i] == 0 {
			out.Pix[i] = 1
		}
	}
	return out
}
